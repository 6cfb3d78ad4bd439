package ir

import (
	"fmt"
	"path/filepath"

	"tlog.app/go/loc"
)

type (
	FaultKind uint8

	// Fault is an internal compiler defect: malformed input IR or an
	// unimplemented combination. It aborts the compilation unit.
	Fault struct {
		Kind FaultKind
		Msg  string
		PC   loc.PC
	}
)

const (
	_ FaultKind = iota
	TypeConsistency
	AssertionFailed
	Unsupported
	InvalidOffset
)

func NewFault(k FaultKind, format string, args ...any) *Fault {
	return &Fault{
		Kind: k,
		Msg:  fmt.Sprintf(format, args...),
		PC:   loc.Caller(1),
	}
}

func (f *Fault) Error() string {
	_, file, line := f.PC.NameFileLine()

	return fmt.Sprintf("%v: %s (%s:%d)", f.Kind, f.Msg, filepath.Base(file), line)
}

func (k FaultKind) String() string {
	switch k {
	case TypeConsistency:
		return "type consistency"
	case AssertionFailed:
		return "assertion failed"
	case Unsupported:
		return "unsupported"
	case InvalidOffset:
		return "invalid offset"
	default:
		return "fault"
	}
}
