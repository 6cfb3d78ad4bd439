// Package ir is the graph model the inliner and the code generator work on:
// operators inside basic blocks inside a control-flow graph, over typed
// variables. Nodes live in per-graph arenas and are referred to by index.
package ir

import (
	"github.com/smaillet-ms/llilum/compiler/cc"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

type (
	VarID   int
	OpID    int
	BlockID int

	BuildFlags uint32

	// Method is owned by the type system. The core only reads it.
	Method struct {
		ID    int
		Name  string
		Owner string

		Flags BuildFlags
		Attrs map[string]int64

		Debug *DebugInfo

		Type     *tp.Func
		ArgNames []string
		Static   bool
	}

	DebugInfo struct {
		File      string
		BeginLine int
		BeginCol  int
		EndLine   int
		EndCol    int
	}

	VarKind uint8

	Variable struct {
		Kind VarKind
		Type tp.Type
		Name string

		Number   int   // Argument
		Register int   // PhysicalRegister
		Target   VarID // Phi

		SkipRefCounting bool
		RefOnly         bool

		Annotated
	}

	Opcode uint8

	Operator struct {
		Op     Opcode
		Sub    int
		Signed bool

		Block BlockID
		Debug *DebugInfo

		Results []VarID
		Args    []VarID

		Target  *Method
		Targets []BlockID
		Cases   []int64
		Imm     int64
		Type    tp.Type

		Set, Reset []cc.Constraint

		Annotated
	}

	BlockKind uint8

	BasicBlock struct {
		Kind        BlockKind
		ProtectedBy []BlockID
		Handler     bool

		Ops []OpID
	}

	Graph struct {
		Method *Method

		Vars   []Variable
		Ops    []Operator
		Blocks []BasicBlock

		Entry BlockID
		Exit  BlockID

		// Constraints declared for the method entry.
		Constraints cc.Set
	}
)

const (
	NoVar   VarID   = -1
	NoOp    OpID    = -1
	NoBlock BlockID = -1
)

const (
	Inline BuildFlags = 1 << iota
	NoInline
	NoReturn
	BottomOfCallStack
	CanAllocateOnReturn
	StackAvailableOnReturn
)

const StackAlignmentAttr = "StackAlignment"

const (
	_ VarKind = iota
	Argument
	Local
	Temporary
	PhysicalRegister
	Phi
	ExceptionObject
)

const (
	Normal BlockKind = iota
	EntryBlock
	ExitBlock
)

func (m *Method) Has(f BuildFlags) bool {
	return m != nil && m.Flags&f != 0
}

func (m *Method) Attr(name string) (int64, bool) {
	if m == nil || m.Attrs == nil {
		return 0, false
	}

	v, ok := m.Attrs[name]

	return v, ok
}

func (m *Method) FullName() string {
	if m.Owner == "" {
		return m.Name
	}

	return m.Owner + "." + m.Name
}

func (m *Method) String() string {
	if m == nil {
		return "<nil>"
	}

	return m.FullName()
}

func (k VarKind) String() string {
	switch k {
	case Argument:
		return "arg"
	case Local:
		return "local"
	case Temporary:
		return "temp"
	case PhysicalRegister:
		return "reg"
	case Phi:
		return "phi"
	case ExceptionObject:
		return "exc"
	default:
		return "var(?)"
	}
}

func (k BlockKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case EntryBlock:
		return "entry"
	case ExitBlock:
		return "exit"
	default:
		return "kind(?)"
	}
}
