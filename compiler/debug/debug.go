// Package debug builds source-level debug metadata for emitted code:
// compile unit, files, subprograms, lexical blocks and locations
// with their inlined-at chains.
package debug

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

type (
	// Scope is one of *CompileUnit, *TypeScope, *Subprogram, *LexicalBlock.
	Scope interface {
		ScopeName() string
	}

	CompileUnit struct {
		ID       uuid.UUID
		Producer string
		File     *File
	}

	File struct {
		Name string
		Dir  string
	}

	// TypeScope is the containing type of a method.
	TypeScope struct {
		Name  string
		Scope Scope
	}

	Subprogram struct {
		Name        string
		LinkageName string

		Scope Scope
		File  *File
		Line  int
		Type  *tp.Func

		Local      bool
		Definition bool

		Method *ir.Method
	}

	LexicalBlock struct {
		Scope Scope
		File  *File
		Line  int
		Col   int
	}

	Location struct {
		Line int
		Col  int

		Scope     Scope
		InlinedAt *Location
	}

	LocalVariable struct {
		Name  string
		Scope Scope
		File  *File
		Line  int
		Type  tp.Type

		Arg int // 1-based argument number, 0 for locals
	}

	// Builder owns debug nodes of one compilation unit.
	// Nodes are memoized so equal inputs give the same pointer.
	Builder struct {
		CU *CompileUnit

		mu    sync.Mutex
		files map[string]*File
		types map[string]*TypeScope
		subs  map[*ir.Method]*Subprogram
	}
)

// Namespace is the uuid namespace compile unit ids are derived in.
var Namespace = uuid.MustParse("5c1d0a6e-7f4b-4a38-9d5e-0b7c2f3a1e94")

const Producer = "llinl"

// NewBuilder creates a builder for the unit named name,
// usually the main source file.
func NewBuilder(name string) *Builder {
	b := &Builder{
		files: make(map[string]*File),
		types: make(map[string]*TypeScope),
		subs:  make(map[*ir.Method]*Subprogram),
	}

	b.CU = &CompileUnit{
		ID:       uuid.NewSHA1(Namespace, []byte(name)),
		Producer: Producer,
		File:     b.FileFor(name),
	}

	return b
}

func (b *Builder) FileFor(name string) *File {
	defer b.mu.Unlock()
	b.mu.Lock()

	return b.file(name)
}

func (b *Builder) file(name string) *File {
	if f, ok := b.files[name]; ok {
		return f
	}

	f := &File{Name: filepath.Base(name), Dir: filepath.Dir(name)}
	b.files[name] = f

	return f
}

// SubprogramFor returns the function scope of m.
func (b *Builder) SubprogramFor(m *ir.Method) *Subprogram {
	defer b.mu.Unlock()
	b.mu.Lock()

	if s, ok := b.subs[m]; ok {
		return s
	}

	var scope Scope = b.CU

	if m.Owner != "" {
		t, ok := b.types[m.Owner]
		if !ok {
			t = &TypeScope{Name: m.Owner, Scope: b.CU}
			b.types[m.Owner] = t
		}

		scope = t
	}

	s := &Subprogram{
		Name:        m.Name,
		LinkageName: m.FullName(),
		Scope:       scope,
		Type:        m.Type,
		Definition:  true,
		Method:      m,
	}

	if m.Debug != nil {
		s.File = b.file(m.Debug.File)
		s.Line = m.Debug.BeginLine
	} else {
		s.File = b.CU.File
	}

	b.subs[m] = s

	return s
}

func (b *Builder) LexicalBlock(scope Scope, di *ir.DebugInfo) *LexicalBlock {
	l := &LexicalBlock{Scope: scope}

	if di != nil {
		l.File = b.FileFor(di.File)
		l.Line = di.BeginLine
		l.Col = di.BeginCol
	}

	return l
}

// Location converts di into a location in scope.
// Nil di is line 0 column 0.
func (b *Builder) Location(di *ir.DebugInfo, scope Scope, inlinedAt *Location) *Location {
	l := &Location{Scope: scope, InlinedAt: inlinedAt}

	if di != nil {
		l.Line = di.BeginLine
		l.Col = di.BeginCol
	}

	return l
}

func (b *Builder) LocalVariable(scope Scope, name string, arg int, t tp.Type, di *ir.DebugInfo) *LocalVariable {
	v := &LocalVariable{Name: name, Scope: scope, Type: t, Arg: arg}

	if di != nil {
		v.File = b.FileFor(di.File)
		v.Line = di.BeginLine
	}

	return v
}

// Outermost follows the inlined-at chain to its end.
func (l *Location) Outermost() *Location {
	for l.InlinedAt != nil {
		l = l.InlinedAt
	}

	return l
}

// Depth is the number of locations in the chain.
func (l *Location) Depth() (n int) {
	for ; l != nil; l = l.InlinedAt {
		n++
	}

	return n
}

// SubprogramOf returns the function the scope belongs to or nil.
func SubprogramOf(s Scope) *Subprogram {
	for {
		switch x := s.(type) {
		case *Subprogram:
			return x
		case *LexicalBlock:
			s = x.Scope
		default:
			return nil
		}
	}
}

func (c *CompileUnit) ScopeName() string  { return c.File.Name }
func (t *TypeScope) ScopeName() string    { return t.Name }
func (s *Subprogram) ScopeName() string   { return s.LinkageName }
func (l *LexicalBlock) ScopeName() string { return fmt.Sprintf("%s:%d:%d", l.Scope.ScopeName(), l.Line, l.Col) }

func (l *Location) String() string {
	if l == nil {
		return "<noloc>"
	}

	if l.InlinedAt == nil {
		return fmt.Sprintf("%d:%d@%s", l.Line, l.Col, l.Scope.ScopeName())
	}

	return fmt.Sprintf("%d:%d@%s inlined at %v", l.Line, l.Col, l.Scope.ScopeName(), l.InlinedAt)
}
