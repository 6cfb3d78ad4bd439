// Package back is the native code model the compiler lowers into:
// interned native types, functions made of basic blocks of typed SSA
// instructions, each carrying its source location, and debug metadata.
package back

import (
	"strconv"

	"github.com/hashicorp/go-multierror"
	"tlog.app/go/errors"

	"github.com/smaillet-ms/llilum/compiler/debug"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

type (
	Module struct {
		Name string

		// Debug is nil if debug info is off.
		Debug *debug.Builder

		Funcs []*Function

		funcs map[*ir.Method]*Function
		types map[string]*Type
	}

	Function struct {
		Module *Module
		Method *ir.Method

		Name string
		Type *Type
		Sem  *tp.Func

		Attrs      []string
		StackAlign int64

		Sub *debug.Subprogram

		Value  *Value
		Params []*Value
		Blocks []*Block
		Locals []*Local

		allocas int
		names   map[string]int
		next    int
	}

	Local struct {
		Slot *Value
		Var  *debug.LocalVariable
	}
)

func NewModule(name string, withDebug bool) *Module {
	m := &Module{
		Name:  name,
		funcs: make(map[*ir.Method]*Function),
		types: make(map[string]*Type),
	}

	if withDebug {
		m.Debug = debug.NewBuilder(name)
	}

	return m
}

// Function returns the function for md creating it on the first call.
func (m *Module) Function(md *ir.Method) *Function {
	if f, ok := m.funcs[md]; ok {
		return f
	}

	sig := md.Type
	if sig == nil {
		sig = &tp.Func{}
	}

	f := &Function{
		Module: m,
		Method: md,
		Name:   md.FullName(),
		Sem:    sig,
		names:  make(map[string]int),
	}

	params := make([]*Type, len(sig.In))
	for i, t := range sig.In {
		params[i] = m.Native(t)
	}

	f.Type = m.Func(m.returnType(sig.Out), params...)
	f.Value = &Value{Name: f.Name, Type: m.Ptr(f.Type), Sem: sig, Func: f}

	f.Attrs, f.StackAlign = attributes(md)

	if m.Debug != nil {
		f.Sub = m.Debug.SubprogramFor(md)
	}

	for i, t := range sig.In {
		name := ""
		if i < len(md.ArgNames) {
			name = md.ArgNames[i]
		}

		if name == "" {
			name = "$ARG" + strconv.Itoa(i)
		}

		f.Params = append(f.Params, f.newValue(name, params[i], t))
	}

	m.Funcs = append(m.Funcs, f)
	m.funcs[md] = f

	return f
}

func (m *Module) returnType(out []tp.Type) *Type {
	switch len(out) {
	case 0:
		return m.Void()
	case 1:
		return m.Native(out[0])
	}

	fs := make([]*Type, len(out))
	for i, t := range out {
		fs[i] = m.Native(t)
	}

	return m.Struct("", fs...)
}

func attributes(md *ir.Method) (attrs []string, align int64) {
	if md.Has(ir.Inline) {
		attrs = append(attrs, "alwaysinline")
	}

	if md.Has(ir.NoInline) {
		attrs = append(attrs, "noinline")
	}

	if md.Has(ir.BottomOfCallStack) {
		attrs = append(attrs, "naked")
	}

	if md.Has(ir.NoReturn) {
		attrs = append(attrs, "noreturn")
	}

	if a, ok := md.Attr(ir.StackAlignmentAttr); ok && a > 0 {
		align = a
		attrs = append(attrs, "alignstack("+strconv.FormatInt(a, 10)+")")
	}

	return attrs, align
}

func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: f.unique(name), Func: f}
	f.Blocks = append(f.Blocks, b)

	return b
}

// InsertAlloca allocates a stack slot for a variable of type t at the top
// of the entry block. Named slots get a local variable record when debug
// info is on. arg is the 1-based argument number or 0 for locals.
func (f *Function) InsertAlloca(name string, t tp.Type, arg int, di *ir.DebugInfo) (*Value, error) {
	if len(f.Blocks) == 0 {
		return nil, ir.NewFault(ir.AssertionFailed, "%v: alloca before entry block", f.Name)
	}

	m := f.Module
	entry := f.Blocks[0]

	slot := f.newValue(name, m.Ptr(m.Native(t)), tp.Ptr{X: t})
	in := &Instr{Op: OpAlloca, Result: slot, Type: m.Native(t), Loc: entry.loc}
	slot.Instr = in

	entry.insertAt(f.allocas, in)
	f.allocas++

	l := &Local{Slot: slot}
	f.Locals = append(f.Locals, l)

	if name == "" || m.Debug == nil {
		return slot, nil
	}

	l.Var = m.Debug.LocalVariable(f.Sub, name, arg, t, di)

	decl := &Instr{Op: OpDeclare, Args: []*Value{slot}, Var: l.Var, Loc: m.Debug.Location(di, f.Sub, nil)}

	entry.insertAt(f.allocas, decl)
	f.allocas++

	return slot, nil
}

func (f *Function) newValue(name string, t *Type, sem tp.Type) *Value {
	return &Value{Name: f.unique(name), Type: t, Sem: sem}
}

func (f *Function) unique(name string) string {
	if name == "" {
		f.next++

		return strconv.Itoa(f.next)
	}

	n := f.names[name]
	f.names[name] = n + 1

	if n == 0 {
		return name
	}

	return name + "." + strconv.Itoa(n)
}

// Verify checks every function and reports all problems found.
func (m *Module) Verify() error {
	var errs *multierror.Error

	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}

		for _, b := range f.Blocks {
			if len(b.Instrs) == 0 || !b.Instrs[len(b.Instrs)-1].Op.IsTerminator() {
				errs = multierror.Append(errs, errors.New("%v: block %v is not terminated", f.Name, b.Name))
			}

			if m.Debug == nil {
				continue
			}

			for _, in := range b.Instrs {
				if in.Loc == nil {
					errs = multierror.Append(errs, errors.New("%v: block %v: %v has no location", f.Name, b.Name, in.Op))
					continue
				}

				if sp := debug.SubprogramOf(in.Loc.Outermost().Scope); sp != f.Sub {
					errs = multierror.Append(errs, errors.New("%v: block %v: %v located in %v", f.Name, b.Name, in.Op, in.Loc))
				}
			}
		}
	}

	return errs.ErrorOrNil()
}
