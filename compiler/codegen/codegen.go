// Package codegen lowers method graphs into backend functions.
//
// Every variable lives in a stack slot allocated in the function prologue.
// Each operator is emitted at the source location rebuilt from its inlining
// path so inlined code keeps its inlined-at chain.
package codegen

import (
	"context"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/back"
	"github.com/smaillet-ms/llilum/compiler/debug"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

type gen struct {
	m *back.Module
	g *ir.Graph
	f *back.Function

	blocks []*back.Block
	slots  []*back.Value
}

// Function emits g into m.
func Function(ctx context.Context, m *back.Module, g *ir.Graph) (f *back.Function, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "codegen", "method", g.Method)
	defer tr.Finish("err", &err)

	f = m.Function(g.Method)

	if len(f.Blocks) != 0 {
		return nil, errors.New("%v: already generated", f.Name)
	}

	reach := g.Reachable(g.Entry)
	if len(reach) == 0 {
		return nil, ir.NewFault(ir.AssertionFailed, "%v: no entry block", g.Method)
	}

	x := &gen{
		m:      m,
		g:      g,
		f:      f,
		blocks: make([]*back.Block, len(g.Blocks)),
		slots:  make([]*back.Value, len(g.Vars)),
	}

	prologue := f.NewBlock("entry")
	prologue.EnsureLocation()

	for _, id := range reach {
		x.blocks[id] = f.NewBlock("bb" + strconv.Itoa(int(id)))
	}

	err = x.allocate(prologue)
	if err != nil {
		return nil, errors.Wrap(err, "%v: allocate", g.Method)
	}

	prologue.Br(x.blocks[g.Entry])

	for _, id := range reach {
		err = x.block(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "%v: block %d", g.Method, id)
		}
	}

	if tr.If("dump_codegen") {
		tr.Printw("function", "method", g.Method, "text", f.Module.Print(nil), tlog.FormatNext("\n%s"))
	}

	return f, nil
}

func (x *gen) allocate(prologue *back.Block) error {
	g := x.g

	for id := range g.Vars {
		v := &g.Vars[id]

		if v.Kind == ir.Phi {
			continue
		}

		if v.Type == nil {
			return ir.NewFault(ir.TypeConsistency, "variable %s has no type", g.VarName(ir.VarID(id)))
		}

		var name string
		var arg int

		switch v.Kind {
		case ir.Argument:
			name, arg = v.Name, v.Number+1
		case ir.Local:
			name = v.Name
		}

		slot, err := x.f.InsertAlloca(name, v.Type, arg, g.Method.Debug)
		if err != nil {
			return err
		}

		x.slots[id] = slot

		if v.Kind != ir.Argument {
			continue
		}

		if v.Number < 0 || v.Number >= len(x.f.Params) {
			return ir.NewFault(ir.TypeConsistency, "argument %s number %d out of %d", g.VarName(ir.VarID(id)), v.Number, len(x.f.Params))
		}

		err = prologue.Store(x.f.Params[v.Number], slot)
		if err != nil {
			return err
		}
	}

	for id := range g.Vars {
		t := ir.VarID(id)

		for g.Vars[t].Kind == ir.Phi {
			t = g.Vars[t].Target

			if t == ir.NoVar {
				return ir.NewFault(ir.TypeConsistency, "phi %s has no target", g.VarName(ir.VarID(id)))
			}
		}

		x.slots[id] = x.slots[t]
	}

	return nil
}

func (x *gen) block(ctx context.Context, id ir.BlockID) (err error) {
	b := x.blocks[id]

	for _, opid := range x.g.Block(id).Ops {
		op := x.g.Op(opid)

		err = x.locate(b, op)
		if err != nil {
			return errors.Wrap(err, "locate %v", op.Name())
		}

		err = x.operator(b, op)
		if err != nil {
			return errors.Wrap(err, "%s", x.g.DumpOperator(nil, opid))
		}

		if tr := tlog.SpanFromContext(ctx); tr.If("codegen_op") {
			tr.Printw("operator", "block", id, "op", op.Name(), "loc", b.Location().String())
		}
	}

	if !b.Terminated() {
		return ir.NewFault(ir.AssertionFailed, "block %d has no flow control", id)
	}

	return nil
}

// locate sets the location of the operator about to be emitted.
// Operators without debug info or inlining path keep the current one.
func (x *gen) locate(b *back.Block, op *ir.Operator) error {
	if x.m.Debug == nil {
		return nil
	}

	path := annot.Get(&op.Annotated)

	if op.Debug == nil && path == nil {
		b.EnsureLocation()
		return nil
	}

	l, err := debug.LocationFor(x.m.Debug, path, x.g.Method, op.Debug)
	if err != nil {
		return err
	}

	b.SetLocation(l)

	return nil
}

func (x *gen) operator(b *back.Block, op *ir.Operator) error {
	switch op.Op {
	case ir.OpNop, ir.OpConstraints:
		return nil
	case ir.OpAssign:
		return x.unary(b, op, func(v *back.Value) (*back.Value, error) { return v, nil })
	case ir.OpInit:
		if err := need(op, 0, 1); err != nil {
			return err
		}

		return x.zero(b, op.Results[0])
	case ir.OpConst:
		if err := need(op, 0, 1); err != nil {
			return err
		}

		t := x.g.Var(op.Results[0]).Type

		c := x.m.ConstInt(t, op.Imm)
		if tp.IsFloat(t) {
			c = x.m.ConstFloat(t, float64(op.Imm))
		}

		return x.store(b, op.Results[0], c)
	case ir.OpBinary:
		if err := need(op, 2, 1); err != nil {
			return err
		}

		args, err := x.loads(b, op.Args...)
		if err != nil {
			return err
		}

		v, err := b.BinaryOp(ir.BinOp(op.Sub), args[0], args[1], op.Signed)
		if err != nil {
			return err
		}

		return x.store(b, op.Results[0], v)
	case ir.OpUnary:
		return x.unary(b, op, func(v *back.Value) (*back.Value, error) {
			return b.UnaryOp(ir.UnOp(op.Sub), v)
		})
	case ir.OpCmp:
		if err := need(op, 2, 1); err != nil {
			return err
		}

		args, err := x.loads(b, op.Args...)
		if err != nil {
			return err
		}

		v, err := b.Cmp(ir.CmpPred(op.Sub), op.Signed, args[0], args[1])
		if err != nil {
			return err
		}

		return x.store(b, op.Results[0], v)
	case ir.OpConvert:
		return x.unary(b, op, func(v *back.Value) (*back.Value, error) {
			return x.convert(b, op, v)
		})
	case ir.OpLoad:
		return x.unary(b, op, func(addr *back.Value) (*back.Value, error) {
			if op.Type != nil {
				return b.LoadIndirect(addr, op.Type)
			}

			return b.Load(addr)
		})
	case ir.OpStore:
		if err := need(op, 2, 0); err != nil {
			return err
		}

		args, err := x.loads(b, op.Args...)
		if err != nil {
			return err
		}

		return b.Store(args[1], args[0])
	case ir.OpFieldAddr:
		return x.unary(b, op, func(obj *back.Value) (*back.Value, error) {
			return b.FieldAddress(obj, int(op.Imm), op.Type)
		})
	case ir.OpCall:
		if op.Target == nil {
			return ir.NewFault(ir.AssertionFailed, "call without target")
		}

		ret, err := returnType(op.Target.Type)
		if err != nil {
			return err
		}

		return x.call(b, op, x.m.Function(op.Target).Value, op.Args, ret)
	case ir.OpIndirectCall:
		if err := need(op, 1, 0); err != nil {
			return err
		}

		var ret tp.Type = tp.Void{}
		if len(op.Results) != 0 {
			ret = x.g.Var(op.Results[0]).Type
		}

		fn, err := b.Load(x.slots[op.Args[0]])
		if err != nil {
			return err
		}

		return x.call(b, op, fn, op.Args[1:], ret)
	case ir.OpAtomic:
		return x.atomic(b, op)
	case ir.OpBranch:
		b.Br(x.blocks[op.Targets[0]])
		return nil
	case ir.OpCondBranch:
		if err := need(op, 1, 0); err != nil {
			return err
		}

		c, err := b.Load(x.slots[op.Args[0]])
		if err != nil {
			return err
		}

		return b.CondBr(c, x.blocks[op.Targets[0]], x.blocks[op.Targets[1]])
	case ir.OpSwitch:
		if err := need(op, 1, 0); err != nil {
			return err
		}

		c, err := b.Load(x.slots[op.Args[0]])
		if err != nil {
			return err
		}

		targets := make([]*back.Block, len(op.Targets)-1)
		for i, t := range op.Targets[1:] {
			targets[i] = x.blocks[t]
		}

		return b.Switch(c, x.blocks[op.Targets[0]], op.Cases, targets)
	case ir.OpReturn:
		switch len(op.Args) {
		case 0:
			return b.Ret(nil)
		case 1:
			v, err := b.Load(x.slots[op.Args[0]])
			if err != nil {
				return err
			}

			return b.Ret(v)
		}

		return ir.NewFault(ir.Unsupported, "return of %d values", len(op.Args))
	case ir.OpUnreachable:
		b.Unreachable()
		return nil
	}

	return ir.NewFault(ir.Unsupported, "operator %v", op.Op)
}

// unary loads the only argument, applies f and stores the only result.
func (x *gen) unary(b *back.Block, op *ir.Operator, f func(v *back.Value) (*back.Value, error)) error {
	if err := need(op, 1, 1); err != nil {
		return err
	}

	v, err := b.Load(x.slots[op.Args[0]])
	if err != nil {
		return err
	}

	r, err := f(v)
	if err != nil {
		return err
	}

	return x.store(b, op.Results[0], r)
}

func (x *gen) convert(b *back.Block, op *ir.Operator, v *back.Value) (*back.Value, error) {
	t := x.g.Var(op.Results[0]).Type
	bits := int(op.Imm)

	switch k := ir.ConvKind(op.Sub); k {
	case ir.ZeroExtend, ir.SignExtend:
		if bits == 0 {
			bits = tp.SizeInBits(x.g.Var(op.Args[0]).Type)
		}

		if k == ir.SignExtend {
			return b.SExt(v, t, bits)
		}

		return b.ZExt(v, t, bits)
	case ir.Truncate:
		if bits == 0 {
			bits = tp.SizeInBits(t)
		}

		return b.Trunc(v, t, bits)
	case ir.BitCast:
		return b.BitCast(v, t)
	case ir.PtrToInt:
		return b.PtrToInt(v, t)
	case ir.IntToPtr:
		return b.IntToPtr(v, t)
	case ir.IntToFP:
		return b.IntToFP(v, t)
	case ir.FPToInt:
		return b.FPToInt(v, t)
	case ir.FPExt:
		return b.FPExt(v, t)
	case ir.FPTrunc:
		return b.FPTrunc(v, t)
	}

	return nil, ir.NewFault(ir.Unsupported, "conversion %d", op.Sub)
}

func (x *gen) call(b *back.Block, op *ir.Operator, fn *back.Value, args []ir.VarID, ret tp.Type) error {
	vals, err := x.loads(b, args...)
	if err != nil {
		return err
	}

	r, err := b.Call(fn, vals, ret)
	if err != nil {
		return err
	}

	switch {
	case len(op.Results) == 0:
		return nil
	case r == nil:
		return ir.NewFault(ir.TypeConsistency, "result of void call")
	}

	return x.store(b, op.Results[0], r)
}

func (x *gen) atomic(b *back.Block, op *ir.Operator) error {
	a := ir.AtomicOp(op.Sub)

	n := 2
	if a == ir.AtomicCmpXchg {
		n = 3
	}

	if err := need(op, n, 1); err != nil {
		return err
	}

	args, err := x.loads(b, op.Args...)
	if err != nil {
		return err
	}

	var r *back.Value

	if a == ir.AtomicCmpXchg {
		r, err = b.CmpXchg(args[0], args[1], args[2])
	} else {
		r, err = b.Atomic(a, args[0], args[1])
	}

	if err != nil {
		return err
	}

	return x.store(b, op.Results[0], r)
}

func (x *gen) zero(b *back.Block, v ir.VarID) error {
	t := x.g.Var(v).Type

	switch {
	case tp.IsFloat(t):
		return x.store(b, v, x.m.ConstFloat(t, 0))
	case tp.IsPrimitive(t):
		return x.store(b, v, x.m.ConstInt(t, 0))
	}

	if _, ok := t.(tp.Ptr); ok {
		return x.store(b, v, x.m.ConstInt(t, 0))
	}

	p, err := b.BitCast(x.slots[v], tp.Ptr{X: tp.U8})
	if err != nil {
		return err
	}

	return b.MemSet(p, x.m.ConstInt(tp.U8, 0), x.m.ConstInt(tp.I32, int64(t.Size())))
}

func (x *gen) loads(b *back.Block, ids ...ir.VarID) ([]*back.Value, error) {
	r := make([]*back.Value, len(ids))

	for i, id := range ids {
		v, err := b.Load(x.slots[id])
		if err != nil {
			return nil, err
		}

		r[i] = v
	}

	return r, nil
}

func (x *gen) store(b *back.Block, v ir.VarID, val *back.Value) error {
	return b.Store(val, x.slots[v])
}

func need(op *ir.Operator, args, results int) error {
	if len(op.Args) < args || len(op.Results) < results {
		return ir.NewFault(ir.TypeConsistency, "%v: want %d args %d results, got %d %d", op.Name(), args, results, len(op.Args), len(op.Results))
	}

	return nil
}

func returnType(sig *tp.Func) (tp.Type, error) {
	if sig == nil || len(sig.Out) == 0 {
		return tp.Void{}, nil
	}

	if len(sig.Out) > 1 {
		return nil, ir.NewFault(ir.Unsupported, "%d results", len(sig.Out))
	}

	return sig.Out[0], nil
}
