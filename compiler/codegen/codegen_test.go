package codegen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/back"
	"github.com/smaillet-ms/llilum/compiler/inline"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

func di(line int) *ir.DebugInfo {
	return &ir.DebugInfo{File: "prog.cs", BeginLine: line, BeginCol: 5, EndLine: line, EndCol: 30}
}

func method(id int, name string, line int, sig *tp.Func) *ir.Method {
	return &ir.Method{ID: id, Name: name, Owner: "Prog", Debug: di(line), Type: sig}
}

func i32to32() *tp.Func {
	return &tp.Func{In: []tp.Type{tp.I32}, Out: []tp.Type{tp.I32}}
}

func br(b ir.BlockID) ir.Operator {
	return ir.Operator{Op: ir.OpBranch, Targets: []ir.BlockID{b}}
}

// addOne is y = x + 1 with the add at line base+2.
func addOne(m *ir.Method, base int) *ir.Graph {
	g := ir.NewGraph(m)

	x := g.AllocateArgument(tp.I32, "x", 0)
	c := g.AllocateTemporary(tp.I32, "")
	y := g.AllocateTemporary(tp.I32, "y")

	g.Entry = g.NewBlock(ir.EntryBlock)
	body := g.NewBlock(ir.Normal)
	g.Exit = g.NewBlock(ir.ExitBlock)

	g.AddOperator(g.Entry, br(body))
	g.AddOperator(body, ir.Operator{Op: ir.OpConst, Results: []ir.VarID{c}, Imm: 1, Debug: di(base + 1)})
	g.AddOperator(body, ir.Operator{Op: ir.OpBinary, Sub: int(ir.Add), Signed: true, Results: []ir.VarID{y}, Args: []ir.VarID{x, c}, Debug: di(base + 2)})
	g.AddOperator(body, br(g.Exit))
	g.AddOperator(g.Exit, ir.Operator{Op: ir.OpReturn, Args: []ir.VarID{y}})

	return g
}

func callsAt(m, callee *ir.Method, line int) (*ir.Graph, ir.OpID) {
	g := ir.NewGraph(m)

	a := g.AllocateArgument(tp.I32, "a", 0)
	r := g.AllocateLocal(tp.I32, "r")

	g.Entry = g.NewBlock(ir.EntryBlock)
	body := g.NewBlock(ir.Normal)
	g.Exit = g.NewBlock(ir.ExitBlock)

	g.AddOperator(g.Entry, br(body))
	call := g.AddOperator(body, ir.Operator{Op: ir.OpCall, Target: callee, Results: []ir.VarID{r}, Args: []ir.VarID{a}, Debug: di(line)})
	g.AddOperator(body, br(g.Exit))
	g.AddOperator(g.Exit, ir.Operator{Op: ir.OpReturn, Args: []ir.VarID{r}})

	return g, call
}

func block(f *back.Function, name string) *back.Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}

	return nil
}

func find(f *back.Function, op back.Op) (l []*back.Instr) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Op == op {
				l = append(l, in)
			}
		}
	}

	return l
}

func ops(b *back.Block) (r []back.Op) {
	for _, in := range b.Instrs {
		r = append(r, in.Op)
	}

	return r
}

func TestFunction(t *testing.T) {
	ctx := context.Background()

	g := addOne(method(1, "AddOne", 20, i32to32()), 20)
	m := back.NewModule("prog", true)

	f, err := Function(ctx, m, g)
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	t.Logf("module:\n%s", m.Print(nil))

	assert.Equal(t, "$ARG0", f.Params[0].Name)

	entry := block(f, "entry")
	require.NotNil(t, entry)
	assert.Equal(t, []back.Op{back.OpAlloca, back.OpDeclare, back.OpAlloca, back.OpAlloca, back.OpStore, back.OpBr}, ops(entry))
	assert.Equal(t, "x", entry.Instrs[0].Result.Name)
	assert.Equal(t, 1, entry.Instrs[1].Var.Arg)

	body := block(f, "bb1")
	require.NotNil(t, body)
	assert.Equal(t, []back.Op{back.OpStore, back.OpLoad, back.OpLoad, back.OpAdd, back.OpStore, back.OpBr}, ops(body))

	add := body.Instrs[3]
	assert.Equal(t, "22:5@Prog.AddOne", add.Loc.String())
	assert.Equal(t, 21, body.Instrs[0].Loc.Line)

	exit := block(f, "bb2")
	require.NotNil(t, exit)
	assert.Equal(t, []back.Op{back.OpLoad, back.OpRet}, ops(exit))

	_, err = Function(ctx, m, g)
	assert.Error(t, err)
}

func TestFunctionInlined(t *testing.T) {
	ctx := context.Background()

	mCaller := method(1, "Caller", 1, i32to32())
	mCallee := method(2, "Callee", 20, i32to32())

	callee := addOne(mCallee, 20)
	caller, call := callsAt(mCaller, mCallee, 10)

	in := &inline.Inliner{
		Cache:    annot.NewCache(),
		Resolver: inline.ResolverFunc(func(m *ir.Method) *ir.Graph { return callee }),
	}

	_, ok, err := in.Execute(ctx, caller, call)
	require.NoError(t, err)
	require.True(t, ok)

	m := back.NewModule("prog", true)

	f, err := Function(ctx, m, caller)
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	t.Logf("module:\n%s", m.Print(nil))

	assert.Len(t, m.Funcs, 1)
	assert.Empty(t, find(f, back.OpCall))

	adds := find(f, back.OpAdd)
	require.Len(t, adds, 1)

	assert.Equal(t, "22:5@Prog.Callee inlined at 10:5@Prog.Caller", adds[0].Loc.String())
	assert.Equal(t, 2, adds[0].Loc.Depth())
	assert.Same(t, f.Sub, adds[0].Loc.Outermost().Scope)

	var lines []int
	for _, in := range find(f, back.OpRet) {
		lines = append(lines, in.Loc.Line)
	}

	assert.Equal(t, []int{1}, lines)
}

func TestFunctionSquashed(t *testing.T) {
	ctx := context.Background()

	mF := method(1, "F", 3, i32to32())
	mG := method(2, "G", 30, i32to32())

	g := addOne(mF, 40)

	cache := annot.NewCache()
	p := annot.Create(cache, nil, mG, di(8), nil)
	require.True(t, p.Prune(func(*ir.Method) bool { return false }))
	require.True(t, p.Squashed())

	for _, id := range g.Block(1).Ops {
		g.Op(id).AddAnnotation(p)
	}

	m := back.NewModule("prog", true)

	f, err := Function(ctx, m, g)
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	adds := find(f, back.OpAdd)
	require.Len(t, adds, 1)
	assert.Equal(t, "3:5@Prog.F", adds[0].Loc.String())
}

func TestFunctionCallsDeclared(t *testing.T) {
	ctx := context.Background()

	mExt := method(2, "Ext", 0, i32to32())
	g, _ := callsAt(method(1, "Main", 1, i32to32()), mExt, 5)

	m := back.NewModule("prog", false)

	f, err := Function(ctx, m, g)
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	require.Len(t, m.Funcs, 2)
	assert.Empty(t, m.Funcs[1].Blocks)

	calls := find(f, back.OpCall)
	require.Len(t, calls, 1)
	assert.Same(t, m.Funcs[1].Value, calls[0].Args[0])

	text := string(m.Print(nil))
	assert.Contains(t, text, "declare i32 @\"Prog.Ext\"(i32 %$ARG0)\n")
}

func TestFunctionSwitchPhi(t *testing.T) {
	ctx := context.Background()

	g := ir.NewGraph(method(1, "S", 1, &tp.Func{In: []tp.Type{tp.U8}, Out: []tp.Type{tp.I32}}))

	c := g.AllocateArgument(tp.U8, "c", 0)
	r := g.AllocateLocal(tp.I32, "r")
	p := g.AllocatePhi(r)

	g.Entry = g.NewBlock(ir.EntryBlock)
	def := g.NewBlock(ir.Normal)
	one := g.NewBlock(ir.Normal)
	g.Exit = g.NewBlock(ir.ExitBlock)

	g.AddOperator(g.Entry, ir.Operator{Op: ir.OpSwitch, Args: []ir.VarID{c}, Targets: []ir.BlockID{def, one}, Cases: []int64{1}})
	g.AddOperator(def, ir.Operator{Op: ir.OpConst, Results: []ir.VarID{r}, Imm: 20})
	g.AddOperator(def, br(g.Exit))
	g.AddOperator(one, ir.Operator{Op: ir.OpConst, Results: []ir.VarID{p}, Imm: 10})
	g.AddOperator(one, br(g.Exit))
	g.AddOperator(g.Exit, ir.Operator{Op: ir.OpReturn, Args: []ir.VarID{r}})

	m := back.NewModule("prog", true)

	f, err := Function(ctx, m, g)
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	sw := find(f, back.OpSwitch)
	require.Len(t, sw, 1)
	assert.Same(t, m.Int(32), sw[0].Args[0].Type)
	assert.Equal(t, []int64{1}, sw[0].Cases)
	assert.Equal(t, []*back.Block{block(f, "bb1"), block(f, "bb2")}, sw[0].Targets)

	var slot *back.Value
	for _, in := range find(f, back.OpAlloca) {
		if in.Result.Name == "r" {
			slot = in.Result
		}
	}

	require.NotNil(t, slot)

	for _, name := range []string{"bb1", "bb2"} {
		b := block(f, name)
		require.NotNil(t, b)
		require.Equal(t, back.OpStore, b.Instrs[0].Op)
		assert.Same(t, slot, b.Instrs[0].Args[1], "block %v", name)
	}
}

func TestFunctionFaults(t *testing.T) {
	ctx := context.Background()

	g := ir.NewGraph(method(1, "F", 1, &tp.Func{In: []tp.Type{tp.F32}}))

	x := g.AllocateArgument(tp.F32, "x", 0)
	y := g.AllocateTemporary(tp.F32, "")

	g.Entry = g.NewBlock(ir.EntryBlock)
	g.AddOperator(g.Entry, ir.Operator{Op: ir.OpUnary, Sub: int(ir.Not), Results: []ir.VarID{y}, Args: []ir.VarID{x}})
	g.AddOperator(g.Entry, ir.Operator{Op: ir.OpReturn})

	_, err := Function(ctx, back.NewModule("prog", false), g)
	require.Error(t, err)

	var f *ir.Fault
	require.True(t, errors.As(err, &f), "%v", err)
	assert.Equal(t, ir.Unsupported, f.Kind)

	g = ir.NewGraph(method(2, "G", 1, &tp.Func{}))
	g.Entry = g.NewBlock(ir.EntryBlock)
	g.AddOperator(g.Entry, ir.Operator{Op: ir.OpNop})

	_, err = Function(ctx, back.NewModule("prog", false), g)
	require.True(t, errors.As(err, &f), "%v", err)
	assert.Equal(t, ir.AssertionFailed, f.Kind)
}
