package inline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/cc"
	"github.com/smaillet-ms/llilum/compiler/debug"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/perf"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

func di(line int) *ir.DebugInfo {
	return &ir.DebugInfo{File: "prog.cs", BeginLine: line, BeginCol: 5, EndLine: line, EndCol: 30}
}

func br(b ir.BlockID) ir.Operator {
	return ir.Operator{Op: ir.OpBranch, Targets: []ir.BlockID{b}}
}

func method(id int, name string, line int) *ir.Method {
	return &ir.Method{
		ID:    id,
		Name:  name,
		Owner: "Prog",
		Debug: di(line),
		Type:  &tp.Func{In: []tp.Type{tp.I32}, Out: []tp.Type{tp.I32}},
	}
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
	g.AddOperator(body, ir.Operator{Op: ir.OpConst, Results: []ir.VarID{c}, Imm: 1, Type: tp.I32, Debug: di(base + 1)})
	g.AddOperator(body, ir.Operator{Op: ir.OpBinary, Sub: int(ir.Add), Results: []ir.VarID{y}, Args: []ir.VarID{x, c}, Type: tp.I32, Debug: di(base + 2)})
	g.AddOperator(body, br(g.Exit))
	g.AddOperator(g.Exit, ir.Operator{Op: ir.OpReturn, Args: []ir.VarID{y}})

	return g
}

// calls is r = callee(a) at line callLine; it returns the graph and the call.
func calls(m, callee *ir.Method, callLine int, results int) (*ir.Graph, ir.OpID) {
	g := ir.NewGraph(m)

	a := g.AllocateArgument(tp.I32, "a", 0)

	var res []ir.VarID
	for i := 0; i < results; i++ {
		res = append(res, g.AllocateLocal(tp.I32, "r"))
	}

	g.Entry = g.NewBlock(ir.EntryBlock)
	body := g.NewBlock(ir.Normal)
	g.Exit = g.NewBlock(ir.ExitBlock)

	g.AddOperator(g.Entry, br(body))

	call := g.AddOperator(body, ir.Operator{Op: ir.OpCall, Target: callee, Results: res, Args: []ir.VarID{a}, Debug: di(callLine)})

	g.AddOperator(body, br(g.Exit))
	g.AddOperator(g.Exit, ir.Operator{Op: ir.OpReturn, Args: res})

	return g, call
}

func liveOps(g *ir.Graph, code ir.Opcode) (l []ir.OpID) {
	for _, b := range g.Reachable(g.Entry) {
		for _, id := range g.Block(b).Ops {
			if g.Op(id).Op == code {
				l = append(l, id)
			}
		}
	}

	return l
}

func newInliner(gs ...*ir.Graph) *Inliner {
	return &Inliner{
		Cache: annot.NewCache(),
		Resolver: ResolverFunc(func(m *ir.Method) *ir.Graph {
			for _, g := range gs {
				if g.Method == m {
					return g
				}
			}

			return nil
		}),
		Perf: perf.New(),
	}
}

func TestInlineAddOne(t *testing.T) {
	ctx := context.Background()

	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	caller, call := calls(mCaller, mCallee, 10, 1)
	r := caller.Op(call).Results[0]

	in := newInliner(callee)

	res, ok, err := in.Execute(ctx, caller, call)
	require.NoError(t, err)
	require.True(t, ok)

	t.Logf("caller:\n%s", caller.Dump(nil))

	assert.Empty(t, liveOps(caller, ir.OpCall))
	assert.Equal(t, ir.NoBlock, caller.Op(call).Block)

	adds := liveOps(caller, ir.OpBinary)
	require.Len(t, adds, 1)

	add := caller.Op(adds[0])
	assert.Equal(t, []ir.VarID{r}, add.Results)
	assert.Equal(t, ir.Local, caller.Var(add.Args[0]).Kind)
	assert.Equal(t, "x", caller.Var(add.Args[0]).Name)

	p := annot.Get(&add.Annotated)
	require.NotNil(t, p)
	assert.Equal(t, []*ir.Method{mCallee}, p.Path())
	assert.Equal(t, []*ir.DebugInfo{di(10)}, p.DebugInfoPath())

	assigns := liveOps(caller, ir.OpAssign)
	require.Len(t, assigns, 1)
	assert.Equal(t, []ir.VarID{0}, caller.Op(assigns[0]).Args)
	assert.Equal(t, add.Args[0], caller.Op(assigns[0]).Results[0])

	nops := liveOps(caller, ir.OpNop)
	require.Len(t, nops, 1)
	assert.Equal(t, di(10), caller.Op(nops[0]).Debug)
	assert.Equal(t, res.Entry, caller.Op(nops[0]).Block)

	ret := liveOps(caller, ir.OpReturn)
	require.Len(t, ret, 1)
	assert.Equal(t, caller.Exit, caller.Op(ret[0]).Block)
	assert.Equal(t, []ir.BlockID{caller.Exit}, caller.Successors(res.Exit))
	assert.Equal(t, ir.ExitBlock, caller.Block(caller.Exit).Kind)

	for _, b := range res.Blocks {
		assert.Equal(t, ir.Normal, caller.Block(b).Kind, "block %d", b)
	}

	b := debug.NewBuilder("prog.cs")

	l, err := debug.LocationFor(b, p, mCaller, add.Debug)
	require.NoError(t, err)

	assert.Equal(t, 22, l.Line)
	assert.Same(t, b.SubprogramFor(mCallee), l.Scope)
	require.NotNil(t, l.InlinedAt)
	assert.Equal(t, 10, l.InlinedAt.Line)
	assert.Same(t, b.SubprogramFor(mCaller), l.InlinedAt.Scope)

	c, ok := in.Perf.Get(PerfCounter)
	require.True(t, ok)
	assert.Equal(t, 1, c.Calls)
}

func TestInlineUnresolvable(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mNative := method(2, "Native", 20)

	caller, call := calls(mCaller, mNative, 10, 1)
	before := string(caller.Dump(nil))

	in := newInliner()

	_, ok, err := in.Execute(context.Background(), caller, call)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, before, string(caller.Dump(nil)))

	c, ok := in.Perf.Get(PerfCounter)
	require.True(t, ok)
	assert.Equal(t, 1, c.Calls)
}

func TestInlineNoResults(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	caller, call := calls(mCaller, mCallee, 10, 0)

	_, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	adds := liveOps(caller, ir.OpBinary)
	require.Len(t, adds, 1)

	y := caller.Op(adds[0]).Results[0]
	assert.Equal(t, ir.Temporary, caller.Var(y).Kind)
	assert.Equal(t, "y", caller.Var(y).Name)
}

func TestInlineReturnsArgument(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Id", 20)

	callee := ir.NewGraph(mCallee)
	x := callee.AllocateArgument(tp.I32, "x", 0)

	callee.Entry = callee.NewBlock(ir.EntryBlock)
	callee.Exit = callee.NewBlock(ir.ExitBlock)

	callee.AddOperator(callee.Entry, br(callee.Exit))
	callee.AddOperator(callee.Exit, ir.Operator{Op: ir.OpReturn, Args: []ir.VarID{x}})

	caller, call := calls(mCaller, mCallee, 10, 1)
	a := caller.Op(call).Args[0]
	r := caller.Op(call).Results[0]

	_, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	t.Logf("caller:\n%s", caller.Dump(nil))

	writes := map[ir.VarID][]ir.VarID{}

	for _, id := range liveOps(caller, ir.OpAssign) {
		op := caller.Op(id)
		writes[op.Results[0]] = op.Args
	}

	require.Len(t, writes, 2)
	require.Contains(t, writes, r)

	cx := writes[r][0]
	assert.NotEqual(t, r, cx)
	assert.Equal(t, "x", caller.Var(cx).Name)
	assert.Equal(t, []ir.VarID{a}, writes[cx])
}

func TestInlineResultMismatch(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	caller, call := calls(mCaller, mCallee, 10, 2)

	_, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.Error(t, err)

	var f *ir.Fault
	require.True(t, errors.As(err, &f), "%v", err)
	assert.Equal(t, ir.TypeConsistency, f.Kind)
	assert.Contains(t, f.Msg, "Prog.Callee")
}

func TestInlineUnknownVariableKind(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	callee.Var(1).Kind = 0

	caller, call := calls(mCaller, mCallee, 10, 1)

	_, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)

	var f *ir.Fault
	require.True(t, errors.As(err, &f), "%v", err)
	assert.Equal(t, ir.TypeConsistency, f.Kind)
}

func TestInlineNested(t *testing.T) {
	ctx := context.Background()

	mA := method(1, "A", 1)
	mB := method(2, "B", 10)
	mC := method(3, "C", 20)

	gC := addOne(mC, 20)
	gB, callC := calls(mB, mC, 15, 1)
	gA, callB := calls(mA, mB, 5, 1)

	in := newInliner(gB, gC)

	_, ok, err := in.Execute(ctx, gB, callC)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = in.Execute(ctx, gA, callB)
	require.NoError(t, err)
	require.True(t, ok)

	adds := liveOps(gA, ir.OpBinary)
	require.Len(t, adds, 1)

	add := gA.Op(adds[0])

	p := annot.Get(&add.Annotated)
	require.NotNil(t, p)
	assert.Equal(t, []*ir.Method{mB, mC}, p.Path())
	assert.Equal(t, []*ir.DebugInfo{di(5), di(15)}, p.DebugInfoPath())

	// the copied call site marker of B
	nops := liveOps(gA, ir.OpNop)
	require.Len(t, nops, 2)

	b := debug.NewBuilder("prog.cs")

	l, err := debug.LocationFor(b, p, mA, add.Debug)
	require.NoError(t, err)
	require.Equal(t, 3, l.Depth())

	assert.Equal(t, 22, l.Line)
	assert.Same(t, b.SubprogramFor(mC), l.Scope)
	assert.Equal(t, 15, l.InlinedAt.Line)
	assert.Same(t, b.SubprogramFor(mB), l.InlinedAt.Scope)
	assert.Equal(t, 5, l.InlinedAt.InlinedAt.Line)
	assert.Same(t, b.SubprogramFor(mA), l.InlinedAt.InlinedAt.Scope)
}

func TestInlineProtection(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	caller, call := calls(mCaller, mCallee, 10, 1)

	h := caller.NewBlock(ir.Normal)
	caller.Block(h).Handler = true
	caller.AddOperator(h, ir.Operator{Op: ir.OpUnreachable})

	cur := caller.Op(call).Block
	caller.Block(cur).SetProtectedBy(h)

	res, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	require.NotEmpty(t, res.Blocks)

	for _, b := range res.Blocks {
		assert.True(t, caller.Block(b).IsProtectedBy(h), "block %d", b)
	}

	assert.True(t, caller.Block(res.Exit).IsProtectedBy(h))
}

func TestInlineConstraints(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)
	mCallee.Flags |= ir.CanAllocateOnReturn

	callee := addOne(mCallee, 20)
	caller, call := calls(mCaller, mCallee, 10, 1)
	caller.Constraints = cc.Of(cc.NullChecksOff, cc.AllocationsOff)

	res, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	var markers []*ir.Operator

	for _, id := range liveOps(caller, ir.OpConstraints) {
		markers = append(markers, caller.Op(id))
	}

	require.Len(t, markers, 3)

	assert.Nil(t, markers[0].Set)
	assert.Equal(t, []cc.Constraint{cc.NullChecksOff}, markers[0].Reset)

	assert.Equal(t, []cc.Constraint{cc.NullChecksOff}, markers[1].Set)
	assert.Nil(t, markers[1].Reset)

	assert.Equal(t, []cc.Constraint{cc.AllocationsOn}, markers[2].Set)
	assert.Equal(t, []cc.Constraint{cc.AllocationsOff}, markers[2].Reset)

	add := liveOps(caller, ir.OpBinary)[0]
	assert.Equal(t, cc.Of(cc.AllocationsOff), caller.ConstraintsAtOperator(add))

	next := caller.Block(res.Exit).Ops[0]
	assert.Equal(t, cc.Of(cc.NullChecksOff, cc.AllocationsOn), caller.ConstraintsAtOperator(next))
}

func TestInlineCalleeConstraints(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	callee.Constraints = cc.Of(cc.BoundsChecksOff)

	caller, call := calls(mCaller, mCallee, 10, 1)

	_, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	add := liveOps(caller, ir.OpBinary)[0]
	assert.Equal(t, cc.Of(cc.BoundsChecksOff), caller.ConstraintsAtOperator(add))

	ret := liveOps(caller, ir.OpReturn)[0]
	assert.True(t, caller.ConstraintsAtOperator(ret).IsEmpty())
}

func TestInlinePhi(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)

	unused := callee.AllocateLocal(tp.I32, "t")
	phi := callee.AllocatePhi(unused)
	callee.Var(phi).SkipRefCounting = true

	body := callee.Op(callee.Block(callee.Entry).Ops[0]).Targets[0]
	add := callee.Block(body).Ops[1]
	callee.Op(add).Args[1] = phi

	caller, call := calls(mCaller, mCallee, 10, 1)

	res, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	var nphi ir.VarID = ir.NoVar

	for _, v := range res.Vars {
		if caller.Var(v).Kind == ir.Phi {
			nphi = v
		}
	}

	require.NotEqual(t, ir.NoVar, nphi)

	pv := caller.Var(nphi)
	assert.True(t, pv.SkipRefCounting)
	assert.True(t, caller.Var(pv.Target).RefOnly)
	assert.Equal(t, "t", caller.Var(pv.Target).Name)

	assert.Empty(t, liveOps(caller, ir.OpInit))
}

func TestInlineNotify(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	caller, call := calls(mCaller, mCallee, 10, 1)

	var blocks, ops, vars int

	in := newInliner()
	in.Notify = func(from, to any) {
		switch from.(type) {
		case ir.BlockID:
			blocks++
		case ir.OpID:
			ops++
		case ir.VarID:
			vars++
		}
	}

	_, err := in.ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	assert.Equal(t, 3, blocks)
	assert.Equal(t, 4, ops)
	assert.Equal(t, 4, vars)
}

func TestInlineNoDebugInfo(t *testing.T) {
	mCaller := method(1, "Caller", 1)
	mCallee := method(2, "Callee", 20)

	callee := addOne(mCallee, 20)
	caller, call := calls(mCaller, mCallee, 10, 1)
	caller.Op(call).Debug = nil

	_, err := newInliner().ExecuteWith(context.Background(), caller, call, callee)
	require.NoError(t, err)

	assert.Empty(t, liveOps(caller, ir.OpNop))
}
