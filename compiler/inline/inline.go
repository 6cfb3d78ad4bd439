// Package inline replaces a call operator with a private copy of the callee
// graph, keeping variables, exception protection, compilation constraints
// and inlining paths consistent.
package inline

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/cc"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/perf"
	"github.com/smaillet-ms/llilum/compiler/set"
)

type (
	// Resolver finds the graph of a method body.
	// It returns nil for methods without one.
	Resolver interface {
		Graph(m *ir.Method) *ir.Graph
	}

	ResolverFunc func(m *ir.Method) *ir.Graph

	// Notify is called once for every (original, clone) pair registered
	// while inlining. Values are ir.VarID, ir.BlockID or ir.OpID.
	Notify func(from, to any)

	Inliner struct {
		Cache    *annot.Cache
		Resolver Resolver
		Notify   Notify
		Perf     *perf.Counters
	}

	// Result describes the caller graph after a successful inline.
	Result struct {
		// Entry is the block that held the call.
		Entry ir.BlockID
		// Exit is the continuation block or NoBlock if the callee never returns.
		Exit ir.BlockID

		Blocks []ir.BlockID
		Calls  []ir.OpID
		Vars   []ir.VarID
	}

	inliner struct {
		*Inliner

		dst  *ir.Graph
		src  *ir.Graph
		call ir.OpID

		args     []ir.VarID
		spanning set.Bits[ir.VarID]

		ctx *cloningContext
	}
)

const PerfCounter = "InlineCall"

func (f ResolverFunc) Graph(m *ir.Method) *ir.Graph { return f(m) }

// Execute inlines the call operator of caller if its target has a body.
// ok is false and caller is untouched if the body can't be resolved.
func (in *Inliner) Execute(ctx context.Context, caller *ir.Graph, call ir.OpID) (res Result, ok bool, err error) {
	defer in.Perf.Start(PerfCounter).Stop()

	m := caller.Op(call).Target

	var callee *ir.Graph
	if m != nil && in.Resolver != nil {
		callee = in.Resolver.Graph(m)
	}

	if callee == nil {
		if tr := tlog.SpanFromContext(ctx); tr.If("inline") {
			tr.Printw("no body to inline", "caller", caller.Method, "callee", m)
		}

		return Result{}, false, nil
	}

	res, err = in.execute(ctx, caller, call, callee)
	if err != nil {
		return Result{}, false, err
	}

	return res, true, nil
}

// ExecuteWith inlines callee in place of the call operator of caller.
func (in *Inliner) ExecuteWith(ctx context.Context, caller *ir.Graph, call ir.OpID, callee *ir.Graph) (res Result, err error) {
	defer in.Perf.Start(PerfCounter).Stop()

	return in.execute(ctx, caller, call, callee)
}

func (in *Inliner) execute(ctx context.Context, caller *ir.Graph, call ir.OpID, callee *ir.Graph) (res Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "inline call", "caller", caller.Method, "callee", callee.Method, "call", call)
	defer tr.Finish("err", &err)

	if caller == callee {
		return res, ir.NewFault(ir.Unsupported, "inline %v into itself", caller.Method)
	}

	if callee.Entry == ir.NoBlock || callee.Entry == callee.Exit {
		return res, ir.NewFault(ir.AssertionFailed, "graph of %v is not normalized: entry %d exit %d", callee.Method, callee.Entry, callee.Exit)
	}

	op := caller.Op(call)
	if op.Op != ir.OpCall || op.Block == ir.NoBlock {
		return res, ir.NewFault(ir.AssertionFailed, "operator %d of %v is not a live call", call, caller.Method)
	}

	x := &inliner{
		Inliner: in,
		dst:     caller,
		src:     callee,
		call:    call,
		args:    append([]ir.VarID{}, op.Args...),
	}

	x.ctx = newCloningContext(callee, caller, in.Cache, in.Notify)
	x.ctx.cloneVar = func(v ir.VarID) (ir.VarID, error) { return x.cloneVariable(v, true) }

	res, err = x.run(ctx)
	if err != nil {
		return res, errors.Wrap(err, "inline %v into %v", callee.Method, caller.Method)
	}

	if tr.If("dump_inline") {
		tr.Printw("inlined", "graph", tlog.FormatNext("\n%s"), caller.Dump(nil))
	}

	return res, nil
}

func (x *inliner) run(ctx context.Context) (res Result, err error) {
	g := x.dst
	callOp := *g.Op(x.call)
	cur := callOp.Block

	vars := x.src.SpanningVariables()
	x.spanning = set.Of(vars...)

	var cloned []ir.VarID

	for _, v := range vars {
		n, err := x.cloneVariable(v, false)
		if err != nil {
			return res, err
		}

		cloned = append(cloned, n)
	}

	copies, err := x.linkResults(callOp)
	if err != nil {
		return res, err
	}

	ccCall := g.ConstraintsAtOperator(x.call)

	newEntry := g.NewBlockWithSameProtection(cur)
	newExit := ir.NoBlock

	if x.src.Exit != ir.NoBlock {
		newExit = g.NewBlockWithSameProtection(cur)

		x.ctx.registerBlock(x.src.Exit, newExit)

		for _, op := range copies {
			g.AddOperator(newExit, op)
		}
	}

	x.threadConstraints(callOp, ccCall, newEntry, newExit)

	clonedEntry, err := x.ctx.cloneBlock(x.src.Entry)
	if err != nil {
		return res, errors.Wrap(err, "clone body")
	}

	g.AddOperator(newEntry, ir.Operator{Op: ir.OpBranch, Debug: callOp.Debug, Targets: []ir.BlockID{clonedEntry}})

	x.ctx.ApplyProtection(g.Block(cur).ProtectedBy)
	x.ctx.UpdateInliningPaths(annot.Get(&callOp.Annotated), callOp.Debug, cloned)
	x.ctx.ResetBlockKinds()

	if callOp.Debug != nil {
		g.AddOperatorBefore(x.call, ir.Operator{Op: ir.OpNop, Debug: callOp.Debug})
	}

	next := g.SubstituteWithSubGraph(x.call, newEntry, newExit)

	if tr := tlog.SpanFromContext(ctx); tr.If("inline") {
		tr.Printw("substituted", "entry", newEntry, "exit", newExit, "continue", next, "blocks", len(x.ctx.cloned))
	}

	res = Result{
		Entry:  cur,
		Exit:   next,
		Blocks: x.ctx.cloned,
		Calls:  x.ctx.calls,
		Vars:   cloned,
	}

	return res, nil
}

// cloneVariable makes the caller-owned copy of the callee variable v.
// Unless allocOnly is set, arguments are copied from the call operands
// and locals get initialized right before the call.
func (x *inliner) cloneVariable(v ir.VarID, allocOnly bool) (n ir.VarID, err error) {
	if n, ok := x.ctx.vars[v]; ok {
		return n, nil
	}

	g := x.dst
	src := x.src.Var(v)

	var copyArg, initLocal bool

	switch src.Kind {
	case ir.Argument:
		n = g.AllocateLocal(src.Type, src.Name)
		copyArg = true
	case ir.Local:
		n = g.AllocateLocal(src.Type, src.Name)
		initLocal = true
	case ir.Temporary:
		n = g.AllocateTemporary(src.Type, src.Name)
	case ir.PhysicalRegister:
		n = g.AllocatePhysicalRegister(src.Register, src.Type)
	case ir.Phi:
		var t ir.VarID

		used := x.spanning.IsSet(src.Target)

		t, err = x.cloneVariable(src.Target, !used)
		if err != nil {
			return ir.NoVar, err
		}

		if !used {
			g.Var(t).RefOnly = true
		}

		n = g.AllocatePhi(t)
	case ir.ExceptionObject:
		n = g.AllocateExceptionObject(src.Type)
	default:
		return ir.NoVar, ir.NewFault(ir.TypeConsistency, "unexpected variable %v of kind %v in expanding call to %v", x.src.VarName(v), src.Kind, x.src.Method)
	}

	if !allocOnly && copyArg {
		if src.Number < 0 || src.Number >= len(x.args) {
			return ir.NoVar, ir.NewFault(ir.TypeConsistency, "argument %d of %v: call passes %d", src.Number, x.src.Method, len(x.args))
		}

		g.AddOperatorBefore(x.call, ir.Operator{
			Op:      ir.OpAssign,
			Results: []ir.VarID{n},
			Args:    []ir.VarID{x.args[src.Number]},
			Type:    src.Type,
		})
	}

	if !allocOnly && initLocal {
		g.AddOperatorBefore(x.call, g.VariableInitialization(nil, n))
	}

	nv := g.Var(n)
	nv.SkipRefCounting = src.SkipRefCounting
	nv.Annotated = src.CloneAnnotations(x.ctx)

	x.ctx.registerVar(v, n)

	return n, nil
}

// linkResults makes the callee return values resolve to the call results.
// Arguments and locals already have a copy initialized before the call,
// so their values are assigned to the results at the exit instead.
func (x *inliner) linkResults(call ir.Operator) (copies []ir.Operator, err error) {
	if len(call.Results) == 0 || x.src.Exit == ir.NoBlock {
		return nil, nil
	}

	ret := x.src.ReturnOperator()
	if ret == nil {
		return nil, ir.NewFault(ir.TypeConsistency, "call at %v: %v has no return operator", call.Debug, x.src.Method)
	}

	if len(call.Results) != len(ret.Args) {
		return nil, ir.NewFault(ir.TypeConsistency, "mismatch between return values and call results at %v: %v returns %d, call expects %d",
			call.Debug, x.src.Method, len(ret.Args), len(call.Results))
	}

	linked := make(map[ir.VarID]bool, len(ret.Args))

	for i, r := range ret.Args {
		if r == ir.NoVar {
			continue
		}

		src := x.src.Var(r)

		if src.Kind != ir.Argument && src.Kind != ir.Local && !linked[r] {
			x.ctx.registerVar(r, call.Results[i])
			linked[r] = true

			continue
		}

		n, err := x.cloneVariable(r, false)
		if err != nil {
			return nil, err
		}

		copies = append(copies, ir.Operator{
			Op:      ir.OpAssign,
			Results: []ir.VarID{call.Results[i]},
			Args:    []ir.VarID{n},
			Type:    src.Type,
		})
	}

	return copies, nil
}

// threadConstraints emits markers so the inlined body runs with the
// constraints it would have had as a call and the caller continues
// with its own.
func (x *inliner) threadConstraints(call ir.Operator, ccCall cc.Set, newEntry, newExit ir.BlockID) {
	g := x.dst
	di := call.Debug

	mark := func(b ir.BlockID, from, to cc.Set) {
		set, reset, changed := cc.Delta(from, to)
		if !changed {
			return
		}

		g.AddOperator(b, ir.ConstraintsMarker(di, set, reset))
	}

	ccCallEntry := ccCall.Remove(cc.NullChecksOff).Remove(cc.BoundsChecksOff)

	mark(newEntry, ccCall, ccCallEntry)

	ccEntry := cc.Compose(ccCallEntry, x.src.Constraints)

	mark(newEntry, ccCallEntry, ccEntry)

	if newExit == ir.NoBlock {
		return
	}

	in := x.src.PropagateConstraints(ccEntry)
	ccExit := x.src.ConstraintsAtBlockExit(in, x.src.Exit)

	mark(newExit, ccExit, ccCall)

	ccCallExit := ccCall
	m := call.Target

	if m.Has(ir.CanAllocateOnReturn) && ccCallExit.Has(cc.AllocationsOff) {
		ccCallExit = ccCallExit.Remove(cc.AllocationsOff).Add(cc.AllocationsOn)
	}

	if m.Has(ir.StackAvailableOnReturn) && ccCallExit.Has(cc.StackAccessOff) {
		ccCallExit = ccCallExit.Remove(cc.StackAccessOff).Add(cc.StackAccessOn)
	}

	mark(newExit, ccCall, ccCallExit)
}
