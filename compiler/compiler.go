package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/back"
	"github.com/smaillet-ms/llilum/compiler/codegen"
	"github.com/smaillet-ms/llilum/compiler/inline"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/perf"
	"github.com/smaillet-ms/llilum/compiler/reach"
)

type (
	// Unit is a whole program: methods, bodies of those that have one,
	// and the methods execution starts from.
	Unit struct {
		Name    string
		Methods []*ir.Method
		Graphs  map[*ir.Method]*ir.Graph

		Entry      []*ir.Method
		Prohibited []*ir.Method
	}

	Options struct {
		// MaxDepth bounds how many times calls exposed by inlining
		// are inlined again.
		MaxDepth int

		Debug bool
	}

	Result struct {
		Module *back.Module

		Inlined  int
		Replaced int
		Live     []*ir.Method

		Cache *annot.Cache
		Perf  *perf.Counters
	}

	pending struct {
		g     *ir.Graph
		call  ir.OpID
		depth int
	}
)

const DefaultMaxDepth = 8

func NewUnit(name string) *Unit {
	return &Unit{
		Name:   name,
		Graphs: make(map[*ir.Method]*ir.Graph),
	}
}

func (u *Unit) Add(m *ir.Method, g *ir.Graph) {
	u.Methods = append(u.Methods, m)

	if g != nil {
		u.Graphs[m] = g
	}
}

func (u *Unit) Graph(m *ir.Method) *ir.Graph { return u.Graphs[m] }

func (u *Unit) Method(name string) *ir.Method {
	for _, m := range u.Methods {
		if m.FullName() == name || m.Name == name {
			return m
		}
	}

	return nil
}

// Compile inlines, narrows the unit to what is reachable from its entry
// points and lowers the result into a verified backend module.
func Compile(ctx context.Context, u *Unit, opts Options) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "unit", u.Name)
	defer tr.Finish("err", &err)

	if len(u.Entry) == 0 {
		return nil, errors.New("%v: no entry points", u.Name)
	}

	res = &Result{
		Cache: annot.NewCache(),
		Perf:  perf.New(),
	}

	in := &inline.Inliner{
		Cache:    res.Cache,
		Resolver: u,
		Perf:     res.Perf,
	}

	res.Inlined, err = Inline(ctx, u, in, opts.MaxDepth)
	if err != nil {
		return nil, errors.Wrap(err, "inline")
	}

	c, err := reach.CallsClosure(ctx, u, u.Entry, u.Prohibited)
	if err != nil {
		return nil, errors.Wrap(err, "calls closure")
	}

	res.Live = c.Methods

	var graphs []*ir.Graph

	for _, m := range c.Methods {
		if g := u.Graphs[m]; g != nil {
			graphs = append(graphs, g)
		}
	}

	res.Replaced, err = reach.FlagProhibitedUses(ctx, c, res.Cache, graphs)
	if err != nil {
		return nil, errors.Wrap(err, "prohibited uses")
	}

	res.Module = back.NewModule(u.Name, opts.Debug)

	for _, g := range graphs {
		_, err = codegen.Function(ctx, res.Module, g)
		if err != nil {
			return nil, errors.Wrap(err, "codegen")
		}
	}

	err = res.Module.Verify()
	if err != nil {
		return nil, errors.Wrap(err, "verify")
	}

	tr.Printw("compiled", "inlined", res.Inlined, "live", len(res.Live), "paths", res.Cache.Len(), "replaced", res.Replaced)

	res.Perf.Log(tr)

	return res, nil
}

// Inline expands calls to methods flagged for inlining in every graph
// of the unit. Calls exposed by an expansion are expanded too, up to
// maxDepth levels.
func Inline(ctx context.Context, u *Unit, in *inline.Inliner, maxDepth int) (n int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "inline unit", "unit", u.Name)
	defer tr.Finish("err", &err)

	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	var q []pending

	for _, m := range u.Methods {
		g := u.Graphs[m]
		if g == nil {
			continue
		}

		for _, id := range g.Calls() {
			q = append(q, pending{g: g, call: id})
		}
	}

	for len(q) != 0 {
		p := q[0]
		q = q[1:]

		op := p.g.Op(p.call)

		if op.Op != ir.OpCall || op.Block == ir.NoBlock || !op.Target.Has(ir.Inline) || op.Target == p.g.Method {
			continue
		}

		if p.depth >= maxDepth {
			tr.Printw("inline depth exceeded", "caller", p.g.Method, "callee", op.Target, "depth", p.depth)
			continue
		}

		res, ok, err := in.Execute(ctx, p.g, p.call)
		if err != nil {
			return n, errors.Wrap(err, "%v", p.g.Method)
		}

		if !ok {
			continue
		}

		n++

		for _, id := range res.Calls {
			q = append(q, pending{g: p.g, call: id, depth: p.depth + 1})
		}
	}

	return n, nil
}
