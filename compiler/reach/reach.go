// Package reach narrows a program to the methods reachable from its entry
// points and strips prohibited methods from inlining paths.
package reach

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/set"
)

type (
	Resolver interface {
		Graph(m *ir.Method) *ir.Graph
	}

	// Closure is the set of methods reachable through calls.
	Closure struct {
		Methods []*ir.Method

		live       set.Bits[int]
		prohibited set.Bits[int]
	}

	transformer struct {
		reason ir.TransformReason
		c      *Closure
	}
)

// CallsClosure walks call operators starting at roots. Prohibited methods
// are never entered. Inlining paths are not followed: they may refer to
// methods without a body.
func CallsClosure(ctx context.Context, r Resolver, roots, prohibited []*ir.Method) (c *Closure, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "calls closure", "roots", len(roots), "prohibited", len(prohibited))
	defer tr.Finish("err", &err)

	c = &Closure{}

	for _, m := range prohibited {
		c.prohibited.Set(m.ID)
	}

	q := heap.Heap[*ir.Method]{Less: func(d []*ir.Method, i, j int) bool { return d[i].ID < d[j].ID }}

	enqueue := func(m *ir.Method) {
		if m == nil || c.prohibited.IsSet(m.ID) || !c.live.Set(m.ID) {
			return
		}

		c.Methods = append(c.Methods, m)
		q.Push(m)
	}

	for _, m := range roots {
		if c.prohibited.IsSet(m.ID) {
			return nil, errors.New("entry point %v is prohibited", m)
		}

		enqueue(m)
	}

	t := transformer{reason: ir.TransformCallsClosure, c: c}

	for q.Len() != 0 {
		m := q.Pop()

		g := r.Graph(m)
		if g == nil {
			continue
		}

		walk(g, func(a *ir.Annotated) { a.TransformAnnotations(t) })

		for _, id := range g.Calls() {
			enqueue(g.Op(id).Target)
		}
	}

	if tr.If("reach") {
		tr.Printw("closure", "live", c.live, "methods", len(c.Methods))
	}

	return c, nil
}

func (c *Closure) Live(m *ir.Method) bool {
	return m != nil && c.live.IsSet(m.ID)
}

func (c *Closure) IsProhibited(m *ir.Method) bool {
	return m != nil && c.prohibited.IsSet(m.ID)
}

// FlagProhibitedUses prunes prohibited methods from every interned inlining
// path, merges paths that became equal and rewrites the annotations of graph
// nodes to the surviving instances. Live calls into prohibited methods are
// reported as errors.
func FlagProhibitedUses(ctx context.Context, c *Closure, cache *annot.Cache, graphs []*ir.Graph) (replaced int, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "flag prohibited uses")
	defer tr.Finish("err", &err)

	var errs *multierror.Error

	for _, g := range graphs {
		for _, id := range g.Calls() {
			op := g.Op(id)

			if c.IsProhibited(op.Target) {
				errs = multierror.Append(errs, errors.New("%v: call to prohibited %v at %v", g.Method, op.Target, op.Debug))
			}
		}
	}

	if err = errs.ErrorOrNil(); err != nil {
		return 0, err
	}

	t := transformer{reason: ir.TransformFlagProhibitedUses, c: c}

	cache.Range(func(a ir.Annotation) bool {
		if x, ok := a.(ir.Transformable); ok {
			x.ApplyTransformation(t)
		}

		return true
	})

	repl := cache.Reindex()
	if len(repl) == 0 {
		return 0, nil
	}

	for _, g := range graphs {
		walk(g, func(a *ir.Annotated) {
			for i, x := range a.Annotations {
				if y, ok := repl[x]; ok {
					a.Annotations[i] = y
					replaced++
				}
			}
		})
	}

	return replaced, nil
}

func walk(g *ir.Graph, f func(a *ir.Annotated)) {
	for i := range g.Vars {
		f(&g.Vars[i].Annotated)
	}

	for _, b := range g.Reachable(g.Entry) {
		for _, id := range g.Block(b).Ops {
			f(&g.Op(id).Annotated)
		}
	}
}

func (t transformer) Reason() ir.TransformReason              { return t.reason }
func (t transformer) TransformMethod(m *ir.Method) *ir.Method { return m }
func (t transformer) IsProhibited(m *ir.Method) bool          { return t.c.IsProhibited(m) }
