package inline

import (
	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/ir"
)

type (
	// cloningContext maps callee entities to their caller-owned copies.
	// Every entity is cloned at most once.
	cloningContext struct {
		src, dst *ir.Graph

		cache  *annot.Cache
		notify Notify

		vars   map[ir.VarID]ir.VarID
		blocks map[ir.BlockID]ir.BlockID
		ops    map[ir.OpID]ir.OpID

		// cloned blocks and calls in registration order
		cloned []ir.BlockID
		calls  []ir.OpID

		cloneVar func(ir.VarID) (ir.VarID, error)
	}
)

func newCloningContext(src, dst *ir.Graph, cache *annot.Cache, notify Notify) *cloningContext {
	return &cloningContext{
		src:    src,
		dst:    dst,
		cache:  cache,
		notify: notify,
		vars:   make(map[ir.VarID]ir.VarID),
		blocks: make(map[ir.BlockID]ir.BlockID),
		ops:    make(map[ir.OpID]ir.OpID),
	}
}

// registerVar overrides earlier registrations of from.
func (c *cloningContext) registerVar(from, to ir.VarID) {
	c.vars[from] = to

	if c.notify != nil {
		c.notify(from, to)
	}
}

func (c *cloningContext) registerBlock(from, to ir.BlockID) {
	c.blocks[from] = to
	c.cloned = append(c.cloned, to)

	if c.notify != nil {
		c.notify(from, to)
	}
}

func (c *cloningContext) registerOp(from, to ir.OpID) {
	c.ops[from] = to

	if c.dst.Op(to).Op == ir.OpCall {
		c.calls = append(c.calls, to)
	}

	if c.notify != nil {
		c.notify(from, to)
	}
}

// cloneBlock clones b and everything reachable from it.
func (c *cloningContext) cloneBlock(b ir.BlockID) (ir.BlockID, error) {
	if n, ok := c.blocks[b]; ok {
		return n, nil
	}

	sb := c.src.Block(b)

	n := c.dst.NewBlock(sb.Kind)
	c.dst.Block(n).Handler = sb.Handler

	c.registerBlock(b, n)

	for _, h := range sb.ProtectedBy {
		nh, err := c.cloneBlock(h)
		if err != nil {
			return ir.NoBlock, err
		}

		c.dst.Block(n).SetProtectedBy(nh)
	}

	for _, id := range sb.Ops {
		if _, err := c.cloneOperator(n, id); err != nil {
			return ir.NoBlock, err
		}
	}

	return n, nil
}

func (c *cloningContext) cloneOperator(b ir.BlockID, id ir.OpID) (ir.OpID, error) {
	src := c.src.Op(id)

	op := ir.Operator{
		Op:     src.Op,
		Sub:    src.Sub,
		Signed: src.Signed,
		Debug:  src.Debug,
		Target: src.Target,
		Imm:    src.Imm,
		Type:   src.Type,
		Cases:  append([]int64(nil), src.Cases...),
		Set:    src.Set,
		Reset:  src.Reset,

		Annotated: src.CloneAnnotations(c),
	}

	var err error

	if op.Results, err = c.mapVars(src.Results); err != nil {
		return ir.NoOp, err
	}

	if op.Args, err = c.mapVars(src.Args); err != nil {
		return ir.NoOp, err
	}

	targets := append([]ir.BlockID(nil), src.Targets...)

	for i, t := range targets {
		if targets[i], err = c.cloneBlock(t); err != nil {
			return ir.NoOp, err
		}
	}

	op.Targets = targets

	n := c.dst.AddOperator(b, op)

	c.registerOp(id, n)

	return n, nil
}

func (c *cloningContext) mapVars(l []ir.VarID) ([]ir.VarID, error) {
	if l == nil {
		return nil, nil
	}

	r := make([]ir.VarID, len(l))

	for i, v := range l {
		if v == ir.NoVar {
			r[i] = v
			continue
		}

		n, ok := c.vars[v]
		if !ok {
			var err error

			n, err = c.cloneVar(v)
			if err != nil {
				return nil, err
			}
		}

		r[i] = n
	}

	return r, nil
}

// ApplyProtection puts every cloned block under the handlers protecting the call.
func (c *cloningContext) ApplyProtection(protectedBy []ir.BlockID) {
	if len(protectedBy) == 0 {
		return
	}

	for _, b := range c.cloned {
		bb := c.dst.Block(b)

		for _, h := range protectedBy {
			bb.SetProtectedBy(h)
		}
	}
}

// UpdateInliningPaths prepends the inlined call to the paths of cloned
// variables and of every operator in cloned blocks.
func (c *cloningContext) UpdateInliningPaths(outer *annot.InliningPath, callSite *ir.DebugInfo, vars []ir.VarID) {
	md := c.src.Method

	update := func(a *ir.Annotated) {
		inner := annot.Get(a)
		p := annot.Create(c.cache, outer, md, callSite, inner)

		if inner != nil {
			a.ReplaceAnnotation(inner, p)
		} else {
			a.AddAnnotation(p)
		}
	}

	for _, v := range vars {
		update(&c.dst.Var(v).Annotated)
	}

	for _, b := range c.cloned {
		for _, id := range c.dst.Block(b).Ops {
			update(&c.dst.Op(id).Annotated)
		}
	}
}

// ResetBlockKinds turns cloned entry and exit blocks into interior ones.
func (c *cloningContext) ResetBlockKinds() {
	for _, b := range c.cloned {
		c.dst.Block(b).Kind = ir.Normal
	}
}

func (c *cloningContext) ConvertMethod(m *ir.Method) *ir.Method { return m }

func (c *cloningContext) Unique(a ir.Annotation) ir.Annotation { return c.cache.Unique(a) }
