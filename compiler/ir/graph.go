package ir

import (
	"github.com/smaillet-ms/llilum/compiler/tp"
)

func NewGraph(m *Method) *Graph {
	return &Graph{
		Method: m,
		Entry:  NoBlock,
		Exit:   NoBlock,
	}
}

func (g *Graph) Var(id VarID) *Variable       { return &g.Vars[id] }
func (g *Graph) Op(id OpID) *Operator         { return &g.Ops[id] }
func (g *Graph) Block(id BlockID) *BasicBlock { return &g.Blocks[id] }

func (g *Graph) NewBlock(kind BlockKind) BlockID {
	id := BlockID(len(g.Blocks))
	g.Blocks = append(g.Blocks, BasicBlock{Kind: kind})

	return id
}

// NewBlockWithSameProtection creates a normal block covered
// by the same exception handlers as b.
func (g *Graph) NewBlockWithSameProtection(b BlockID) BlockID {
	id := g.NewBlock(Normal)

	g.Blocks[id].ProtectedBy = append([]BlockID(nil), g.Blocks[b].ProtectedBy...)

	return id
}

func (b *BasicBlock) SetProtectedBy(h BlockID) {
	for _, x := range b.ProtectedBy {
		if x == h {
			return
		}
	}

	b.ProtectedBy = append(b.ProtectedBy, h)
}

func (b *BasicBlock) IsProtectedBy(h BlockID) bool {
	for _, x := range b.ProtectedBy {
		if x == h {
			return true
		}
	}

	return false
}

func (g *Graph) alloc(v Variable) VarID {
	id := VarID(len(g.Vars))
	g.Vars = append(g.Vars, v)

	return id
}

func (g *Graph) AllocateArgument(t tp.Type, name string, number int) VarID {
	return g.alloc(Variable{Kind: Argument, Type: t, Name: name, Number: number, Target: NoVar})
}

func (g *Graph) AllocateLocal(t tp.Type, name string) VarID {
	return g.alloc(Variable{Kind: Local, Type: t, Name: name, Target: NoVar})
}

func (g *Graph) AllocateTemporary(t tp.Type, name string) VarID {
	return g.alloc(Variable{Kind: Temporary, Type: t, Name: name, Target: NoVar})
}

func (g *Graph) AllocatePhysicalRegister(reg int, t tp.Type) VarID {
	return g.alloc(Variable{Kind: PhysicalRegister, Type: t, Register: reg, Target: NoVar})
}

func (g *Graph) AllocatePhi(target VarID) VarID {
	t := g.Vars[target]

	return g.alloc(Variable{Kind: Phi, Type: t.Type, Name: t.Name, Target: target})
}

func (g *Graph) AllocateExceptionObject(t tp.Type) VarID {
	return g.alloc(Variable{Kind: ExceptionObject, Type: t, Target: NoVar})
}

// AddOperator appends op to the end of block b.
func (g *Graph) AddOperator(b BlockID, op Operator) OpID {
	id := OpID(len(g.Ops))

	op.Block = b
	g.Ops = append(g.Ops, op)

	g.Blocks[b].Ops = append(g.Blocks[b].Ops, id)

	return id
}

// AddOperatorBefore inserts op into the block of at, right before it.
func (g *Graph) AddOperatorBefore(at OpID, op Operator) OpID {
	b := g.Ops[at].Block
	id := OpID(len(g.Ops))

	op.Block = b
	g.Ops = append(g.Ops, op)

	bb := &g.Blocks[b]
	i := bb.index(at)

	bb.Ops = append(bb.Ops, 0)
	copy(bb.Ops[i+1:], bb.Ops[i:])
	bb.Ops[i] = id

	return id
}

func (g *Graph) VariableInitialization(di *DebugInfo, v VarID) Operator {
	return Operator{
		Op:      OpInit,
		Debug:   di,
		Results: []VarID{v},
		Type:    g.Vars[v].Type,
	}
}

// FlowControl returns the terminating operator of b or nil.
func (g *Graph) FlowControl(b BlockID) *Operator {
	ops := g.Blocks[b].Ops
	if len(ops) == 0 {
		return nil
	}

	op := &g.Ops[ops[len(ops)-1]]
	if !op.Op.IsFlowControl() {
		return nil
	}

	return op
}

func (g *Graph) Successors(b BlockID) []BlockID {
	fc := g.FlowControl(b)
	if fc == nil {
		return nil
	}

	return fc.Targets
}

// Reachable lists blocks reachable from start in depth-first preorder.
// Exception handlers protecting a visited block are reachable too.
func (g *Graph) Reachable(start BlockID) []BlockID {
	if start == NoBlock {
		return nil
	}

	seen := make([]bool, len(g.Blocks))
	var l []BlockID

	var walk func(b BlockID)
	walk = func(b BlockID) {
		if seen[b] {
			return
		}

		seen[b] = true
		l = append(l, b)

		for _, s := range g.Successors(b) {
			walk(s)
		}

		for _, h := range g.Blocks[b].ProtectedBy {
			walk(h)
		}
	}

	walk(start)

	return l
}

// ReturnOperator returns the flow control of the normalized exit block.
func (g *Graph) ReturnOperator() *Operator {
	if g.Exit == NoBlock {
		return nil
	}

	fc := g.FlowControl(g.Exit)
	if fc == nil || fc.Op != OpReturn {
		return nil
	}

	return fc
}

// SpanningVariables lists every variable reachable by dataflow:
// arguments first, then operands in block order. Phi targets are not
// included unless referenced directly.
func (g *Graph) SpanningVariables() []VarID {
	seen := make([]bool, len(g.Vars))
	var l []VarID

	add := func(v VarID) {
		if v == NoVar || seen[v] {
			return
		}

		seen[v] = true
		l = append(l, v)
	}

	for id, v := range g.Vars {
		if v.Kind == Argument {
			add(VarID(id))
		}
	}

	for _, b := range g.Reachable(g.Entry) {
		for _, id := range g.Blocks[b].Ops {
			op := &g.Ops[id]

			for _, v := range op.Results {
				add(v)
			}

			for _, v := range op.Args {
				add(v)
			}
		}
	}

	return l
}

// Calls lists call operators in reachable blocks.
func (g *Graph) Calls() []OpID {
	var l []OpID

	for _, b := range g.Reachable(g.Entry) {
		for _, id := range g.Blocks[b].Ops {
			if g.Ops[id].Op == OpCall {
				l = append(l, id)
			}
		}
	}

	return l
}

func (b *BasicBlock) index(op OpID) int {
	for i, x := range b.Ops {
		if x == op {
			return i
		}
	}

	panic("operator is not in its block")
}
