package ir

import (
	"nikand.dev/go/heap"

	"github.com/smaillet-ms/llilum/compiler/cc"
)

// ConstraintsMarker builds an operator changing the constraints in effect.
func ConstraintsMarker(di *DebugInfo, set, reset []cc.Constraint) Operator {
	return Operator{
		Op:    OpConstraints,
		Debug: di,
		Set:   set,
		Reset: reset,
	}
}

// PropagateConstraints computes the constraints in effect at the entry of
// every block reachable from the graph entry, starting from entry.
// A block takes the state of the first predecessor that reaches it.
func (g *Graph) PropagateConstraints(entry cc.Set) map[BlockID]cc.Set {
	in := make(map[BlockID]cc.Set, len(g.Blocks))

	if g.Entry == NoBlock {
		return in
	}

	q := heap.Heap[BlockID]{Less: func(d []BlockID, i, j int) bool { return d[i] < d[j] }}

	in[g.Entry] = entry
	q.Push(g.Entry)

	for q.Len() != 0 {
		b := q.Pop()

		s := g.applyMarkers(in[b], b, NoOp)

		next := append([]BlockID{}, g.Successors(b)...)
		next = append(next, g.Blocks[b].ProtectedBy...)

		for _, n := range next {
			if _, ok := in[n]; ok {
				continue
			}

			in[n] = s
			q.Push(n)
		}
	}

	return in
}

// ConstraintsAtBlockExit applies the markers of b to its entry state.
func (g *Graph) ConstraintsAtBlockExit(in map[BlockID]cc.Set, b BlockID) cc.Set {
	return g.applyMarkers(in[b], b, NoOp)
}

// ConstraintsAtOperator returns the constraints in effect right before op.
func (g *Graph) ConstraintsAtOperator(op OpID) cc.Set {
	in := g.PropagateConstraints(g.Constraints)
	b := g.Ops[op].Block

	return g.applyMarkers(in[b], b, op)
}

func (g *Graph) applyMarkers(s cc.Set, b BlockID, stop OpID) cc.Set {
	for _, id := range g.Blocks[b].Ops {
		if id == stop {
			break
		}

		op := &g.Ops[id]
		if op.Op != OpConstraints {
			continue
		}

		s = cc.Apply(s, op.Set, op.Reset)
	}

	return s
}
