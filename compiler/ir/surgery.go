package ir

// SubstituteWithSubGraph replaces the call operator with the sub graph
// entry..exit. The call block keeps its predecessors and jumps to entry;
// the operators following the call, including the block terminator, move
// to a continuation block reached from exit. If exit is NoBlock the sub
// graph never returns and the tail is dropped.
//
// It returns the continuation block or NoBlock.
func (g *Graph) SubstituteWithSubGraph(call OpID, entry, exit BlockID) BlockID {
	op := &g.Ops[call]
	cur := op.Block
	di := op.Debug

	ops := g.Blocks[cur].Ops
	i := g.Blocks[cur].index(call)

	tail := append([]OpID{}, ops[i+1:]...)
	g.Blocks[cur].Ops = ops[:i]

	op.Block = NoBlock

	g.AddOperator(cur, Operator{Op: OpBranch, Debug: di, Targets: []BlockID{entry}})

	if exit == NoBlock {
		for _, id := range tail {
			g.Ops[id].Block = NoBlock
		}

		return NoBlock
	}

	next := g.NewBlockWithSameProtection(cur)

	for _, id := range tail {
		g.Ops[id].Block = next
	}

	g.Blocks[next].Ops = tail

	if g.Exit == cur {
		g.Exit = next
		g.Blocks[next].Kind = ExitBlock
		g.Blocks[cur].Kind = Normal
	}

	g.AddOperator(exit, Operator{Op: OpBranch, Debug: di, Targets: []BlockID{next}})

	return next
}
