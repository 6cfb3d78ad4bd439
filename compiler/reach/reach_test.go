package reach

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/ir"
)

type graphs map[*ir.Method]*ir.Graph

func (gs graphs) Graph(m *ir.Method) *ir.Graph { return gs[m] }

func di(line int) *ir.DebugInfo {
	return &ir.DebugInfo{File: "p.cs", BeginLine: line, BeginCol: 1}
}

// calling builds a graph of m calling every one of callees.
func calling(m *ir.Method, callees ...*ir.Method) *ir.Graph {
	g := ir.NewGraph(m)

	g.Entry = g.NewBlock(ir.EntryBlock)
	g.Exit = g.NewBlock(ir.ExitBlock)

	for i, c := range callees {
		g.AddOperator(g.Entry, ir.Operator{Op: ir.OpCall, Target: c, Debug: di(i + 1)})
	}

	g.AddOperator(g.Entry, ir.Operator{Op: ir.OpBranch, Targets: []ir.BlockID{g.Exit}})
	g.AddOperator(g.Exit, ir.Operator{Op: ir.OpReturn})

	return g
}

func TestCallsClosure(t *testing.T) {
	mMain := &ir.Method{ID: 1, Name: "Main"}
	mA := &ir.Method{ID: 2, Name: "A"}
	mB := &ir.Method{ID: 3, Name: "B"}
	mDead := &ir.Method{ID: 4, Name: "Dead"}
	mNative := &ir.Method{ID: 5, Name: "Native"}

	gs := graphs{
		mMain: calling(mMain, mA),
		mA:    calling(mA, mB, mA, mNative),
		mB:    calling(mB),
		mDead: calling(mDead, mA),
	}

	c, err := CallsClosure(context.Background(), gs, []*ir.Method{mMain}, nil)
	require.NoError(t, err)

	assert.Equal(t, []*ir.Method{mMain, mA, mB, mNative}, c.Methods)
	assert.True(t, c.Live(mNative))
	assert.False(t, c.Live(mDead))
	assert.False(t, c.IsProhibited(mDead))
}

func TestProhibitedRoot(t *testing.T) {
	m := &ir.Method{ID: 1, Name: "Main"}

	_, err := CallsClosure(context.Background(), graphs{}, []*ir.Method{m}, []*ir.Method{m})
	assert.Error(t, err)
}

func TestFlagProhibitedUses(t *testing.T) {
	ctx := context.Background()
	cache := annot.NewCache()

	mMain := &ir.Method{ID: 1, Name: "Main"}
	mA := &ir.Method{ID: 2, Name: "A"}
	mB := &ir.Method{ID: 3, Name: "B"}
	mGone := &ir.Method{ID: 4, Name: "Gone"}

	g := calling(mMain)

	pa := annot.Create(cache, nil, mA, di(10), nil)
	pga := annot.Create(cache, annot.Create(cache, nil, mGone, di(20), nil), mA, di(21), nil)
	pg := annot.Create(cache, nil, mGone, di(20), nil)
	pb := annot.Create(cache, nil, mB, di(30), nil)

	ops := g.Block(g.Entry).Ops
	g.Op(ops[0]).AddAnnotation(pga)
	g.Op(g.Block(g.Exit).Ops[0]).AddAnnotation(pb)

	v := g.AllocateTemporary(nil, "t")
	g.Var(v).AddAnnotation(pg)

	c, err := CallsClosure(ctx, graphs{mMain: g}, []*ir.Method{mMain}, []*ir.Method{mGone})
	require.NoError(t, err)

	n, err := FlagProhibitedUses(ctx, c, cache, []*ir.Graph{g})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Same(t, pa, annot.Get(&g.Op(ops[0]).Annotated))
	assert.Equal(t, []*ir.Method{mA}, pa.Path())

	assert.Same(t, pb, annot.Get(&g.Op(g.Block(g.Exit).Ops[0]).Annotated))
	assert.False(t, pb.Squashed())

	assert.Same(t, pg, annot.Get(&g.Var(v).Annotated))
	assert.True(t, pg.Squashed())
	assert.Empty(t, pg.Path())
}

func TestFlagProhibitedCall(t *testing.T) {
	ctx := context.Background()

	mMain := &ir.Method{ID: 1, Name: "Main"}
	mGone := &ir.Method{ID: 2, Name: "Gone"}

	g := calling(mMain, mGone, mGone)

	c, err := CallsClosure(ctx, graphs{mMain: g}, []*ir.Method{mMain}, []*ir.Method{mGone})
	require.NoError(t, err)
	assert.False(t, c.Live(mGone))

	_, err = FlagProhibitedUses(ctx, c, annot.NewCache(), []*ir.Graph{g})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}
