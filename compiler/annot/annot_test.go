package annot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smaillet-ms/llilum/compiler/ir"
)

type (
	renames map[*ir.Method]*ir.Method

	cloneCtx struct {
		c *Cache
		m renames
	}

	transformer struct {
		reason     ir.TransformReason
		prohibited map[*ir.Method]bool
		m          renames
	}
)

func methods(names ...string) []*ir.Method {
	l := make([]*ir.Method, len(names))

	for i, n := range names {
		l[i] = &ir.Method{ID: i + 1, Name: n}
	}

	return l
}

func di(line int) *ir.DebugInfo {
	return &ir.DebugInfo{File: "a.cs", BeginLine: line, BeginCol: 1, EndLine: line, EndCol: 10}
}

func TestCreateInterned(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B")

	a := Create(c, nil, ms[0], di(1), nil)
	b := Create(c, nil, ms[0], di(1), nil)
	assert.Same(t, a, b)

	ab := Create(c, a, ms[1], di(2), nil)
	assert.NotSame(t, a, ab)
	assert.Equal(t, []*ir.Method{ms[0], ms[1]}, ab.Path())
	assert.Equal(t, []*ir.DebugInfo{di(1), di(2)}, ab.DebugInfoPath())
	assert.False(t, ab.Squashed())

	assert.Equal(t, 2, c.Len())
}

func TestCreateConcatenation(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B", "C", "D")

	outer := Create(c, Create(c, nil, ms[0], di(1), nil), ms[1], di(2), nil)
	inner := Create(c, nil, ms[3], di(4), nil)

	p := Create(c, outer, ms[2], di(3), inner)

	require.Len(t, p.Path(), 4)
	assert.Equal(t, ms, p.Path())
	assert.Equal(t, []*ir.DebugInfo{di(1), di(2), di(3), di(4)}, p.DebugInfoPath())
	assert.Equal(t, len(p.Path()), len(p.DebugInfoPath()))
}

func TestEquality(t *testing.T) {
	ms := methods("A", "B")

	x := &InliningPath{path: []*ir.Method{ms[0], ms[1]}, debug: []*ir.DebugInfo{di(1), di(2)}}
	y := &InliningPath{path: []*ir.Method{ms[0], ms[1]}, debug: []*ir.DebugInfo{di(5), di(6)}}
	z := &InliningPath{path: []*ir.Method{ms[1], ms[0]}, debug: []*ir.DebugInfo{di(1), di(2)}}
	w := &InliningPath{path: []*ir.Method{ms[0], ms[1]}, debug: []*ir.DebugInfo{di(1), di(2)}}
	n := &InliningPath{path: []*ir.Method{ms[0], ms[1]}, debug: []*ir.DebugInfo{di(1), nil}}

	assert.True(t, x.AnnotationEqual(w))
	assert.False(t, x.AnnotationEqual(y))
	assert.Equal(t, x.AnnotationHash(), y.AnnotationHash())
	assert.False(t, x.AnnotationEqual(z))
	assert.False(t, x.AnnotationEqual(n))
	assert.False(t, n.AnnotationEqual(x))
	assert.True(t, n.AnnotationEqual(&InliningPath{path: n.path, debug: []*ir.DebugInfo{di(1), nil}}))
}

func TestCreateCallSites(t *testing.T) {
	c := NewCache()
	ms := methods("Inc")

	a := Create(c, nil, ms[0], di(10), nil)
	b := Create(c, nil, ms[0], di(35), nil)

	assert.NotSame(t, a, b)
	assert.Equal(t, 10, a.DebugInfoPath()[0].BeginLine)
	assert.Equal(t, 35, b.DebugInfoPath()[0].BeginLine)

	assert.Same(t, b, Create(c, nil, ms[0], di(35), nil))
	assert.Equal(t, 2, c.Len())

	assert.Zero(t, (&InliningPath{}).AnnotationHash())
}

func TestCloneIdentity(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B", "C")

	p := Create(c, Create(c, nil, ms[0], di(1), nil), ms[1], di(2), nil)

	q := p.Clone(cloneCtx{c: c})
	assert.Same(t, p, q)

	q = p.Clone(cloneCtx{c: c, m: renames{ms[1]: ms[2]}})
	require.IsType(t, p, q)

	qp := q.(*InliningPath)
	assert.NotSame(t, p, qp)
	assert.Equal(t, []*ir.Method{ms[0], ms[2]}, qp.Path())
	assert.Equal(t, p.DebugInfoPath(), qp.DebugInfoPath())
	assert.Equal(t, []*ir.Method{ms[0], ms[1]}, p.Path())
}

func TestPrune(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B", "C")

	p := Create(c, Create(c, Create(c, nil, ms[0], di(1), nil), ms[1], di(2), nil), ms[2], di(3), nil)

	p.ApplyTransformation(transformer{reason: ir.TransformCallsClosure, prohibited: map[*ir.Method]bool{ms[1]: true}})
	assert.Len(t, p.Path(), 3)

	p.ApplyTransformation(transformer{reason: ir.TransformFlagProhibitedUses, prohibited: map[*ir.Method]bool{ms[1]: true}})
	assert.Equal(t, []*ir.Method{ms[0], ms[2]}, p.Path())
	assert.Equal(t, []*ir.DebugInfo{di(1), di(3)}, p.DebugInfoPath())
	assert.False(t, p.Squashed())

	p.ApplyTransformation(transformer{reason: ir.TransformFlagProhibitedUses, prohibited: map[*ir.Method]bool{ms[0]: true, ms[2]: true}})
	assert.Empty(t, p.Path())
	assert.Empty(t, p.DebugInfoPath())
	assert.True(t, p.Squashed())
}

func TestGenericTransform(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B")

	p := Create(c, nil, ms[0], di(1), nil)

	p.ApplyTransformation(transformer{reason: ir.TransformGeneric, m: renames{ms[0]: ms[1]}})
	assert.Equal(t, []*ir.Method{ms[1]}, p.Path())
}

func TestCacheTransform(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B")

	a := Create(c, nil, ms[0], di(1), nil)
	b := Create(c, nil, ms[1], di(1), nil)

	repl := c.Transform(transformer{reason: ir.TransformGeneric, m: renames{ms[0]: ms[1]}})

	assert.Equal(t, []*ir.Method{ms[1]}, a.Path())
	assert.Equal(t, map[ir.Annotation]ir.Annotation{b: a}, repl)
	assert.Equal(t, 1, c.Len())

	assert.Same(t, a, Create(c, nil, ms[1], di(1), nil))
}

func TestReindex(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B", "C")

	ab := Create(c, Create(c, nil, ms[0], di(1), nil), ms[1], di(2), nil)
	a := Get(&ir.Annotated{Annotations: []ir.Annotation{ab}})
	require.Same(t, ab, a)

	ac := Create(c, Create(c, nil, ms[0], di(1), nil), ms[2], di(3), nil)

	ab.Prune(func(m *ir.Method) bool { return m != ms[1] })
	ac.Prune(func(m *ir.Method) bool { return m != ms[2] })

	repl := c.Reindex()
	require.Len(t, repl, 2)

	first := Create(c, nil, ms[0], di(1), nil)
	assert.Same(t, first, repl[ab])
	assert.Same(t, first, repl[ac])
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentCreate(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B")

	const N = 16

	res := make([]*InliningPath, N)

	var wg sync.WaitGroup

	for i := 0; i < N; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			res[i] = Create(c, Create(c, nil, ms[0], di(1), nil), ms[1], di(2), nil)
		}(i)
	}

	wg.Wait()

	for _, p := range res[1:] {
		assert.Same(t, res[0], p)
	}

	assert.Equal(t, 2, c.Len())
}

func TestString(t *testing.T) {
	c := NewCache()
	ms := methods("A", "B")

	p := Create(c, Create(c, nil, ms[0], di(1), nil), ms[1], di(2), nil)
	assert.Equal(t, "<inlined path [A -> B] at [a.cs:1:1 -> a.cs:2:1]>", p.String())
}

func (c cloneCtx) ConvertMethod(m *ir.Method) *ir.Method {
	if n, ok := c.m[m]; ok {
		return n
	}

	return m
}

func (c cloneCtx) Unique(a ir.Annotation) ir.Annotation { return c.c.Unique(a) }

func (t transformer) Reason() ir.TransformReason { return t.reason }

func (t transformer) TransformMethod(m *ir.Method) *ir.Method {
	if n, ok := t.m[m]; ok {
		return n
	}

	return m
}

func (t transformer) IsProhibited(m *ir.Method) bool { return t.prohibited[m] }
