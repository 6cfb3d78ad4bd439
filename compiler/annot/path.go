package annot

import (
	"strings"

	"tlog.app/go/tlog/tlwire"

	"github.com/smaillet-ms/llilum/compiler/ir"
)

type (
	// InliningPath records the chain of methods, outermost first, through
	// which an operator or variable was inlined into its current method.
	//
	// DebugInfoPath()[i] is the location inside Path()[i-1] (or the host
	// method for i == 0) where Path()[i] was called. The node's own
	// location is not part of the path.
	InliningPath struct {
		path     []*ir.Method
		debug    []*ir.DebugInfo
		squashed bool
	}
)

var _ interface {
	ir.Annotation
	ir.Cloner
	ir.Transformable
} = &InliningPath{}

// Create merges outer ++ [md at callSite] ++ inner and interns the result.
// Nil outer and inner are empty paths.
func Create(c *Cache, outer *InliningPath, md *ir.Method, callSite *ir.DebugInfo, inner *InliningPath) *InliningPath {
	n := 1 + outer.Len() + inner.Len()

	a := &InliningPath{
		path:  make([]*ir.Method, 0, n),
		debug: make([]*ir.DebugInfo, 0, n),
	}

	if outer != nil {
		a.path = append(a.path, outer.path...)
		a.debug = append(a.debug, outer.debug...)
	}

	a.path = append(a.path, md)
	a.debug = append(a.debug, callSite)

	if inner != nil {
		a.path = append(a.path, inner.path...)
		a.debug = append(a.debug, inner.debug...)
	}

	return c.Unique(a).(*InliningPath)
}

// Get returns the inlining path attached to a or nil.
func Get(a *ir.Annotated) *InliningPath {
	p, _ := ir.Find[*InliningPath](a)

	return p
}

func (a *InliningPath) Path() []*ir.Method             { return a.path }
func (a *InliningPath) DebugInfoPath() []*ir.DebugInfo { return a.debug }
func (a *InliningPath) Squashed() bool                 { return a.squashed }

func (a *InliningPath) Len() int {
	if a == nil {
		return 0
	}

	return len(a.path)
}

func (a *InliningPath) AnnotationHash() uint64 {
	if len(a.path) == 0 {
		return 0
	}

	return methodHash(a.path[0])
}

func (a *InliningPath) AnnotationEqual(x ir.Annotation) bool {
	b, ok := x.(*InliningPath)
	if !ok || len(a.path) != len(b.path) || len(a.debug) != len(b.debug) {
		return false
	}

	for i, m := range a.path {
		if b.path[i] != m {
			return false
		}
	}

	for i, d := range a.debug {
		if !sameDebugInfo(d, b.debug[i]) {
			return false
		}
	}

	return true
}

func sameDebugInfo(x, y *ir.DebugInfo) bool {
	if x == nil || y == nil {
		return x == y
	}

	return *x == *y
}

// Clone maps the path through ctx. If no method changes, a is returned.
func (a *InliningPath) Clone(ctx ir.CloneContext) ir.Annotation {
	var path []*ir.Method

	for i, m := range a.path {
		n := ctx.ConvertMethod(m)
		if n == m && path == nil {
			continue
		}

		if path == nil {
			path = make([]*ir.Method, len(a.path))
			copy(path, a.path[:i])
		}

		path[i] = n
	}

	if path == nil {
		return a
	}

	return ctx.Unique(&InliningPath{
		path:     path,
		debug:    a.debug,
		squashed: a.squashed,
	})
}

// Prune drops, scanning from the innermost end, every step whose method
// is no longer live. A path emptied this way becomes squashed.
func (a *InliningPath) Prune(live func(*ir.Method) bool) (changed bool) {
	for i := len(a.path) - 1; i >= 0; i-- {
		if live(a.path[i]) {
			continue
		}

		a.path = append(a.path[:i:i], a.path[i+1:]...)
		a.debug = append(a.debug[:i:i], a.debug[i+1:]...)

		changed = true
	}

	if changed && len(a.path) == 0 {
		a.squashed = true
	}

	return changed
}

// ApplyTransformation changes a in place. Interned instances must be
// transformed through Cache.Transform, or followed by Cache.Reindex,
// since the path head is the hash key.
func (a *InliningPath) ApplyTransformation(t ir.Transformer) {
	switch t.Reason() {
	case ir.TransformCallsClosure:
		// the path may refer to methods that are not yet known to be reachable
	case ir.TransformFlagProhibitedUses:
		a.Prune(func(m *ir.Method) bool { return !t.IsProhibited(m) })
	case ir.TransformGeneric:
		for i, m := range a.path {
			a.path[i] = t.TransformMethod(m)
		}
	}
}

func (a *InliningPath) String() string {
	var b strings.Builder

	b.WriteString("<inlined")

	if a.squashed {
		b.WriteString(" squashed")
	}

	b.WriteString(" path [")

	for i, m := range a.path {
		if i != 0 {
			b.WriteString(" -> ")
		}

		b.WriteString(m.String())
	}

	b.WriteString("] at [")

	for i, d := range a.debug {
		if i != 0 {
			b.WriteString(" -> ")
		}

		b.WriteString(d.String())
	}

	b.WriteString("]>")

	return b.String()
}

func (a *InliningPath) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if a == nil {
		return e.AppendNil(b)
	}

	return e.AppendString(b, a.String())
}

func methodHash(m *ir.Method) uint64 {
	h := uint64(m.ID) + 1

	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33

	return h
}
