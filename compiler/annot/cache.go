// Package annot interns IR annotations per compilation unit and implements
// the inlining path annotation.
package annot

import (
	"sync"

	"github.com/smaillet-ms/llilum/compiler/ir"
)

type (
	// Cache makes annotations unique within one compilation unit.
	// It is safe for concurrent use.
	Cache struct {
		mu  sync.Mutex
		m   map[uint64][]ir.Annotation
		all []ir.Annotation
	}
)

func NewCache() *Cache {
	return &Cache{
		m: make(map[uint64][]ir.Annotation),
	}
}

// Unique returns the interned instance equal to a,
// registering a if there is none.
func (c *Cache) Unique(a ir.Annotation) ir.Annotation {
	defer c.mu.Unlock()
	c.mu.Lock()

	if x := c.find(a); x != nil {
		return x
	}

	c.add(a)

	return a
}

func (c *Cache) Len() int {
	defer c.mu.Unlock()
	c.mu.Lock()

	return len(c.all)
}

// Range calls f for every interned annotation in insertion order
// until f returns false.
func (c *Cache) Range(f func(ir.Annotation) bool) {
	c.mu.Lock()
	l := append([]ir.Annotation{}, c.all...)
	c.mu.Unlock()

	for _, a := range l {
		if !f(a) {
			return
		}
	}
}

// Transform applies t to every interned annotation in place and
// reindexes. It returns the Reindex replacements.
func (c *Cache) Transform(t ir.Transformer) map[ir.Annotation]ir.Annotation {
	c.Range(func(a ir.Annotation) bool {
		if x, ok := a.(ir.Transformable); ok {
			x.ApplyTransformation(t)
		}

		return true
	})

	return c.Reindex()
}

// Reindex rebuilds the index after annotations were changed in place.
// Annotations that became equal collapse into the earliest one; the
// returned map sends every dropped instance to its surviving twin.
func (c *Cache) Reindex() map[ir.Annotation]ir.Annotation {
	defer c.mu.Unlock()
	c.mu.Lock()

	all := c.all

	c.m = make(map[uint64][]ir.Annotation, len(all))
	c.all = nil

	var repl map[ir.Annotation]ir.Annotation

	for _, a := range all {
		if x := c.find(a); x != nil {
			if repl == nil {
				repl = make(map[ir.Annotation]ir.Annotation)
			}

			repl[a] = x

			continue
		}

		c.add(a)
	}

	return repl
}

func (c *Cache) find(a ir.Annotation) ir.Annotation {
	for _, x := range c.m[a.AnnotationHash()] {
		if x.AnnotationEqual(a) {
			return x
		}
	}

	return nil
}

func (c *Cache) add(a ir.Annotation) {
	h := a.AnnotationHash()

	c.m[h] = append(c.m[h], a)
	c.all = append(c.all, a)
}
