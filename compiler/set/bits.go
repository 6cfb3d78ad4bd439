// Package set implements dense bit sets over small integer ids:
// method ids for reachability and block ids for graph walks.
package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int32 | ~int64
	}

	Bits[K Key] struct {
		b  []uint64
		b0 [2]uint64
	}
)

func MakeBits[K Key](n int) Bits[K] {
	var s Bits[K]

	s.b = s.b0[:]
	s.grow((n + 63) / 64)

	return s
}

func Of[K Key](ks ...K) Bits[K] {
	var s Bits[K]

	s.SetAll(ks...)

	return s
}

// Set adds k and reports whether it was not there before.
func (s *Bits[K]) Set(k K) bool {
	i, j := ij(k)

	s.grow(i + 1)

	if s.b[i]&(1<<j) != 0 {
		return false
	}

	s.b[i] |= 1 << j

	return true
}

func (s *Bits[K]) SetAll(ks ...K) {
	for _, k := range ks {
		s.Set(k)
	}
}

func (s Bits[K]) IsSet(k K) bool {
	i, j := ij(k)

	if k < 0 || i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s Bits[K]) Clear(k K) {
	i, j := ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bits[K]) Merge(x Bits[K]) {
	s.grow(len(x.b))

	for i, x := range x.b {
		s.b[i] |= x
	}
}

func (s Bits[K]) Size() (r int) {
	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

// Range calls f in increasing key order until it returns false.
func (s Bits[K]) Range(f func(k K) bool) {
	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

func (s Bits[K]) Slice() []K {
	l := make([]K, 0, s.Size())

	s.Range(func(k K) bool {
		l = append(l, k)
		return true
	})

	return l
}

func (s *Bits[K]) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	return e.AppendBreak(b)
}

func ij[K Key](k K) (i, j int) {
	p := int(k)

	return p / 64, p % 64
}

func (s *Bits[K]) grow(n int) {
	if s.b == nil {
		s.b = s.b0[:]
	}

	for n > len(s.b) {
		s.b = append(s.b, 0)
	}
}
