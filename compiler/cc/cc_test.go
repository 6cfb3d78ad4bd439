package cc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allExplicit() []Set {
	var l []Set

	for bits := 0; bits < 1<<NumFlags; bits++ {
		var s Set

		for f := Flag(0); f < NumFlags; f++ {
			s = s.Add(Make(f, bits&(1<<f) != 0))
		}

		l = append(l, s)
	}

	return l
}

func TestDeltaRoundTrip(t *testing.T) {
	sets := allExplicit()
	require.Len(t, sets, 16)

	for _, from := range sets {
		for _, to := range sets {
			set, reset, changed := Delta(from, to)

			assert.Equal(t, from != to, changed, "%v -> %v", from, to)
			assert.Equal(t, to, Apply(from, set, reset), "%v -> %v", from, to)
			assert.Equal(t, from, Apply(to, reset, set), "%v <- %v", from, to)
		}
	}
}

func TestDeltaWithUnspecified(t *testing.T) {
	from := Of(NullChecksOff, AllocationsOff)
	to := Of(AllocationsOn)

	set, reset, changed := Delta(from, to)
	require.True(t, changed)

	assert.Equal(t, []Constraint{AllocationsOn}, set)
	assert.Equal(t, []Constraint{NullChecksOff, AllocationsOff}, reset)
	assert.Equal(t, to, Apply(from, set, reset))

	_, _, changed = Delta(to, to)
	assert.False(t, changed)
}

func TestCompose(t *testing.T) {
	a := Of(NullChecksOff, BoundsChecksOff)
	b := Of(NullChecksOn, StackAccessOff)

	c := Compose(a, b)

	assert.True(t, c.Has(NullChecksOn))
	assert.True(t, c.Has(BoundsChecksOff))
	assert.True(t, c.Has(StackAccessOff))
	assert.False(t, c.Specified(Allocations))
	assert.True(t, c.Enabled(Allocations))

	assert.Equal(t, a, Compose(a, Set{}))
	assert.Equal(t, b, Compose(Set{}, b))
}

func TestRemove(t *testing.T) {
	s := Of(NullChecksOff, BoundsChecksOff, AllocationsOff)

	s = s.Remove(NullChecksOff).Remove(BoundsChecksOff).Remove(AllocationsOn)

	assert.Equal(t, Of(AllocationsOff), s)
	assert.True(t, s.Enabled(NullChecks))
	assert.False(t, s.Enabled(Allocations))
	assert.Equal(t, "[Allocations_OFF]", s.String())
}
