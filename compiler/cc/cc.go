// Package cc implements compilation constraints: per-region safety-check
// toggles and the algebra to compose and diff them across inlined boundaries.
//
// A Set holds only explicit toggles. A flag that is not specified inherits
// the default, which is ON for every flag.
package cc

import (
	"strings"

	"tlog.app/go/tlog/tlwire"
)

type (
	Flag       uint8
	Constraint uint8

	Set struct {
		mask uint8
		on   uint8
	}
)

const (
	NullChecks Flag = iota
	BoundsChecks
	Allocations
	StackAccess

	NumFlags
)

const (
	NullChecksOn Constraint = iota
	NullChecksOff
	BoundsChecksOn
	BoundsChecksOff
	AllocationsOn
	AllocationsOff
	StackAccessOn
	StackAccessOff
)

var flagNames = [NumFlags]string{"NullChecks", "BoundsChecks", "Allocations", "StackAccess"}

func Make(f Flag, on bool) Constraint {
	c := Constraint(f) << 1
	if !on {
		c |= 1
	}

	return c
}

func (c Constraint) Flag() Flag { return Flag(c >> 1) }
func (c Constraint) On() bool   { return c&1 == 0 }

func (c Constraint) String() string {
	if c.On() {
		return c.Flag().String() + "_ON"
	}

	return c.Flag().String() + "_OFF"
}

func (f Flag) String() string {
	if f >= NumFlags {
		return "Flag(?)"
	}

	return flagNames[f]
}

func Of(cs ...Constraint) (s Set) {
	for _, c := range cs {
		s = s.Add(c)
	}

	return s
}

func (s Set) Has(c Constraint) bool {
	bit := uint8(1) << c.Flag()

	return s.mask&bit != 0 && (s.on&bit != 0) == c.On()
}

func (s Set) Specified(f Flag) bool {
	return s.mask&(1<<f) != 0
}

// Enabled reports the effective state of f.
func (s Set) Enabled(f Flag) bool {
	bit := uint8(1) << f

	return s.mask&bit == 0 || s.on&bit != 0
}

// Add sets c, overriding the opposite toggle of the same flag.
func (s Set) Add(c Constraint) Set {
	bit := uint8(1) << c.Flag()

	s.mask |= bit

	if c.On() {
		s.on |= bit
	} else {
		s.on &^= bit
	}

	return s
}

// Remove drops c if it is present. The flag becomes unspecified.
func (s Set) Remove(c Constraint) Set {
	if !s.Has(c) {
		return s
	}

	bit := uint8(1) << c.Flag()

	s.mask &^= bit
	s.on &^= bit

	return s
}

func (s Set) IsEmpty() bool { return s.mask == 0 }

// Constraints lists the explicit toggles in flag order.
func (s Set) Constraints() []Constraint {
	var l []Constraint

	for f := Flag(0); f < NumFlags; f++ {
		if s.Specified(f) {
			l = append(l, Make(f, s.on&(1<<f) != 0))
		}
	}

	return l
}

// Compose puts b on top of a: toggles specified in b win,
// everything else is inherited from a.
func Compose(a, b Set) Set {
	return Set{
		mask: a.mask | b.mask,
		on:   a.on&^b.mask | b.on&b.mask,
	}
}

// Delta computes the minimal change turning from into to.
// set holds toggles of to missing in from, reset the converse.
func Delta(from, to Set) (set, reset []Constraint, changed bool) {
	if from == to {
		return nil, nil, false
	}

	for f := Flag(0); f < NumFlags; f++ {
		fc, tc := from.get(f), to.get(f)

		if to.Specified(f) && (!from.Specified(f) || fc != tc) {
			set = append(set, tc)
		}

		if from.Specified(f) && (!to.Specified(f) || fc != tc) {
			reset = append(reset, fc)
		}
	}

	return set, reset, len(set)+len(reset) != 0
}

// Apply removes reset and then adds set.
func Apply(s Set, set, reset []Constraint) Set {
	for _, c := range reset {
		s = s.Remove(c)
	}

	for _, c := range set {
		s = s.Add(c)
	}

	return s
}

func (s Set) get(f Flag) Constraint {
	return Make(f, s.on&(1<<f) != 0)
}

func (s Set) String() string {
	if s.IsEmpty() {
		return "[]"
	}

	var b strings.Builder

	b.WriteByte('[')

	for i, c := range s.Constraints() {
		if i != 0 {
			b.WriteByte(' ')
		}

		b.WriteString(c.String())
	}

	b.WriteByte(']')

	return b.String()
}

func (s Set) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, s.String())
}
