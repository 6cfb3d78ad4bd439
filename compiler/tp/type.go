// Package tp describes semantic types: the debug-level view of values
// that survives lowering, including struct layouts used for field access.
package tp

import (
	"fmt"
	"strings"
)

type (
	Type interface {
		Size() int
		String() string
	}

	Void struct{}
	Bool struct{}

	Int struct {
		Bits   int16
		Signed bool
	}

	Float struct {
		Bits int16
	}

	Ptr struct {
		X Type
	}

	Array struct {
		X   Type
		Len int
	}

	// Struct is a value type or a reference type.
	// The first field of a reference type is its base class
	// unless the type is the hierarchy root.
	Struct struct {
		Name   string
		Fields []StructField
		Value  bool
		Root   bool
	}

	StructField struct {
		Name   string
		Offset int
		Type   Type
	}

	// Boxed wraps a value type into an object with a header.
	Boxed struct {
		Name   string
		Header Type
		X      Type
	}

	Func struct {
		In  []Type
		Out []Type
	}
)

var (
	I8  = Int{Bits: 8, Signed: true}
	I16 = Int{Bits: 16, Signed: true}
	I32 = Int{Bits: 32, Signed: true}
	I64 = Int{Bits: 64, Signed: true}
	U8  = Int{Bits: 8}
	U16 = Int{Bits: 16}
	U32 = Int{Bits: 32}
	U64 = Int{Bits: 64}
	F32 = Float{Bits: 32}
	F64 = Float{Bits: 64}
)

const PtrSize = 4

func (Void) Size() int    { return 0 }
func (Bool) Size() int    { return 1 }
func (x Int) Size() int   { return int(x.Bits) / 8 }
func (x Float) Size() int { return int(x.Bits) / 8 }
func (Ptr) Size() int     { return PtrSize }
func (x Array) Size() int { return x.X.Size() * x.Len }
func (*Func) Size() int   { return PtrSize }

func (x *Struct) Size() (s int) {
	for _, f := range x.Fields {
		if e := f.Offset + f.Type.Size(); e > s {
			s = e
		}
	}

	return s
}

func (x *Boxed) Size() int {
	return x.Header.Size() + x.X.Size()
}

// Fields returns the boxed layout: the header followed by the wrapped value.
func (x *Boxed) Fields() []StructField {
	return []StructField{
		{Name: "header", Offset: 0, Type: x.Header},
		{Name: "value", Offset: x.Header.Size(), Type: x.X},
	}
}

func (Void) String() string { return "void" }
func (Bool) String() string { return "bool" }

func (x Int) String() string {
	if x.Signed {
		return fmt.Sprintf("i%d", x.Bits)
	}

	return fmt.Sprintf("u%d", x.Bits)
}

func (x Float) String() string   { return fmt.Sprintf("f%d", x.Bits) }
func (x Ptr) String() string     { return "*" + x.X.String() }
func (x Array) String() string   { return fmt.Sprintf("[%d]%v", x.Len, x.X) }
func (x *Struct) String() string { return x.Name }
func (x *Boxed) String() string  { return x.Name }

func (x *Func) String() string {
	var b strings.Builder

	b.WriteString("func(")

	for i, t := range x.In {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(t.String())
	}

	b.WriteString(")")

	switch len(x.Out) {
	case 0:
	case 1:
		b.WriteString(" " + x.Out[0].String())
	default:
		b.WriteString(" (")

		for i, t := range x.Out {
			if i != 0 {
				b.WriteString(", ")
			}

			b.WriteString(t.String())
		}

		b.WriteString(")")
	}

	return b.String()
}

func IsPrimitive(t Type) bool {
	switch t.(type) {
	case Int, Float, Bool:
		return true
	}

	return false
}

func IsSigned(t Type) bool {
	x, ok := t.(Int)
	return ok && x.Signed
}

func IsFloat(t Type) bool {
	_, ok := t.(Float)
	return ok
}

func IsPointer(t Type) bool {
	switch t.(type) {
	case Ptr, *Func:
		return true
	}

	return false
}

func IsVoid(t Type) bool {
	_, ok := t.(Void)
	return t == nil || ok
}

// Elem returns the pointee of a pointer type or nil.
func Elem(t Type) Type {
	if p, ok := t.(Ptr); ok {
		return p.X
	}

	return nil
}

func SizeInBits(t Type) int {
	if _, ok := t.(Bool); ok {
		return 1
	}

	return t.Size() * 8
}
