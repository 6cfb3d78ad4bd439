package back

import (
	"fmt"
	"strings"

	"github.com/smaillet-ms/llilum/compiler/tp"
)

type (
	Kind uint8

	// Type is a native type. Types are interned per Module,
	// so equal types are the same pointer.
	Type struct {
		Kind Kind
		Bits int

		Elem *Type
		Len  int

		Name   string
		Fields []*Type

		Ret    *Type
		Params []*Type
	}
)

const (
	VoidKind Kind = iota
	IntKind
	FloatKind
	PtrKind
	ArrayKind
	StructKind
	FuncKind
)

func (m *Module) intern(t Type) *Type {
	k := t.String()

	if x, ok := m.types[k]; ok {
		return x
	}

	p := &t
	m.types[k] = p

	return p
}

func (m *Module) Void() *Type          { return m.intern(Type{Kind: VoidKind}) }
func (m *Module) Int(bits int) *Type   { return m.intern(Type{Kind: IntKind, Bits: bits}) }
func (m *Module) Float(bits int) *Type { return m.intern(Type{Kind: FloatKind, Bits: bits}) }
func (m *Module) Ptr(elem *Type) *Type { return m.intern(Type{Kind: PtrKind, Elem: elem}) }
func (m *Module) Array(elem *Type, n int) *Type {
	return m.intern(Type{Kind: ArrayKind, Elem: elem, Len: n})
}

// Struct returns the named struct type. Fields of an existing
// struct with the same name are not replaced.
// Anonymous structs are identified by their fields.
func (m *Module) Struct(name string, fields ...*Type) *Type {
	return m.intern(Type{Kind: StructKind, Name: name, Fields: fields})
}

func (m *Module) Func(ret *Type, params ...*Type) *Type {
	return m.intern(Type{Kind: FuncKind, Ret: ret, Params: params})
}

// Native lowers a semantic type.
func (m *Module) Native(t tp.Type) *Type {
	switch t := t.(type) {
	case nil, tp.Void:
		return m.Void()
	case tp.Bool:
		return m.Int(1)
	case tp.Int:
		return m.Int(int(t.Bits))
	case tp.Float:
		return m.Float(int(t.Bits))
	case tp.Ptr:
		return m.Ptr(m.Native(t.X))
	case tp.Array:
		return m.Array(m.Native(t.X), t.Len)
	case *tp.Struct:
		return m.namedStruct(t.Name, t.Fields)
	case *tp.Boxed:
		return m.namedStruct(t.Name, t.Fields())
	case *tp.Func:
		// code pointer wrapped into a delegate
		return m.Struct("", m.Ptr(m.Int(8)))
	default:
		panic(fmt.Sprintf("unsupported type %T", t))
	}
}

func (m *Module) namedStruct(name string, fields []tp.StructField) *Type {
	k := "%" + name

	if x, ok := m.types[k]; ok {
		return x
	}

	// registered before lowering fields, so self references resolve
	s := &Type{Kind: StructKind, Name: name}
	m.types[k] = s

	for _, f := range fields {
		s.Fields = append(s.Fields, m.Native(f.Type))
	}

	return s
}

func (t *Type) IsInt() bool   { return t.Kind == IntKind }
func (t *Type) IsFloat() bool { return t.Kind == FloatKind }
func (t *Type) IsPtr() bool   { return t.Kind == PtrKind }
func (t *Type) IsVoid() bool  { return t.Kind == VoidKind }

func (t *Type) SizeInBits() int {
	switch t.Kind {
	case IntKind, FloatKind:
		return t.Bits
	case PtrKind:
		return tp.PtrSize * 8
	case ArrayKind:
		return t.Len * t.Elem.SizeInBits()
	case StructKind:
		s := 0

		for _, f := range t.Fields {
			s += f.SizeInBits()
		}

		return s
	}

	return 0
}

func (t *Type) String() string {
	var b strings.Builder

	t.print(&b)

	return b.String()
}

// print writes t. Named structs are printed by name.
func (t *Type) print(b *strings.Builder) {
	switch t.Kind {
	case VoidKind:
		b.WriteString("void")
	case IntKind:
		fmt.Fprintf(b, "i%d", t.Bits)
	case FloatKind:
		switch t.Bits {
		case 32:
			b.WriteString("float")
		case 64:
			b.WriteString("double")
		default:
			fmt.Fprintf(b, "f%d", t.Bits)
		}
	case PtrKind:
		t.Elem.print(b)
		b.WriteString("*")
	case ArrayKind:
		fmt.Fprintf(b, "[%d x ", t.Len)
		t.Elem.print(b)
		b.WriteString("]")
	case StructKind:
		if t.Name != "" {
			b.WriteString("%" + t.Name)
			return
		}

		b.WriteString("{ ")

		for i, f := range t.Fields {
			if i != 0 {
				b.WriteString(", ")
			}

			f.print(b)
		}

		b.WriteString(" }")
	case FuncKind:
		t.Ret.print(b)
		b.WriteString(" (")

		for i, p := range t.Params {
			if i != 0 {
				b.WriteString(", ")
			}

			p.print(b)
		}

		b.WriteString(")")
	}
}

// body renders the definition of a named struct.
func (t *Type) body() string {
	var b strings.Builder

	b.WriteString("{ ")

	for i, f := range t.Fields {
		if i != 0 {
			b.WriteString(", ")
		}

		f.print(&b)
	}

	b.WriteString(" }")

	return b.String()
}
