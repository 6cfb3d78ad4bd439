package back

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
)

// Print renders the module as text.
func (m *Module) Print(b []byte) []byte {
	b = hfmt.Appendf(b, "; ModuleID = '%s'\n", m.Name)

	if m.Debug != nil {
		cu := m.Debug.CU
		b = hfmt.Appendf(b, "; compile unit %s producer %s file %s\n", cu.ID.String(), strconv.Quote(cu.Producer), cu.File.Name)
	}

	var named []string

	for k := range m.types {
		if strings.HasPrefix(k, "%") {
			named = append(named, k)
		}
	}

	sort.Strings(named)

	if len(named) != 0 {
		b = append(b, '\n')
	}

	for _, k := range named {
		b = hfmt.Appendf(b, "%s = type %s\n", k, m.types[k].body())
	}

	for _, f := range m.Funcs {
		b = append(b, '\n')
		b = f.print(b)
	}

	return b
}

func (f *Function) print(b []byte) []byte {
	kw := "define"
	if len(f.Blocks) == 0 {
		kw = "declare"
	}

	b = hfmt.Appendf(b, "%s ", kw)

	for _, a := range f.Attrs {
		b = hfmt.Appendf(b, "%s ", a)
	}

	b = hfmt.Appendf(b, "%s @%s(", f.Type.Ret.String(), strconv.Quote(f.Name))

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = operand(b, p)
	}

	b = append(b, ')')

	if len(f.Blocks) == 0 {
		return append(b, '\n')
	}

	if f.Sub != nil {
		b = hfmt.Appendf(b, " !dbg %s", f.Sub.LinkageName)
	}

	b = append(b, " {\n"...)

	for _, bl := range f.Blocks {
		b = hfmt.Appendf(b, "%s:\n", bl.Name)

		for _, in := range bl.Instrs {
			b = append(b, "  "...)
			b = in.print(b)
			b = append(b, '\n')
		}
	}

	return append(b, "}\n"...)
}

func (in *Instr) print(b []byte) []byte {
	if in.Result != nil {
		b = hfmt.Appendf(b, "%%%s = ", in.Result.Name)
	}

	b = append(b, in.Op.String()...)

	switch in.Op {
	case OpICmp, OpFCmp, OpAtomicRMW:
		b = hfmt.Appendf(b, " %s ", in.Pred)
		b = operands(b, in.Args)
	case OpZExt, OpSExt, OpTrunc, OpBitCast, OpPtrToInt, OpIntToPtr,
		OpSIToFP, OpUIToFP, OpFPToSI, OpFPToUI, OpFPExt, OpFPTrunc:
		b = append(b, ' ')
		b = operand(b, in.Args[0])
		b = hfmt.Appendf(b, " to %s", in.Type.String())
	case OpAlloca:
		b = hfmt.Appendf(b, " %s", in.Type.String())
	case OpLoad:
		b = hfmt.Appendf(b, " %s, ", in.Result.Type.String())
		b = operand(b, in.Args[0])
	case OpGEP:
		b = hfmt.Appendf(b, " %s, ", in.Args[0].Type.Elem.String())
		b = operands(b, in.Args)

		for _, x := range in.Indices {
			b = hfmt.Appendf(b, ", i32 %d", x)
		}
	case OpExtractValue:
		b = append(b, ' ')
		b = operand(b, in.Args[0])

		for _, x := range in.Indices {
			b = hfmt.Appendf(b, ", %d", x)
		}
	case OpCall:
		b = hfmt.Appendf(b, " %s ", in.Type.String())
		b = ref(b, in.Args[0])
		b = append(b, '(')
		b = operands(b, in.Args[1:])
		b = append(b, ')')
	case OpDeclare:
		b = append(b, '(')
		b = operand(b, in.Args[0])
		b = hfmt.Appendf(b, ", %s arg %d)", strconv.Quote(in.Var.Name), in.Var.Arg)
	case OpBr:
		b = hfmt.Appendf(b, " label %%%s", in.Targets[0].Name)
	case OpCondBr:
		b = append(b, ' ')
		b = operand(b, in.Args[0])
		b = hfmt.Appendf(b, ", label %%%s, label %%%s", in.Targets[0].Name, in.Targets[1].Name)
	case OpSwitch:
		b = append(b, ' ')
		b = operand(b, in.Args[0])
		b = hfmt.Appendf(b, ", label %%%s [", in.Targets[0].Name)

		for i, c := range in.Cases {
			b = hfmt.Appendf(b, " %s %d, label %%%s", in.Args[0].Type.String(), c, in.Targets[i+1].Name)
		}

		b = append(b, " ]"...)
	case OpRet:
		if len(in.Args) == 0 {
			b = append(b, " void"...)
			break
		}

		b = append(b, ' ')
		b = operand(b, in.Args[0])
	case OpUnreachable:
	default:
		b = append(b, ' ')
		b = operands(b, in.Args)
	}

	if in.Loc != nil {
		b = hfmt.Appendf(b, ", !dbg %s", in.Loc.String())
	}

	return b
}

func operands(b []byte, vs []*Value) []byte {
	for i, v := range vs {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = operand(b, v)
	}

	return b
}

func operand(b []byte, v *Value) []byte {
	b = hfmt.Appendf(b, "%s ", v.Type.String())

	return ref(b, v)
}

func ref(b []byte, v *Value) []byte {
	switch {
	case v.Func != nil:
		return append(append(b, '@'), strconv.Quote(v.Func.Name)...)
	case v.Const && v.Type.IsFloat():
		return strconv.AppendFloat(b, v.Float, 'g', -1, 64)
	case v.Const:
		return strconv.AppendInt(b, v.Int, 10)
	default:
		return hfmt.Appendf(b, "%%%s", v.Name)
	}
}
