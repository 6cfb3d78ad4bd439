package back

import (
	"github.com/smaillet-ms/llilum/compiler/debug"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

type (
	// Value is an SSA value: a parameter, a constant, a function
	// or the result of an instruction. Sem is the semantic type the value
	// was produced for. It may be more precise than the native Type.
	Value struct {
		Name string
		Type *Type
		Sem  tp.Type

		Const bool
		Int   int64
		Float float64

		Func  *Function
		Instr *Instr
	}

	Op uint8

	Instr struct {
		Op   Op
		Pred string

		Result *Value
		Args   []*Value

		// cast destination, alloca type
		Type *Type

		Targets []*Block
		Cases   []int64
		Indices []int

		Var *debug.LocalVariable
		Loc *debug.Location
	}
)

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpAShr
	OpLShr
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpNeg
	OpFNeg
	OpNot
	OpICmp
	OpFCmp
	OpZExt
	OpSExt
	OpTrunc
	OpBitCast
	OpPtrToInt
	OpIntToPtr
	OpSIToFP
	OpUIToFP
	OpFPToSI
	OpFPToUI
	OpFPExt
	OpFPTrunc
	OpAlloca
	OpLoad
	OpStore
	OpGEP
	OpExtractValue
	OpMemCpy
	OpMemMove
	OpMemSet
	OpCall
	OpAtomicRMW
	OpCmpXchg
	OpDeclare

	OpBr
	OpCondBr
	OpSwitch
	OpRet
	OpUnreachable
)

var opNames = [...]string{
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpSDiv:         "sdiv",
	OpUDiv:         "udiv",
	OpSRem:         "srem",
	OpURem:         "urem",
	OpAnd:          "and",
	OpOr:           "or",
	OpXor:          "xor",
	OpShl:          "shl",
	OpAShr:         "ashr",
	OpLShr:         "lshr",
	OpFAdd:         "fadd",
	OpFSub:         "fsub",
	OpFMul:         "fmul",
	OpFDiv:         "fdiv",
	OpNeg:          "neg",
	OpFNeg:         "fneg",
	OpNot:          "not",
	OpICmp:         "icmp",
	OpFCmp:         "fcmp",
	OpZExt:         "zext",
	OpSExt:         "sext",
	OpTrunc:        "trunc",
	OpBitCast:      "bitcast",
	OpPtrToInt:     "ptrtoint",
	OpIntToPtr:     "inttoptr",
	OpSIToFP:       "sitofp",
	OpUIToFP:       "uitofp",
	OpFPToSI:       "fptosi",
	OpFPToUI:       "fptoui",
	OpFPExt:        "fpext",
	OpFPTrunc:      "fptrunc",
	OpAlloca:       "alloca",
	OpLoad:         "load",
	OpStore:        "store",
	OpGEP:          "getelementptr",
	OpExtractValue: "extractvalue",
	OpMemCpy:       "memcpy",
	OpMemMove:      "memmove",
	OpMemSet:       "memset",
	OpCall:         "call",
	OpAtomicRMW:    "atomicrmw",
	OpCmpXchg:      "cmpxchg",
	OpDeclare:      "dbg.declare",
	OpBr:           "br",
	OpCondBr:       "br",
	OpSwitch:       "switch",
	OpRet:          "ret",
	OpUnreachable:  "unreachable",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}

	return "op(?)"
}

func (o Op) IsTerminator() bool { return o >= OpBr }

// ConstInt makes an integer constant of semantic type t.
func (m *Module) ConstInt(t tp.Type, v int64) *Value {
	return &Value{Type: m.Native(t), Sem: t, Const: true, Int: v}
}

func (m *Module) ConstFloat(t tp.Type, v float64) *Value {
	return &Value{Type: m.Native(t), Sem: t, Const: true, Float: v}
}

// Pointee is the semantic type a pointer value points to or nil.
func (v *Value) Pointee() tp.Type {
	return tp.Elem(v.Sem)
}
