package ir

type (
	BinOp    int
	UnOp     int
	CmpPred  int
	ConvKind int
	AtomicOp int
)

const (
	OpNop Opcode = iota
	OpAssign
	OpInit
	OpConst
	OpBinary
	OpUnary
	OpCmp
	OpConvert
	OpLoad
	OpStore
	OpFieldAddr
	OpCall
	OpIndirectCall
	OpAtomic
	OpConstraints

	OpBranch
	OpCondBranch
	OpSwitch
	OpReturn
	OpUnreachable
)

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr
)

const (
	Neg UnOp = iota
	Not
	Finite
)

const (
	Eq CmpPred = iota
	Ge
	Gt
	Le
	Lt
	Ne
)

const (
	ZeroExtend ConvKind = iota
	SignExtend
	Truncate
	BitCast
	PtrToInt
	IntToPtr
	IntToFP
	FPToInt
	FPExt
	FPTrunc
)

const (
	AtomicXchg AtomicOp = iota
	AtomicAdd
	AtomicSub
	AtomicAnd
	AtomicNand
	AtomicOr
	AtomicXor
	AtomicMax
	AtomicMin
	AtomicUMax
	AtomicUMin
	AtomicCmpXchg
)

var opNames = [...]string{
	OpNop:          "nop",
	OpAssign:       "assign",
	OpInit:         "init",
	OpConst:        "const",
	OpBinary:       "binary",
	OpUnary:        "unary",
	OpCmp:          "cmp",
	OpConvert:      "convert",
	OpLoad:         "load",
	OpStore:        "store",
	OpFieldAddr:    "fieldaddr",
	OpCall:         "call",
	OpIndirectCall: "icall",
	OpAtomic:       "atomic",
	OpConstraints:  "constraints",
	OpBranch:       "br",
	OpCondBranch:   "brif",
	OpSwitch:       "switch",
	OpReturn:       "ret",
	OpUnreachable:  "unreachable",
}

var binNames = [...]string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr"}

func (o Opcode) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}

	return "op(?)"
}

func (o Opcode) IsFlowControl() bool {
	return o >= OpBranch
}

func (b BinOp) String() string {
	if b >= 0 && int(b) < len(binNames) {
		return binNames[b]
	}

	return "binop(?)"
}

func ParseBinOp(s string) (BinOp, bool) {
	for i, n := range binNames {
		if n == s {
			return BinOp(i), true
		}
	}

	return 0, false
}

// Name is a short mnemonic of the operator used in dumps.
func (op *Operator) Name() string {
	switch op.Op {
	case OpBinary:
		return BinOp(op.Sub).String()
	default:
		return op.Op.String()
	}
}

func (op *Operator) IsCall() bool {
	return op.Op == OpCall || op.Op == OpIndirectCall
}
