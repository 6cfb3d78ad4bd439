package back

import (
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/smaillet-ms/llilum/compiler/debug"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

type Block struct {
	Name string
	Func *Function

	Instrs []*Instr

	loc *debug.Location
}

// SetLocation sets the location attached to instructions emitted next.
func (b *Block) SetLocation(l *debug.Location) { b.loc = l }

func (b *Block) Location() *debug.Location { return b.loc }

// EnsureLocation defaults the current location to the function start.
func (b *Block) EnsureLocation() {
	if b.loc != nil || b.Func.Sub == nil {
		return
	}

	b.loc = b.Func.Module.Debug.Location(b.Func.Method.Debug, b.Func.Sub, nil)
}

func (b *Block) Terminated() bool {
	return len(b.Instrs) != 0 && b.Instrs[len(b.Instrs)-1].Op.IsTerminator()
}

func (b *Block) emit(in *Instr) *Instr {
	if in.Loc == nil {
		in.Loc = b.loc
	}

	b.Instrs = append(b.Instrs, in)

	return in
}

func (b *Block) insertAt(i int, in *Instr) {
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[i+1:], b.Instrs[i:])
	b.Instrs[i] = in
}

func (b *Block) value(op Op, t *Type, sem tp.Type, args ...*Value) *Value {
	v := b.Func.newValue("", t, sem)
	v.Instr = b.emit(&Instr{Op: op, Result: v, Args: args})

	return v
}

func (b *Block) cast(op Op, v *Value, t *Type, sem tp.Type) *Value {
	r := b.value(op, t, sem, v)
	r.Instr.Type = t

	return r
}

// unsupported logs operand types and returns the fault.
func (b *Block) unsupported(kind ir.FaultKind, what string, vals ...*Value) error {
	types := make([]string, len(vals))

	for i, v := range vals {
		if v == nil {
			types[i] = "<nil>"
			continue
		}

		types[i] = v.Type.String()
		if v.Sem != nil {
			types[i] += " (" + v.Sem.String() + ")"
		}
	}

	list := strings.Join(types, ", ")

	tlog.Printw("unsupported operands", "func", b.Func.Name, "block", b.Name, "what", what, "types", list)

	return ir.NewFault(kind, "%v: %v: operands %v", b.Func.Name, what, list)
}

var (
	intBinOps = [...]Op{
		ir.Add: OpAdd,
		ir.Sub: OpSub,
		ir.Mul: OpMul,
		ir.And: OpAnd,
		ir.Or:  OpOr,
		ir.Xor: OpXor,
		ir.Shl: OpShl,
	}

	floatBinOps = map[ir.BinOp]Op{
		ir.Add: OpFAdd,
		ir.Sub: OpFSub,
		ir.Mul: OpFMul,
		ir.Div: OpFDiv,
	}
)

func (b *Block) BinaryOp(op ir.BinOp, l, r *Value, signed bool) (*Value, error) {
	if l.Type != r.Type {
		return nil, b.unsupported(ir.TypeConsistency, op.String(), l, r)
	}

	switch {
	case l.Type.IsInt():
		var o Op

		switch op {
		case ir.Div:
			o = pick(signed, OpSDiv, OpUDiv)
		case ir.Rem:
			o = pick(signed, OpSRem, OpURem)
		case ir.Shr:
			o = pick(signed, OpAShr, OpLShr)
		case ir.Add, ir.Sub, ir.Mul, ir.And, ir.Or, ir.Xor, ir.Shl:
			o = intBinOps[op]
		default:
			return nil, b.unsupported(ir.Unsupported, op.String(), l, r)
		}

		return b.value(o, l.Type, l.Sem, l, r), nil
	case l.Type.IsFloat():
		o, ok := floatBinOps[op]
		if !ok {
			return nil, b.unsupported(ir.Unsupported, op.String(), l, r)
		}

		return b.value(o, l.Type, l.Sem, l, r), nil
	}

	return nil, b.unsupported(ir.Unsupported, op.String(), l, r)
}

func (b *Block) UnaryOp(op ir.UnOp, v *Value) (*Value, error) {
	switch {
	case op == ir.Finite:
		// no native check, the value passes through
		return v, nil
	case op == ir.Neg && v.Type.IsInt():
		return b.value(OpNeg, v.Type, v.Sem, v), nil
	case op == ir.Neg && v.Type.IsFloat():
		return b.value(OpFNeg, v.Type, v.Sem, v), nil
	case op == ir.Not && v.Type.IsInt():
		return b.value(OpNot, v.Type, v.Sem, v), nil
	}

	return nil, b.unsupported(ir.Unsupported, "unary", v)
}

const (
	signedPreds = 10
	floatPreds  = 20
)

var predicates = map[int]string{
	int(ir.Eq): "eq",
	int(ir.Ge): "uge",
	int(ir.Gt): "ugt",
	int(ir.Le): "ule",
	int(ir.Lt): "ult",
	int(ir.Ne): "ne",

	signedPreds + int(ir.Eq): "eq",
	signedPreds + int(ir.Ge): "sge",
	signedPreds + int(ir.Gt): "sgt",
	signedPreds + int(ir.Le): "sle",
	signedPreds + int(ir.Lt): "slt",
	signedPreds + int(ir.Ne): "ne",

	floatPreds + int(ir.Eq): "oeq",
	floatPreds + int(ir.Ge): "oge",
	floatPreds + int(ir.Gt): "ogt",
	floatPreds + int(ir.Le): "ole",
	floatPreds + int(ir.Lt): "olt",
	floatPreds + int(ir.Ne): "one",
}

// Cmp compares two values. The result is a bool.
func (b *Block) Cmp(pred ir.CmpPred, signed bool, l, r *Value) (*Value, error) {
	var op Op
	key := int(pred)

	switch {
	case l.Type != r.Type:
		return nil, b.unsupported(ir.TypeConsistency, "cmp", l, r)
	case l.Type.IsInt(), l.Type.IsPtr():
		op = OpICmp

		if signed {
			key += signedPreds
		}
	case l.Type.IsFloat():
		op = OpFCmp
		key += floatPreds
	default:
		return nil, b.unsupported(ir.Unsupported, "cmp", l, r)
	}

	p, ok := predicates[key]
	if !ok || pred < ir.Eq || pred > ir.Ne {
		return nil, ir.NewFault(ir.Unsupported, "%v: cmp predicate %d", b.Func.Name, pred)
	}

	v := b.value(op, b.Func.Module.Int(1), tp.Bool{}, l, r)
	v.Instr.Pred = p

	return v, nil
}

// ZExt zero extends the low significantBits of v to t.
func (b *Block) ZExt(v *Value, t tp.Type, significantBits int) (*Value, error) {
	return b.extend(OpZExt, v, t, significantBits)
}

func (b *Block) SExt(v *Value, t tp.Type, significantBits int) (*Value, error) {
	return b.extend(OpSExt, v, t, significantBits)
}

func (b *Block) extend(op Op, v *Value, t tp.Type, significantBits int) (*Value, error) {
	m := b.Func.Module

	if v.Sem != nil && significantBits != tp.SizeInBits(v.Sem) {
		var err error

		v, err = b.truncOrBitCast(v, m.Int(significantBits), tp.Int{Bits: int16(significantBits)})
		if err != nil {
			return nil, err
		}
	}

	dst := m.Native(t)

	switch {
	case v.Type == dst:
		return retyped(v, t), nil
	case v.Type.IsInt() && dst.IsInt() && v.Type.Bits < dst.Bits:
		return b.cast(op, v, dst, t), nil
	case v.Type.SizeInBits() == dst.SizeInBits():
		return b.cast(OpBitCast, v, dst, t), nil
	}

	return nil, b.unsupported(ir.TypeConsistency, op.String()+" to "+dst.String(), v)
}

// Trunc keeps the low significantBits of v.
func (b *Block) Trunc(v *Value, t tp.Type, significantBits int) (*Value, error) {
	if significantBits < tp.SizeInBits(t) {
		return b.ZExt(v, t, significantBits)
	}

	return b.truncOrBitCast(v, b.Func.Module.Native(t), t)
}

func (b *Block) truncOrBitCast(v *Value, dst *Type, t tp.Type) (*Value, error) {
	switch {
	case v.Type == dst:
		return retyped(v, t), nil
	case v.Type.IsInt() && dst.IsInt() && v.Type.Bits > dst.Bits:
		return b.cast(OpTrunc, v, dst, t), nil
	case v.Type.SizeInBits() == dst.SizeInBits():
		return b.cast(OpBitCast, v, dst, t), nil
	}

	return nil, b.unsupported(ir.TypeConsistency, "trunc to "+dst.String(), v)
}

func (b *Block) BitCast(v *Value, t tp.Type) (*Value, error) {
	dst := b.Func.Module.Native(t)

	switch {
	case v.Type == dst:
		return retyped(v, t), nil
	case v.Type.SizeInBits() != dst.SizeInBits():
		return nil, b.unsupported(ir.TypeConsistency, "bitcast to "+dst.String(), v)
	}

	return b.cast(OpBitCast, v, dst, t), nil
}

func (b *Block) PtrToInt(v *Value, t tp.Type) (*Value, error) {
	dst := b.Func.Module.Native(t)

	if !v.Type.IsPtr() || !dst.IsInt() {
		return nil, b.unsupported(ir.TypeConsistency, "ptrtoint to "+dst.String(), v)
	}

	return b.cast(OpPtrToInt, v, dst, t), nil
}

func (b *Block) IntToPtr(v *Value, t tp.Type) (*Value, error) {
	dst := b.Func.Module.Native(t)

	if !v.Type.IsInt() || !dst.IsPtr() {
		return nil, b.unsupported(ir.TypeConsistency, "inttoptr to "+dst.String(), v)
	}

	return b.cast(OpIntToPtr, v, dst, t), nil
}

// IntToFP converts using the signedness of the semantic source type.
func (b *Block) IntToFP(v *Value, t tp.Type) (*Value, error) {
	dst := b.Func.Module.Native(t)

	if !v.Type.IsInt() || !dst.IsFloat() {
		return nil, b.unsupported(ir.TypeConsistency, "inttofp to "+dst.String(), v)
	}

	return b.cast(pick(tp.IsSigned(v.Sem), OpSIToFP, OpUIToFP), v, dst, t), nil
}

// FPToInt converts using the signedness of the semantic target type.
func (b *Block) FPToInt(v *Value, t tp.Type) (*Value, error) {
	dst := b.Func.Module.Native(t)

	if !v.Type.IsFloat() || !dst.IsInt() {
		return nil, b.unsupported(ir.TypeConsistency, "fptoint to "+dst.String(), v)
	}

	return b.cast(pick(tp.IsSigned(t), OpFPToSI, OpFPToUI), v, dst, t), nil
}

func (b *Block) FPExt(v *Value, t tp.Type) (*Value, error) {
	dst := b.Func.Module.Native(t)

	if !v.Type.IsFloat() || !dst.IsFloat() || v.Type.Bits > dst.Bits {
		return nil, b.unsupported(ir.TypeConsistency, "fpext to "+dst.String(), v)
	}

	if v.Type == dst {
		return retyped(v, t), nil
	}

	return b.cast(OpFPExt, v, dst, t), nil
}

func (b *Block) FPTrunc(v *Value, t tp.Type) (*Value, error) {
	dst := b.Func.Module.Native(t)

	if !v.Type.IsFloat() || !dst.IsFloat() || v.Type.Bits < dst.Bits {
		return nil, b.unsupported(ir.TypeConsistency, "fptrunc to "+dst.String(), v)
	}

	if v.Type == dst {
		return retyped(v, t), nil
	}

	return b.cast(OpFPTrunc, v, dst, t), nil
}

func (b *Block) Load(ptr *Value) (*Value, error) {
	if !ptr.Type.IsPtr() {
		return nil, b.unsupported(ir.TypeConsistency, "load", ptr)
	}

	return b.value(OpLoad, ptr.Type.Elem, ptr.Pointee(), ptr), nil
}

// LoadIndirect reinterprets the address v as a pointer to t and loads it.
func (b *Block) LoadIndirect(v *Value, t tp.Type) (*Value, error) {
	p, err := b.BitCast(v, tp.Ptr{X: t})
	if err != nil {
		return nil, err
	}

	return b.Load(p)
}

func (b *Block) Store(src, dst *Value) error {
	if !dst.Type.IsPtr() || dst.Type.Elem != src.Type {
		return b.unsupported(ir.TypeConsistency, "store", src, dst)
	}

	b.emit(&Instr{Op: OpStore, Args: []*Value{src, dst}})

	return nil
}

func (b *Block) MemCpy(dst, src, size *Value, overlapping bool) error {
	if !dst.Type.IsPtr() || !src.Type.IsPtr() || !size.Type.IsInt() {
		return b.unsupported(ir.TypeConsistency, "memcpy", dst, src, size)
	}

	b.emit(&Instr{Op: pick(overlapping, OpMemMove, OpMemCpy), Args: []*Value{dst, src, size}})

	return nil
}

func (b *Block) MemSet(dst, val, size *Value) error {
	if !dst.Type.IsPtr() || !val.Type.IsInt() || !size.Type.IsInt() {
		return b.unsupported(ir.TypeConsistency, "memset", dst, val, size)
	}

	b.emit(&Instr{Op: OpMemSet, Args: []*Value{dst, val, size}})

	return nil
}

// FieldAddress computes the address of the field at offset bytes
// inside the object addr points to.
func (b *Block) FieldAddress(addr *Value, offset int, field tp.Type) (*Value, error) {
	t := addr.Pointee()
	if t == nil {
		return nil, b.unsupported(ir.TypeConsistency, "field address", addr)
	}

	idx := []int{0}
	name := ""

	if bx, ok := t.(*tp.Boxed); ok {
		f := bx.Fields()[1]

		idx = append(idx, 1)
		name = f.Name
		t = f.Type
	}

	if tp.IsPrimitive(t) || t == field {
		if offset != 0 {
			return nil, ir.NewFault(ir.InvalidOffset, "%v: offset %d in %v", b.Func.Name, offset, t)
		}
	} else {
		var err error

		idx, name, t, err = fieldPath(idx, t, offset)
		if err != nil {
			return nil, errors.Wrap(err, "%v", b.Func.Name)
		}
	}

	if len(idx) == 1 {
		return addr, nil
	}

	m := b.Func.Module

	v := b.value(OpGEP, m.Ptr(m.Native(t)), tp.Ptr{X: t}, addr)
	v.Instr.Indices = idx
	v.Name = b.Func.unique(addr.Name + "." + name)

	return v, nil
}

func fieldPath(idx []int, t tp.Type, offset int) ([]int, string, tp.Type, error) {
	s, ok := t.(*tp.Struct)
	if !ok {
		if offset != 0 {
			return nil, "", nil, ir.NewFault(ir.InvalidOffset, "offset %d in %v", offset, t)
		}

		return idx, "", t, nil
	}

	for i, f := range s.Fields {
		if f.Offset+f.Type.Size() <= offset {
			continue
		}

		idx = append(idx, i)
		parent := i == 0 && !s.Value && !s.Root

		if !parent && f.Offset == offset {
			return idx, f.Name, f.Type, nil
		}

		sub, name, ft, err := fieldPath(idx, f.Type, offset-f.Offset)
		if err != nil {
			return nil, "", nil, err
		}

		if name == "" {
			name = f.Name
		}

		return sub, name, ft, nil
	}

	return nil, "", nil, ir.NewFault(ir.InvalidOffset, "offset %d in %v", offset, t)
}

// IndexArray computes the address of element idx of the array arr points to.
func (b *Block) IndexArray(arr, idx *Value) (*Value, error) {
	at, ok := arr.Pointee().(tp.Array)
	if !ok || !idx.Type.IsInt() {
		return nil, b.unsupported(ir.TypeConsistency, "index array", arr, idx)
	}

	m := b.Func.Module

	return b.value(OpGEP, m.Ptr(m.Native(at.X)), tp.Ptr{X: at.X}, arr, m.ConstInt(tp.I32, 0), idx), nil
}

// Call calls a function directly or, when fn is not a function,
// through the code pointer of the delegate fn.
// Void calls return nil.
func (b *Block) Call(fn *Value, args []*Value, ret tp.Type) (*Value, error) {
	m := b.Func.Module
	rt := m.Native(ret)

	callee := fn

	if f := fn.Func; f != nil {
		if len(args) != len(f.Type.Params) || rt != f.Type.Ret {
			return nil, b.unsupported(ir.TypeConsistency, "call "+f.Name, append([]*Value{fn}, args...)...)
		}

		for i, a := range args {
			if a.Type != f.Type.Params[i] {
				return nil, b.unsupported(ir.TypeConsistency, "call "+f.Name, append([]*Value{fn}, args...)...)
			}
		}
	} else {
		if fn.Type.Kind != StructKind || len(fn.Type.Fields) == 0 || !fn.Type.Fields[0].IsPtr() {
			return nil, b.unsupported(ir.TypeConsistency, "indirect call", fn)
		}

		params := make([]*Type, len(args))
		for i, a := range args {
			params[i] = a.Type
		}

		code := b.value(OpExtractValue, fn.Type.Fields[0], nil, fn)
		code.Instr.Indices = []int{0}

		callee = b.cast(OpBitCast, code, m.Ptr(m.Func(rt, params...)), nil)
	}

	in := &Instr{Op: OpCall, Args: append([]*Value{callee}, args...), Type: rt}

	if rt.IsVoid() {
		b.emit(in)
		return nil, nil
	}

	v := b.Func.newValue("", rt, ret)
	v.Instr = in
	in.Result = v

	b.emit(in)

	return v, nil
}

var atomicOps = [...]string{
	ir.AtomicXchg: "xchg",
	ir.AtomicAdd:  "add",
	ir.AtomicSub:  "sub",
	ir.AtomicAnd:  "and",
	ir.AtomicNand: "nand",
	ir.AtomicOr:   "or",
	ir.AtomicXor:  "xor",
	ir.AtomicMax:  "max",
	ir.AtomicMin:  "min",
	ir.AtomicUMax: "umax",
	ir.AtomicUMin: "umin",
}

// Atomic performs read-modify-write op on ptr and returns the old value.
func (b *Block) Atomic(op ir.AtomicOp, ptr, val *Value) (*Value, error) {
	if op < ir.AtomicXchg || int(op) >= len(atomicOps) {
		return nil, ir.NewFault(ir.Unsupported, "%v: atomic op %d", b.Func.Name, op)
	}

	if !ptr.Type.IsPtr() || ptr.Type.Elem != val.Type {
		return nil, b.unsupported(ir.TypeConsistency, "atomicrmw "+atomicOps[op], ptr, val)
	}

	v := b.value(OpAtomicRMW, val.Type, val.Sem, ptr, val)
	v.Instr.Pred = atomicOps[op]

	return v, nil
}

// CmpXchg stores val to ptr if it holds cmp and returns the old value.
func (b *Block) CmpXchg(ptr, cmp, val *Value) (*Value, error) {
	if !ptr.Type.IsPtr() || ptr.Type.Elem != val.Type || cmp.Type != val.Type {
		return nil, b.unsupported(ir.TypeConsistency, "cmpxchg", ptr, cmp, val)
	}

	m := b.Func.Module

	pair := b.value(OpCmpXchg, m.Struct("", val.Type, m.Int(1)), nil, ptr, cmp, val)

	v := b.value(OpExtractValue, val.Type, val.Sem, pair)
	v.Instr.Indices = []int{0}

	return v, nil
}

// Ret returns v or nothing if v is nil.
func (b *Block) Ret(v *Value) error {
	rt := b.Func.Type.Ret

	switch {
	case v == nil && !rt.IsVoid():
		return ir.NewFault(ir.TypeConsistency, "%v: ret void from %v function", b.Func.Name, rt)
	case v != nil && v.Type != rt:
		return b.unsupported(ir.TypeConsistency, "ret "+rt.String(), v)
	}

	in := &Instr{Op: OpRet}
	if v != nil {
		in.Args = []*Value{v}
	}

	b.emit(in)

	return nil
}

func (b *Block) Br(to *Block) {
	b.emit(&Instr{Op: OpBr, Targets: []*Block{to}})
}

func (b *Block) CondBr(cond *Value, then, els *Block) error {
	if cond.Type != b.Func.Module.Int(1) {
		return b.unsupported(ir.TypeConsistency, "br", cond)
	}

	b.emit(&Instr{Op: OpCondBr, Args: []*Value{cond}, Targets: []*Block{then, els}})

	return nil
}

// Switch jumps to targets[i] if cond equals cases[i] or to def otherwise.
// Conditions narrower than 32 bits are widened first.
func (b *Block) Switch(cond *Value, def *Block, cases []int64, targets []*Block) error {
	if !cond.Type.IsInt() || len(cases) != len(targets) {
		return b.unsupported(ir.TypeConsistency, "switch", cond)
	}

	if cond.Type.Bits < 32 {
		var err error

		cond, err = b.ZExt(cond, tp.U32, cond.Type.Bits)
		if err != nil {
			return err
		}
	}

	b.emit(&Instr{Op: OpSwitch, Args: []*Value{cond}, Targets: append([]*Block{def}, targets...), Cases: cases})

	return nil
}

func (b *Block) Unreachable() {
	b.emit(&Instr{Op: OpUnreachable})
}

// retyped is v seen as semantic type t.
func retyped(v *Value, t tp.Type) *Value {
	r := *v
	r.Sem = t

	return &r
}

func pick[T any](c bool, x, y T) T {
	if c {
		return x
	}

	return y
}
