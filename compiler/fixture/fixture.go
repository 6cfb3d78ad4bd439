// Package fixture loads compilation units described in YAML.
package fixture

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/smaillet-ms/llilum/compiler"
	"github.com/smaillet-ms/llilum/compiler/cc"
	"github.com/smaillet-ms/llilum/compiler/ir"
	"github.com/smaillet-ms/llilum/compiler/tp"
)

type (
	File struct {
		Unit       string   `yaml:"unit"`
		Source     string   `yaml:"source"`
		Entry      []string `yaml:"entry"`
		Prohibited []string `yaml:"prohibited"`
		Methods    []Method `yaml:"methods"`
	}

	Method struct {
		Name   string           `yaml:"name"`
		Owner  string           `yaml:"owner"`
		Flags  []string         `yaml:"flags"`
		Attrs  map[string]int64 `yaml:"attrs"`
		Line   int              `yaml:"line"`
		Static bool             `yaml:"static"`

		In   []string `yaml:"in"`
		Out  []string `yaml:"out"`
		Args []string `yaml:"args"`

		Constraints []string `yaml:"constraints"`

		Vars   []Var   `yaml:"vars"`
		Blocks []Block `yaml:"blocks"`
	}

	Var struct {
		Name     string `yaml:"name"`
		Kind     string `yaml:"kind"`
		Type     string `yaml:"type"`
		Number   int    `yaml:"number"`
		Register int    `yaml:"register"`
		Target   string `yaml:"target"`

		SkipRefCounting bool `yaml:"skip_ref_counting"`
	}

	Block struct {
		Name        string   `yaml:"name"`
		Kind        string   `yaml:"kind"`
		ProtectedBy []string `yaml:"protected_by"`
		Handler     bool     `yaml:"handler"`
		Ops         []Op     `yaml:"ops"`
	}

	Op struct {
		Op     string   `yaml:"op"`
		Res    []string `yaml:"res"`
		Args   []string `yaml:"args"`
		To     []string `yaml:"to"`
		Target string   `yaml:"target"`
		Imm    int64    `yaml:"imm"`
		Cases  []int64  `yaml:"cases"`
		Signed bool     `yaml:"signed"`
		Type   string   `yaml:"type"`
		Line   int      `yaml:"line"`
		Col    int      `yaml:"col"`

		Set   []string `yaml:"set"`
		Reset []string `yaml:"reset"`
	}

	opcode struct {
		op  ir.Opcode
		sub int
	}
)

var flags = map[string]ir.BuildFlags{
	"inline":                    ir.Inline,
	"noinline":                  ir.NoInline,
	"noreturn":                  ir.NoReturn,
	"bottom_of_call_stack":      ir.BottomOfCallStack,
	"can_allocate_on_return":    ir.CanAllocateOnReturn,
	"stack_available_on_return": ir.StackAvailableOnReturn,
}

var varKinds = map[string]ir.VarKind{
	"arg":       ir.Argument,
	"local":     ir.Local,
	"temp":      ir.Temporary,
	"reg":       ir.PhysicalRegister,
	"phi":       ir.Phi,
	"exception": ir.ExceptionObject,
}

var blockKinds = map[string]ir.BlockKind{
	"":      ir.Normal,
	"entry": ir.EntryBlock,
	"exit":  ir.ExitBlock,
}

var opcodes = map[string]opcode{
	"nop":         {op: ir.OpNop},
	"assign":      {op: ir.OpAssign},
	"init":        {op: ir.OpInit},
	"const":       {op: ir.OpConst},
	"load":        {op: ir.OpLoad},
	"store":       {op: ir.OpStore},
	"fieldaddr":   {op: ir.OpFieldAddr},
	"call":        {op: ir.OpCall},
	"icall":       {op: ir.OpIndirectCall},
	"constraints": {op: ir.OpConstraints},
	"br":          {op: ir.OpBranch},
	"brif":        {op: ir.OpCondBranch},
	"switch":      {op: ir.OpSwitch},
	"ret":         {op: ir.OpReturn},
	"unreachable": {op: ir.OpUnreachable},

	"neg":    {op: ir.OpUnary, sub: int(ir.Neg)},
	"not":    {op: ir.OpUnary, sub: int(ir.Not)},
	"finite": {op: ir.OpUnary, sub: int(ir.Finite)},

	"eq": {op: ir.OpCmp, sub: int(ir.Eq)},
	"ge": {op: ir.OpCmp, sub: int(ir.Ge)},
	"gt": {op: ir.OpCmp, sub: int(ir.Gt)},
	"le": {op: ir.OpCmp, sub: int(ir.Le)},
	"lt": {op: ir.OpCmp, sub: int(ir.Lt)},
	"ne": {op: ir.OpCmp, sub: int(ir.Ne)},

	"zext":     {op: ir.OpConvert, sub: int(ir.ZeroExtend)},
	"sext":     {op: ir.OpConvert, sub: int(ir.SignExtend)},
	"trunc":    {op: ir.OpConvert, sub: int(ir.Truncate)},
	"bitcast":  {op: ir.OpConvert, sub: int(ir.BitCast)},
	"ptrtoint": {op: ir.OpConvert, sub: int(ir.PtrToInt)},
	"inttoptr": {op: ir.OpConvert, sub: int(ir.IntToPtr)},
	"itof":     {op: ir.OpConvert, sub: int(ir.IntToFP)},
	"ftoi":     {op: ir.OpConvert, sub: int(ir.FPToInt)},
	"fpext":    {op: ir.OpConvert, sub: int(ir.FPExt)},
	"fptrunc":  {op: ir.OpConvert, sub: int(ir.FPTrunc)},

	"atomic.xchg": {op: ir.OpAtomic, sub: int(ir.AtomicXchg)},
	"atomic.add":  {op: ir.OpAtomic, sub: int(ir.AtomicAdd)},
	"atomic.sub":  {op: ir.OpAtomic, sub: int(ir.AtomicSub)},
	"atomic.and":  {op: ir.OpAtomic, sub: int(ir.AtomicAnd)},
	"atomic.nand": {op: ir.OpAtomic, sub: int(ir.AtomicNand)},
	"atomic.or":   {op: ir.OpAtomic, sub: int(ir.AtomicOr)},
	"atomic.xor":  {op: ir.OpAtomic, sub: int(ir.AtomicXor)},
	"atomic.max":  {op: ir.OpAtomic, sub: int(ir.AtomicMax)},
	"atomic.min":  {op: ir.OpAtomic, sub: int(ir.AtomicMin)},
	"atomic.umax": {op: ir.OpAtomic, sub: int(ir.AtomicUMax)},
	"atomic.umin": {op: ir.OpAtomic, sub: int(ir.AtomicUMin)},
	"cmpxchg":     {op: ir.OpAtomic, sub: int(ir.AtomicCmpXchg)},
}

func Load(ctx context.Context, name string) (*compiler.Unit, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(data), "name", name)

	return Parse(ctx, name, data)
}

// Parse decodes a unit description. Methods without blocks have no body.
func Parse(ctx context.Context, name string, data []byte) (u *compiler.Unit, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "parse fixture", "name", name)
	defer tr.Finish("err", &err)

	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err = dec.Decode(&f)
	if err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	if f.Unit == "" {
		f.Unit = name
	}

	if f.Source == "" {
		f.Source = f.Unit + ".cs"
	}

	u = compiler.NewUnit(f.Unit)

	ms := make([]*ir.Method, len(f.Methods))

	for i, fm := range f.Methods {
		ms[i], err = f.method(i+1, fm)
		if err != nil {
			return nil, errors.Wrap(err, "method %v", fm.Name)
		}

		u.Add(ms[i], nil)
	}

	for i, fm := range f.Methods {
		if len(fm.Blocks) == 0 {
			continue
		}

		g, err := f.graph(u, ms[i], fm)
		if err != nil {
			return nil, errors.Wrap(err, "method %v", ms[i])
		}

		u.Graphs[ms[i]] = g
	}

	u.Entry, err = methods(u, f.Entry)
	if err != nil {
		return nil, errors.Wrap(err, "entry")
	}

	u.Prohibited, err = methods(u, f.Prohibited)
	if err != nil {
		return nil, errors.Wrap(err, "prohibited")
	}

	tr.Printw("unit parsed", "unit", u.Name, "methods", len(u.Methods), "graphs", len(u.Graphs))

	return u, nil
}

func (f *File) method(id int, fm Method) (m *ir.Method, err error) {
	m = &ir.Method{
		ID:       id,
		Name:     fm.Name,
		Owner:    fm.Owner,
		Attrs:    fm.Attrs,
		Static:   fm.Static,
		ArgNames: fm.Args,
		Type:     &tp.Func{},
	}

	for _, fl := range fm.Flags {
		x, ok := flags[fl]
		if !ok {
			return nil, errors.New("unknown flag %q", fl)
		}

		m.Flags |= x
	}

	if fm.Line != 0 {
		m.Debug = f.debug(fm.Line, 1)
	}

	for _, s := range fm.In {
		t, err := ParseType(s)
		if err != nil {
			return nil, errors.Wrap(err, "in")
		}

		m.Type.In = append(m.Type.In, t)
	}

	for _, s := range fm.Out {
		t, err := ParseType(s)
		if err != nil {
			return nil, errors.Wrap(err, "out")
		}

		m.Type.Out = append(m.Type.Out, t)
	}

	return m, nil
}

func (f *File) graph(u *compiler.Unit, m *ir.Method, fm Method) (g *ir.Graph, err error) {
	g = ir.NewGraph(m)

	for _, s := range fm.Constraints {
		c, err := ParseConstraint(s)
		if err != nil {
			return nil, err
		}

		g.Constraints = g.Constraints.Add(c)
	}

	vars := map[string]ir.VarID{}

	for _, v := range fm.Vars {
		if _, ok := vars[v.Name]; ok || v.Name == "" {
			return nil, errors.New("bad variable name %q", v.Name)
		}

		id, err := allocate(g, vars, v)
		if err != nil {
			return nil, errors.Wrap(err, "var %v", v.Name)
		}

		vars[v.Name] = id
	}

	blocks := map[string]ir.BlockID{}

	for _, b := range fm.Blocks {
		k, ok := blockKinds[b.Kind]
		if !ok {
			return nil, errors.New("block %v: unknown kind %q", b.Name, b.Kind)
		}

		if _, ok := blocks[b.Name]; ok {
			return nil, errors.New("duplicate block %v", b.Name)
		}

		id := g.NewBlock(k)
		blocks[b.Name] = id

		g.Block(id).Handler = b.Handler

		switch k {
		case ir.EntryBlock:
			g.Entry = id
		case ir.ExitBlock:
			g.Exit = id
		}
	}

	if g.Entry == ir.NoBlock {
		g.Entry = 0
	}

	for _, b := range fm.Blocks {
		id := blocks[b.Name]

		for _, h := range b.ProtectedBy {
			hid, ok := blocks[h]
			if !ok {
				return nil, errors.New("block %v: unknown handler %v", b.Name, h)
			}

			g.Block(id).SetProtectedBy(hid)
		}

		for i, fo := range b.Ops {
			op, err := f.operator(u, vars, blocks, fo)
			if err != nil {
				return nil, errors.Wrap(err, "block %v: op %d (%v)", b.Name, i, fo.Op)
			}

			g.AddOperator(id, op)
		}
	}

	return g, nil
}

func allocate(g *ir.Graph, vars map[string]ir.VarID, v Var) (id ir.VarID, err error) {
	k, ok := varKinds[v.Kind]
	if !ok {
		return ir.NoVar, errors.New("unknown kind %q", v.Kind)
	}

	if k == ir.Phi {
		t, ok := vars[v.Target]
		if !ok {
			return ir.NoVar, errors.New("unknown phi target %q", v.Target)
		}

		id = g.AllocatePhi(t)
		g.Var(id).Name = v.Name

		return id, nil
	}

	t, err := ParseType(v.Type)
	if err != nil {
		return ir.NoVar, err
	}

	switch k {
	case ir.Argument:
		id = g.AllocateArgument(t, v.Name, v.Number)
	case ir.Local:
		id = g.AllocateLocal(t, v.Name)
	case ir.Temporary:
		id = g.AllocateTemporary(t, v.Name)
	case ir.PhysicalRegister:
		id = g.AllocatePhysicalRegister(v.Register, t)
		g.Var(id).Name = v.Name
	case ir.ExceptionObject:
		id = g.AllocateExceptionObject(t)
		g.Var(id).Name = v.Name
	}

	g.Var(id).SkipRefCounting = v.SkipRefCounting

	return id, nil
}

func (f *File) operator(u *compiler.Unit, vars map[string]ir.VarID, blocks map[string]ir.BlockID, fo Op) (op ir.Operator, err error) {
	code, ok := opcodes[fo.Op]
	if !ok {
		b, isBin := ir.ParseBinOp(fo.Op)
		if !isBin {
			return op, errors.New("unknown op")
		}

		code = opcode{op: ir.OpBinary, sub: int(b)}
	}

	op = ir.Operator{
		Op:     code.op,
		Sub:    code.sub,
		Signed: fo.Signed,
		Imm:    fo.Imm,
		Cases:  fo.Cases,
	}

	if fo.Line != 0 {
		op.Debug = f.debug(fo.Line, fo.Col)
	}

	if op.Results, err = lookup(vars, fo.Res); err != nil {
		return op, err
	}

	if op.Args, err = lookup(vars, fo.Args); err != nil {
		return op, err
	}

	for _, name := range fo.To {
		b, ok := blocks[name]
		if !ok {
			return op, errors.New("unknown block %v", name)
		}

		op.Targets = append(op.Targets, b)
	}

	if fo.Target != "" {
		op.Target = u.Method(fo.Target)
		if op.Target == nil {
			return op, errors.New("unknown method %v", fo.Target)
		}
	}

	if fo.Type != "" {
		op.Type, err = ParseType(fo.Type)
		if err != nil {
			return op, err
		}
	}

	if op.Set, err = constraints(fo.Set); err != nil {
		return op, err
	}

	if op.Reset, err = constraints(fo.Reset); err != nil {
		return op, err
	}

	return op, nil
}

func (f *File) debug(line, col int) *ir.DebugInfo {
	if col == 0 {
		col = 1
	}

	return &ir.DebugInfo{File: f.Source, BeginLine: line, BeginCol: col, EndLine: line, EndCol: col}
}

func lookup(vars map[string]ir.VarID, names []string) (ids []ir.VarID, err error) {
	for _, n := range names {
		id, ok := vars[n]
		if !ok {
			return nil, errors.New("unknown variable %v", n)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func methods(u *compiler.Unit, names []string) (l []*ir.Method, err error) {
	for _, n := range names {
		m := u.Method(n)
		if m == nil {
			return nil, errors.New("unknown method %v", n)
		}

		l = append(l, m)
	}

	return l, nil
}

func constraints(names []string) (l []cc.Constraint, err error) {
	for _, n := range names {
		c, err := ParseConstraint(n)
		if err != nil {
			return nil, err
		}

		l = append(l, c)
	}

	return l, nil
}

// ParseConstraint parses the names printed by cc.Constraint, like NullChecks_OFF.
func ParseConstraint(s string) (cc.Constraint, error) {
	for f := cc.Flag(0); f < cc.NumFlags; f++ {
		for _, on := range []bool{true, false} {
			if c := cc.Make(f, on); c.String() == s {
				return c, nil
			}
		}
	}

	return 0, errors.New("unknown constraint %q", s)
}

// ParseType parses void, bool, iN, uN, f32, f64, *T and [N]T.
func ParseType(s string) (tp.Type, error) {
	switch {
	case s == "void":
		return tp.Void{}, nil
	case s == "bool":
		return tp.Bool{}, nil
	case strings.HasPrefix(s, "*"):
		x, err := ParseType(s[1:])
		if err != nil {
			return nil, err
		}

		return tp.Ptr{X: x}, nil
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			break
		}

		n, err := strconv.Atoi(s[1:end])
		if err != nil {
			return nil, errors.Wrap(err, "array length")
		}

		x, err := ParseType(s[end+1:])
		if err != nil {
			return nil, err
		}

		return tp.Array{X: x, Len: n}, nil
	case len(s) > 1:
		bits, err := strconv.Atoi(s[1:])
		if err != nil {
			break
		}

		switch {
		case s[0] == 'i' && validInt(bits):
			return tp.Int{Bits: int16(bits), Signed: true}, nil
		case s[0] == 'u' && validInt(bits):
			return tp.Int{Bits: int16(bits)}, nil
		case s[0] == 'f' && (bits == 32 || bits == 64):
			return tp.Float{Bits: int16(bits)}, nil
		}
	}

	return nil, errors.New("unknown type %q", s)
}

func validInt(bits int) bool {
	return bits == 8 || bits == 16 || bits == 32 || bits == 64
}
