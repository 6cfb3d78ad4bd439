package ir

import (
	"fmt"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog/tlwire"
)

func (d *DebugInfo) String() string {
	if d == nil {
		return "<nodebug>"
	}

	return fmt.Sprintf("%s:%d:%d", d.File, d.BeginLine, d.BeginCol)
}

func (d *DebugInfo) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if d == nil {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%s:%d:%d", d.File, d.BeginLine, d.BeginCol)
}

func (v VarID) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if v == NoVar {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "v%d", int(v))
}

func (id BlockID) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if id == NoBlock {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "b%d", int(id))
}

func (g *Graph) VarName(v VarID) string {
	if v == NoVar {
		return "_"
	}

	x := &g.Vars[v]
	if x.Name == "" {
		return fmt.Sprintf("%%%d", int(v))
	}

	return fmt.Sprintf("%%%d.%s", int(v), x.Name)
}

// Dump renders the graph for diagnostics.
func (g *Graph) Dump(b []byte) []byte {
	b = hfmt.Appendf(b, "method %v entry b%d exit b%d constraints %v\n", g.Method, g.Entry, g.Exit, g.Constraints)

	for id, v := range g.Vars {
		b = hfmt.Appendf(b, "  var %s %v %v", g.VarName(VarID(id)), v.Kind, v.Type)

		if v.Kind == Phi {
			b = hfmt.Appendf(b, " -> %s", g.VarName(v.Target))
		}

		b = appendAnnotations(b, v.Annotations)
		b = append(b, '\n')
	}

	for _, bid := range g.Reachable(g.Entry) {
		bb := &g.Blocks[bid]

		b = hfmt.Appendf(b, "b%d %v", bid, bb.Kind)

		if len(bb.ProtectedBy) != 0 {
			b = hfmt.Appendf(b, " protected by %v", bb.ProtectedBy)
		}

		b = append(b, ":\n"...)

		for _, id := range bb.Ops {
			b = g.DumpOperator(b, OpID(id))
			b = append(b, '\n')
		}
	}

	return b
}

func (g *Graph) DumpOperator(b []byte, id OpID) []byte {
	op := &g.Ops[id]

	b = append(b, '\t')

	for i, r := range op.Results {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = append(b, g.VarName(r)...)
	}

	if len(op.Results) != 0 {
		b = append(b, " = "...)
	}

	b = append(b, op.Name()...)

	if op.Target != nil {
		b = hfmt.Appendf(b, " %v", op.Target)
	}

	for i, a := range op.Args {
		if i != 0 {
			b = append(b, ',')
		}

		b = append(b, ' ')
		b = append(b, g.VarName(a)...)
	}

	switch op.Op {
	case OpConst, OpFieldAddr:
		b = hfmt.Appendf(b, " %d", op.Imm)
	case OpConstraints:
		b = hfmt.Appendf(b, " set %v reset %v", op.Set, op.Reset)
	}

	for _, t := range op.Targets {
		b = hfmt.Appendf(b, " b%d", t)
	}

	if op.Debug != nil {
		b = hfmt.Appendf(b, "  @%v", op.Debug)
	}

	b = appendAnnotations(b, op.Annotations)

	return b
}

func appendAnnotations(b []byte, l []Annotation) []byte {
	for _, a := range l {
		b = hfmt.Appendf(b, "  %v", a)
	}

	return b
}
