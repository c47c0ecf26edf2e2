package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes m as textual IR to w, in the subset accepted by
// internal/parser (spec.md §4.11). Zero and integer global
// initializers are written in a form the parser reads back; other
// non-zero initializers are not (see dumpInitializer).
func (m *Module) Dump(w io.Writer) {
	for _, g := range m.globals {
		dumpGlobal(g, m, w)
	}
	for _, f := range m.funcs {
		dumpFunc(f, m, w)
	}
}

func dumpGlobal(g *Global, m *Module, w io.Writer) {
	kw := "global"
	if g.IsConst {
		kw = "constant"
	}
	if g.IsExternal {
		fmt.Fprintf(w, "@%s = external %s %s\n", g.Name, kw, g.Type)
		return
	}
	fmt.Fprintf(w, "@%s = %s %s ", g.Name, kw, g.Type)
	dumpInitializer(g, w)
	fmt.Fprintln(w)
}

func dumpInitializer(g *Global, w io.Writer) {
	if len(g.Relocs) == 0 && isAllZero(g.InitData) {
		fmt.Fprint(w, "zeroinitializer")
		return
	}
	if len(g.Relocs) == 0 && g.Type != nil && g.Type.IsInt() && uint64(len(g.InitData)) == g.Type.Size() {
		var bits uint64
		for i := len(g.InitData) - 1; i >= 0; i-- {
			bits = bits<<8 | uint64(g.InitData[i])
		}
		fmt.Fprintf(w, "%d", int64(bits))
		return
	}
	// Any other non-zero initializer (floating-point scalars,
	// aggregates, relocations) is written as zeroinitializer followed by
	// a comment listing its byte count and relocations; re-parsing that
	// line yields zero bytes and no relocations.
	fmt.Fprintf(w, "zeroinitializer ; %d init bytes, %d relocs", len(g.InitData), len(g.Relocs))
	for _, r := range g.Relocs {
		fmt.Fprintf(w, " reloc(off=%d,sym=%s,add=%d)", r.Offset, r.SymbolName, r.Addend)
	}
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func dumpFunc(f *Function, m *Module, w io.Writer) {
	kw := "define"
	if f.IsDecl {
		kw = "declare"
	}
	fmt.Fprintf(w, "%s %s @%s(", kw, f.RetType, f.Name)
	for i, pt := range f.ParamTypes {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%s %%v%d", pt, f.ParamVRegs[i])
	}
	if f.Vararg {
		if len(f.ParamTypes) > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprint(w, "...")
	}
	if f.IsDecl {
		fmt.Fprintln(w, ")")
		return
	}
	fmt.Fprintln(w, ") {")
	f.Blocks(func(b *Block) bool {
		fmt.Fprintf(w, "%s:\n", b.Name)
		b.Insts(func(inst *Inst) bool {
			dumpInst(inst, f, m, w)
			return true
		})
		return true
	})
	fmt.Fprintln(w, "}")
}

// blockName returns the declared name of block id within f, or a
// synthetic "bbN" fallback if id is out of range (should not happen
// for well-formed functions).
func blockName(f *Function, id BlockID) string {
	var name string
	found := false
	f.Blocks(func(b *Block) bool {
		if b.ID == id {
			name, found = b.Name, true
			return false
		}
		return true
	})
	if !found {
		return fmt.Sprintf("bb%d", id)
	}
	return name
}

func dumpOperand(op Operand, f *Function, m *Module, w io.Writer) {
	switch op.Kind {
	case ValVReg:
		fmt.Fprintf(w, "%%v%d", op.VReg)
	case ValImmI64:
		fmt.Fprintf(w, "%d", op.ImmI64)
	case ValImmF64:
		fmt.Fprintf(w, "%g", op.ImmF64)
	case ValBlock:
		fmt.Fprintf(w, "%%%s", blockName(f, op.Block))
	case ValGlobal:
		name, ok := m.SymbolName(uint32(op.Global))
		if !ok {
			name = fmt.Sprintf("g%d", op.Global)
		}
		fmt.Fprintf(w, "@%s", name)
		if op.GlobalOffset != 0 {
			fmt.Fprintf(w, "%+d", op.GlobalOffset)
		}
	case ValNull:
		fmt.Fprint(w, "null")
	case ValUndef:
		fmt.Fprint(w, "undef")
	}
}

func dumpOperandTo(b *strings.Builder, op Operand, f *Function, m *Module) {
	dumpOperand(op, f, m, b)
}

func dumpInst(inst *Inst, f *Function, m *Module, w io.Writer) {
	var b strings.Builder
	fmt.Fprint(&b, "  ")
	if inst.HasDest() {
		fmt.Fprintf(&b, "%%v%d = ", inst.Dest)
	}
	fmt.Fprintf(&b, "%s ", inst.Op)

	switch inst.Op {
	case OpRetVoid, OpUnreachable:
	case OpRet:
		fmt.Fprintf(&b, "%s ", inst.Type)
		if len(inst.Ops) > 0 {
			dumpOperandTo(&b, inst.Ops[0], f, m)
		}
	case OpBr:
		fmt.Fprint(&b, "label ")
		dumpOperandTo(&b, inst.Ops[0], f, m)
	case OpCondBr:
		fmt.Fprint(&b, "i1 ")
		dumpOperandTo(&b, inst.Ops[0], f, m)
		fmt.Fprint(&b, ", label ")
		dumpOperandTo(&b, inst.Ops[1], f, m)
		fmt.Fprint(&b, ", label ")
		dumpOperandTo(&b, inst.Ops[2], f, m)
	case OpStore:
		fmt.Fprintf(&b, "%s ", inst.Ops[0].Type)
		dumpOperandTo(&b, inst.Ops[0], f, m)
		fmt.Fprint(&b, ", ptr ")
		dumpOperandTo(&b, inst.Ops[1], f, m)
	case OpLoad:
		fmt.Fprintf(&b, "%s, ptr ", inst.Type)
		dumpOperandTo(&b, inst.Ops[0], f, m)
	case OpAlloca:
		fmt.Fprintf(&b, "%s", inst.Type)
		if len(inst.Ops) > 0 {
			fmt.Fprint(&b, ", i64 ")
			dumpOperandTo(&b, inst.Ops[0], f, m)
		}
	case OpGEP:
		fmt.Fprintf(&b, "%s, ptr %%v%d", inst.Type, inst.Ops[0].VReg)
		for _, idx := range inst.Ops[1:] {
			fmt.Fprint(&b, ", i64 ")
			dumpOperandTo(&b, idx, f, m)
		}
	case OpICmp:
		fmt.Fprintf(&b, "%s %s ", inst.ICmpPred, inst.Ops[0].Type)
		dumpOperandTo(&b, inst.Ops[0], f, m)
		fmt.Fprint(&b, ", ")
		dumpOperandTo(&b, inst.Ops[1], f, m)
	case OpFCmp:
		fmt.Fprintf(&b, "%s %s ", inst.FCmpPred, inst.Ops[0].Type)
		dumpOperandTo(&b, inst.Ops[0], f, m)
		fmt.Fprint(&b, ", ")
		dumpOperandTo(&b, inst.Ops[1], f, m)
	case OpPhi:
		fmt.Fprintf(&b, "%s ", inst.Type)
		for i := 0; i+1 < len(inst.Ops); i += 2 {
			if i > 0 {
				fmt.Fprint(&b, ", ")
			}
			fmt.Fprint(&b, "[ ")
			dumpOperandTo(&b, inst.Ops[i], f, m)
			fmt.Fprint(&b, ", ")
			dumpOperandTo(&b, inst.Ops[i+1], f, m)
			fmt.Fprint(&b, " ]")
		}
	case OpSelect:
		fmt.Fprint(&b, "i1 ")
		dumpOperandTo(&b, inst.Ops[0], f, m)
		fmt.Fprintf(&b, ", %s ", inst.Type)
		dumpOperandTo(&b, inst.Ops[1], f, m)
		fmt.Fprint(&b, ", ")
		dumpOperandTo(&b, inst.Ops[2], f, m)
	case OpCall:
		fmt.Fprintf(&b, "%s ", inst.Type)
		dumpOperandTo(&b, inst.Ops[0], f, m)
		fmt.Fprint(&b, "(")
		for i, a := range inst.Ops[1:] {
			if i > 0 {
				fmt.Fprint(&b, ", ")
			}
			dumpOperandTo(&b, a, f, m)
		}
		fmt.Fprint(&b, ")")
	case OpExtractValue, OpInsertValue:
		fmt.Fprintf(&b, "%s ", inst.Type)
		for i, o := range inst.Ops {
			if i > 0 {
				fmt.Fprint(&b, ", ")
			}
			dumpOperandTo(&b, o, f, m)
		}
		for _, idx := range inst.Indices {
			fmt.Fprintf(&b, ", %d", idx)
		}
	default:
		// Binary arithmetic, unary cast/fneg: [lhs, rhs] or [src].
		fmt.Fprintf(&b, "%s ", inst.Type)
		for i, o := range inst.Ops {
			if i > 0 {
				fmt.Fprint(&b, ", ")
			}
			dumpOperandTo(&b, o, f, m)
		}
	}
	fmt.Fprintln(w, b.String())
}
