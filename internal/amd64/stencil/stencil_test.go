package stencil

import (
	"testing"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/finalize"
	"github.com/krystophny/liric/internal/ir"
)

func buildFusedAddRet(t *testing.T) *ir.Function {
	t.Helper()
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("add", m.TypeI32, []*ir.Type{m.TypeI32, m.TypeI32}, false)
	b := f.NewBlock("entry")
	dest := f.NewVReg()
	b.Append(&ir.Inst{
		Op: ir.OpAdd, Type: m.TypeI32, Dest: dest,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypeI32), ir.OpVReg(f.ParamVRegs[1], m.TypeI32)},
	})
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(dest, m.TypeI32)}})
	finalize.Func(f)
	return f
}

func TestApplicableAcceptsFusedAddRet(t *testing.T) {
	f := buildFusedAddRet(t)
	if !Applicable(f) {
		t.Fatal("expected add/ret over two i32 params to be stencil-eligible")
	}
}

func TestCompileFusedAddRetEndsInRet(t *testing.T) {
	f := buildFusedAddRet(t)
	code, err := Compile(f)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty code")
	}
	if code[len(code)-1] != 0xC3 {
		t.Fatalf("expected ret opcode at end, got 0x%02x", code[len(code)-1])
	}
}

func TestApplicableRejectsVararg(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("varfn", m.TypeI32, []*ir.Type{m.TypeI32}, true)
	b := f.NewBlock("entry")
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(0, m.TypeI32)}})
	finalize.Func(f)
	if Applicable(f) {
		t.Fatal("vararg functions must never be stencil-eligible")
	}
}

func TestApplicableRejectsMultiBlock(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("branchy", m.TypeI32, nil, false)
	entry := f.NewBlock("entry")
	target := f.NewBlock("target")
	entry.Append(&ir.Inst{Op: ir.OpBr, Ops: []ir.Operand{ir.OpBlock(target.ID)}})
	target.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(1, m.TypeI32)}})
	finalize.Func(f)
	if Applicable(f) {
		t.Fatal("multi-block functions must never be stencil-eligible")
	}
}

func TestCompileNotApplicableReturnsSentinelError(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("varfn", m.TypeI32, []*ir.Type{m.TypeI32}, true)
	b := f.NewBlock("entry")
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(0, m.TypeI32)}})
	finalize.Func(f)
	if _, err := Compile(f); err != ErrNotApplicable {
		t.Fatalf("expected ErrNotApplicable, got %v", err)
	}
}

// TestSentinelCountsWithinBound guards against a future template
// accidentally growing more sentinel occurrences than Compile's patch
// loop (instantiate) is written to handle.
func TestSentinelCountsWithinBound(t *testing.T) {
	for _, c := range SentinelCounts() {
		if c > MaxSentinelOccurrences {
			t.Fatalf("template has %d sentinel occurrences, want <= %d", c, MaxSentinelOccurrences)
		}
	}
}
