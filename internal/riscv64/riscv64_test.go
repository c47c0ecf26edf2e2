package riscv64

import (
	"testing"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/finalize"
	"github.com/krystophny/liric/internal/ir"
)

func buildAdd(t *testing.T) *ir.Function {
	t.Helper()
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("add", m.TypeI64, []*ir.Type{m.TypeI64, m.TypeI64}, false)
	b := f.NewBlock("entry")
	dest := f.NewVReg()
	b.Append(&ir.Inst{
		Op: ir.OpAdd, Type: m.TypeI64, Dest: dest,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypeI64), ir.OpVReg(f.ParamVRegs[1], m.TypeI64)},
	})
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI64, Ops: []ir.Operand{ir.OpVReg(dest, m.TypeI64)}})
	finalize.Func(f)
	return f
}

func TestCompileFunctionAddProducesCode(t *testing.T) {
	f := buildAdd(t)
	code, err := CompileFunction(f, RV64GC)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if len(code)%4 != 0 {
		t.Fatalf("expected a 4-byte-aligned instruction stream, got %d bytes", len(code))
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty code")
	}
}

func TestCompileFunctionRejectsMultiBlock(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("branchy", m.TypeI64, nil, false)
	entry := f.NewBlock("entry")
	target := f.NewBlock("target")
	entry.Append(&ir.Inst{Op: ir.OpBr, Ops: []ir.Operand{ir.OpBlock(target.ID)}})
	target.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI64, Ops: []ir.Operand{ir.OpImmI64(7, m.TypeI64)}})
	finalize.Func(f)

	if _, err := CompileFunction(f, RV64GC); err == nil {
		t.Fatal("expected an error for a multi-block function")
	}
}

func TestCompileEmitRejectsUnsupportedOp(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("loader", m.TypeI64, []*ir.Type{m.TypePtr}, false)
	c := CompileBegin(f.Name, RV64GC)
	dest := f.NewVReg()
	err := c.CompileEmit(&ir.Inst{
		Op: ir.OpLoad, Type: m.TypeI64, Dest: dest,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypePtr)},
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported opcode")
	}
	var unsupported *codegen.ErrUnsupportedOp
	if !asUnsupportedOp(err, &unsupported) {
		t.Fatalf("expected *codegen.ErrUnsupportedOp, got %T: %v", err, err)
	}
	if unsupported.Target != "riscv64" || unsupported.Op != ir.OpLoad {
		t.Fatalf("unexpected error contents: %+v", unsupported)
	}
}

func asUnsupportedOp(err error, out **codegen.ErrUnsupportedOp) bool {
	e, ok := err.(*codegen.ErrUnsupportedOp)
	if ok {
		*out = e
	}
	return ok
}

func TestCompileAddPhiCopyIsDeclined(t *testing.T) {
	c := CompileBegin("f", RV64GC)
	if err := c.CompileAddPhiCopy(ir.PhiCopy{}); err == nil {
		t.Fatal("expected phi-copy lowering to be declined")
	}
}

func TestCompileEmitRejectsFPOnRV64IM(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("fadd", m.TypeDouble, []*ir.Type{m.TypeDouble, m.TypeDouble}, false)
	c := CompileBegin(f.Name, RV64IM)
	dest := f.NewVReg()
	err := c.CompileEmit(&ir.Inst{
		Op: ir.OpFAdd, Type: m.TypeDouble, Dest: dest,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypeDouble), ir.OpVReg(f.ParamVRegs[1], m.TypeDouble)},
	})
	if err == nil {
		t.Fatal("expected FP ops to be rejected on RV64IM")
	}
}

func TestZeroStackRangeUnrollsSmallRanges(t *testing.T) {
	code := zeroStackRange(0, 16)
	if len(code) != 8 {
		t.Fatalf("expected 2 instructions (8 bytes) for a 16-byte unrolled zero, got %d", len(code))
	}
}

func TestZeroStackRangeLoopsLargeRanges(t *testing.T) {
	code := zeroStackRange(0, 256)
	if len(code) == 0 {
		t.Fatal("expected non-empty loop code for a large zero range")
	}
	if len(code)%4 != 0 {
		t.Fatalf("expected a 4-byte-aligned instruction stream, got %d bytes", len(code))
	}
}
