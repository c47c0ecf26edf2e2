package finalize

import (
	"testing"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/ir"
)

func newTestModule() (*ir.Module, *arena.Arena) {
	a := arena.Create(0)
	return ir.NewModule(a), a
}

// TestBlockInstOffsetsInvariant checks universal invariant #1 (spec.md
// §8): block_inst_offsets[i+1]-block_inst_offsets[i] equals each
// block's instruction count, and the final entry equals the linear
// array's length.
func TestBlockInstOffsetsInvariant(t *testing.T) {
	m, _ := newTestModule()
	f := m.NewFunction("f", m.TypeI32, []*ir.Type{m.TypeI32}, false)
	entry := f.NewBlock("entry")
	mid := f.NewBlock("mid")

	v1 := f.NewVReg()
	entry.Append(&ir.Inst{Op: ir.OpAdd, Type: m.TypeI32, Dest: v1,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypeI32), ir.OpImmI64(1, m.TypeI32)}})
	entry.Append(&ir.Inst{Op: ir.OpBr, Ops: []ir.Operand{ir.OpBlock(mid.ID)}})

	mid.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(v1, m.TypeI32)}})

	Func(f)

	blocks := f.BlockArray()
	offsets := f.BlockInstOffsets()
	if len(offsets) != len(blocks)+1 {
		t.Fatalf("offsets len = %d, want %d", len(offsets), len(blocks)+1)
	}
	for i, b := range blocks {
		got := offsets[i+1] - offsets[i]
		if int(got) != b.NumInsts() {
			t.Errorf("block %d: offset delta %d != NumInsts %d", i, got, b.NumInsts())
		}
	}
	if int(offsets[len(blocks)]) != len(f.LinearInsts()) {
		t.Errorf("final offset %d != len(LinearInsts) %d", offsets[len(blocks)], len(f.LinearInsts()))
	}
}

// TestIdentityLaws covers spec.md §8's peephole laws: add x,0 -> x,
// mul x,1 -> x, xor x,0 -> x, and x,-1 -> x.
func TestIdentityLaws(t *testing.T) {
	cases := []struct {
		name string
		op   ir.Opcode
		imm  int64
	}{
		{"add0", ir.OpAdd, 0},
		{"mul1", ir.OpMul, 1},
		{"xor0", ir.OpXor, 0},
		{"andAllOnes", ir.OpAnd, -1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, _ := newTestModule()
			f := m.NewFunction("f", m.TypeI32, []*ir.Type{m.TypeI32}, false)
			entry := f.NewBlock("entry")
			x := f.ParamVRegs[0]
			dest := f.NewVReg()
			entry.Append(&ir.Inst{Op: c.op, Type: m.TypeI32, Dest: dest,
				Ops: []ir.Operand{ir.OpVReg(x, m.TypeI32), ir.OpImmI64(c.imm, m.TypeI32)}})
			entry.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(dest, m.TypeI32)}})

			Func(f)

			insts := f.LinearInsts()
			if len(insts) != 1 {
				t.Fatalf("want 1 surviving inst (ret), got %d", len(insts))
			}
			ret := insts[0]
			if ret.Op != ir.OpRet {
				t.Fatalf("want ret, got %s", ret.Op)
			}
			if ret.Ops[0].Kind != ir.ValVReg || ret.Ops[0].VReg != x {
				t.Errorf("ret operand not rewritten to param vreg: %+v", ret.Ops[0])
			}
		})
	}
}

// TestConstantFolding covers "binary arithmetic on two imm_i64 folds
// to a single imm_i64" (spec.md §4.3).
func TestConstantFolding(t *testing.T) {
	m, _ := newTestModule()
	f := m.NewFunction("f", m.TypeI32, nil, false)
	entry := f.NewBlock("entry")
	dest := f.NewVReg()
	entry.Append(&ir.Inst{Op: ir.OpAdd, Type: m.TypeI32, Dest: dest,
		Ops: []ir.Operand{ir.OpImmI64(19, m.TypeI32), ir.OpImmI64(23, m.TypeI32)}})
	entry.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(dest, m.TypeI32)}})

	Func(f)

	insts := f.LinearInsts()
	if len(insts) != 1 {
		t.Fatalf("want 1 surviving inst, got %d", len(insts))
	}
	ret := insts[0]
	if ret.Ops[0].Kind != ir.ValImmI64 || ret.Ops[0].ImmI64 != 42 {
		t.Errorf("ret operand = %+v, want imm_i64 42", ret.Ops[0])
	}
}

// TestConstantConditionBranch covers "condbr imm_true, T, F -> br T"
// and the _false variant (spec.md §8).
func TestConstantConditionBranch(t *testing.T) {
	for _, cond := range []int64{0, 1} {
		m, _ := newTestModule()
		f := m.NewFunction("f", m.TypeVoid, nil, false)
		entry := f.NewBlock("entry")
		tBlock := f.NewBlock("t")
		fBlock := f.NewBlock("f")
		entry.Append(&ir.Inst{Op: ir.OpCondBr,
			Ops: []ir.Operand{ir.OpImmI64(cond, m.TypeI1), ir.OpBlock(tBlock.ID), ir.OpBlock(fBlock.ID)}})
		tBlock.Append(&ir.Inst{Op: ir.OpRetVoid})
		fBlock.Append(&ir.Inst{Op: ir.OpRetVoid})

		Func(f)

		br := entry.InstAt(0)
		if br.Op != ir.OpBr {
			t.Fatalf("cond=%d: want br, got %s", cond, br.Op)
		}
		wantBlock := fBlock.ID
		if cond != 0 {
			wantBlock = tBlock.ID
		}
		if br.Ops[0].Block != wantBlock {
			t.Errorf("cond=%d: branch target = %d, want %d", cond, br.Ops[0].Block, wantBlock)
		}
	}
}

// TestRedundantLoadElimination covers "two load T, p in a row within a
// block collapse to one load" (spec.md §8).
func TestRedundantLoadElimination(t *testing.T) {
	m, _ := newTestModule()
	f := m.NewFunction("f", m.TypeI32, []*ir.Type{m.TypePtr}, false)
	entry := f.NewBlock("entry")
	p := f.ParamVRegs[0]
	v1 := f.NewVReg()
	v2 := f.NewVReg()
	v3 := f.NewVReg()
	entry.Append(&ir.Inst{Op: ir.OpLoad, Type: m.TypeI32, Dest: v1, Ops: []ir.Operand{ir.OpVReg(p, m.TypePtr)}})
	entry.Append(&ir.Inst{Op: ir.OpLoad, Type: m.TypeI32, Dest: v2, Ops: []ir.Operand{ir.OpVReg(p, m.TypePtr)}})
	entry.Append(&ir.Inst{Op: ir.OpAdd, Type: m.TypeI32, Dest: v3,
		Ops: []ir.Operand{ir.OpVReg(v1, m.TypeI32), ir.OpVReg(v2, m.TypeI32)}})
	entry.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(v3, m.TypeI32)}})

	Func(f)

	insts := f.LinearInsts()
	loads := 0
	for _, in := range insts {
		if in.Op == ir.OpLoad {
			loads++
		}
	}
	if loads != 1 {
		t.Errorf("want 1 surviving load, got %d", loads)
	}
}

// TestDeadInstructionRemoval checks that an unused, non-side-effecting
// instruction is dropped, while alloca always survives.
func TestDeadInstructionRemoval(t *testing.T) {
	m, _ := newTestModule()
	f := m.NewFunction("f", m.TypeVoid, []*ir.Type{m.TypeI32}, false)
	entry := f.NewBlock("entry")
	dead := f.NewVReg()
	slot := f.NewVReg()
	entry.Append(&ir.Inst{Op: ir.OpAdd, Type: m.TypeI32, Dest: dead,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypeI32), ir.OpImmI64(5, m.TypeI32)}})
	entry.Append(&ir.Inst{Op: ir.OpAlloca, Type: m.TypeI32, Dest: slot})
	entry.Append(&ir.Inst{Op: ir.OpRetVoid})

	Func(f)

	insts := f.LinearInsts()
	for _, in := range insts {
		if in.Dest == dead {
			t.Errorf("unused non-side-effecting instruction was not removed")
		}
	}
	foundAlloca := false
	for _, in := range insts {
		if in.Op == ir.OpAlloca {
			foundAlloca = true
		}
	}
	if !foundAlloca {
		t.Errorf("alloca must never be removed, even when unused")
	}
}

// TestPhiCopyOrdering covers spec.md §4.4: copies for a predecessor
// must be in reverse phi-encounter order.
func TestPhiCopyOrdering(t *testing.T) {
	m, _ := newTestModule()
	f := m.NewFunction("f", m.TypeI32, nil, false)
	entry := f.NewBlock("entry")
	merge := f.NewBlock("merge")
	entry.Append(&ir.Inst{Op: ir.OpBr, Ops: []ir.Operand{ir.OpBlock(merge.ID)}})

	d1 := f.NewVReg()
	d2 := f.NewVReg()
	merge.Append(&ir.Inst{Op: ir.OpPhi, Type: m.TypeI32, Dest: d1,
		Ops: []ir.Operand{ir.OpImmI64(10, m.TypeI32), ir.OpBlock(entry.ID)}})
	merge.Append(&ir.Inst{Op: ir.OpPhi, Type: m.TypeI32, Dest: d2,
		Ops: []ir.Operand{ir.OpImmI64(20, m.TypeI32), ir.OpBlock(entry.ID)}})
	merge.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(d1, m.TypeI32)}})

	Func(f)

	copies := entry.PhiCopies
	if len(copies) != 2 {
		t.Fatalf("want 2 phi copies on entry, got %d", len(copies))
	}
	if copies[0].Dest != d2 || copies[1].Dest != d1 {
		t.Errorf("copies not in reverse phi-encounter order: %+v", copies)
	}
}
