package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/finalize"
	"github.com/krystophny/liric/internal/ir"
)

func buildRet42(t *testing.T) *ir.Function {
	t.Helper()
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("f", m.TypeI32, nil, false)
	b := f.NewBlock("entry")
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(42, m.TypeI32)}})
	finalize.Func(f)
	return f
}

func buildAdd(t *testing.T) (*ir.Module, *ir.Function) {
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
	return m, f
}

func TestSelectRetImmediate(t *testing.T) {
	f := buildRet42(t)
	mf, err := Select(f, f.Mod)
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	if len(mf.Blocks) != 1 {
		t.Fatalf("expected 1 machine block, got %d", len(mf.Blocks))
	}
	last := mf.Blocks[0].Insts[len(mf.Blocks[0].Insts)-1]
	if last.Op != MRet {
		t.Fatalf("expected function to end in ret, got op %d", last.Op)
	}
}

func TestEncodeRetImmediateProducesNonEmptyCode(t *testing.T) {
	f := buildRet42(t)
	mf, err := Select(f, f.Mod)
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	code, err := Encode(mf)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if len(code)%4 != 0 {
		t.Fatalf("expected a4-byte-aligned instruction stream, got %d bytes", len(code))
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty encoded function")
	}
}

func TestEncodeAddUsesStackSlots(t *testing.T) {
	_, f := buildAdd(t)
	mf, err := Select(f, f.Mod)
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	if mf.StackSize == 0 {
		t.Fatal("expected add/2 to need at least one stack slot for its dest vreg")
	}
	code, err := Encode(mf)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty code")
	}
}

func TestBranchFixupResolvesBlockOffset(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("branchy", m.TypeI32, nil, false)
	entry := f.NewBlock("entry")
	target := f.NewBlock("target")
	entry.Append(&ir.Inst{Op: ir.OpBr, Ops: []ir.Operand{ir.OpBlock(target.ID)}})
	target.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(7, m.TypeI32)}})
	finalize.Func(f)

	mf, err := Select(f, m)
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	code, err := Encode(mf)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty code")
	}
	// The entry block's B must land on the target block's first
	// instruction, the movz x0, #7 loading the return value.
	for at := 0; at+4 <= len(code); at += 4 {
		w := binary.LittleEndian.Uint32(code[at:])
		if w&0xFC000000 != 0x14000000 {
			continue
		}
		dest := at + int(int32(w<<6)>>6)*4
		if dest < 0 || dest+4 > len(code) || binary.LittleEndian.Uint32(code[dest:])&0xFF800000 != 0xD2800000 {
			t.Fatalf("B at %d resolves to %d, not the target block's movz", at, dest)
		}
		return
	}
	t.Fatal("expected an unconditional B in the encoded function")
}

func TestEncodeNativeFPAdd(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("fadd", m.TypeDouble, []*ir.Type{m.TypeDouble, m.TypeDouble}, false)
	b := f.NewBlock("entry")
	dest := f.NewVReg()
	b.Append(&ir.Inst{
		Op: ir.OpFAdd, Type: m.TypeDouble, Dest: dest,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypeDouble), ir.OpVReg(f.ParamVRegs[1], m.TypeDouble)},
	})
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeDouble, Ops: []ir.Operand{ir.OpVReg(dest, m.TypeDouble)}})
	finalize.Func(f)

	mf, err := Select(f, m)
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	code, err := Encode(mf)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty FP code")
	}
}
