package amd64

import (
	"bytes"
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
	mf, err := Select(f, f.Mod, NewHelperTable())
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	if len(mf.Blocks) != 1 {
		t.Fatalf("expected 1 machine block, got %d", len(mf.Blocks))
	}
	insts := mf.Blocks[0].Insts
	if len(insts) < 2 {
		t.Fatalf("expected at least mov-imm + ret, got %d insts", len(insts))
	}
	last := insts[len(insts)-1]
	if last.Op != MRet {
		t.Fatalf("expected function to end in ret, got op %d", last.Op)
	}
}

func TestEncodeRetImmediateEndsInRet(t *testing.T) {
	f := buildRet42(t)
	mf, err := Select(f, f.Mod, NewHelperTable())
	if err != nil {
		t.Fatalf("select error: %v", err)
	}
	code, err := Encode(mf)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty encoded function")
	}
	if code[len(code)-1] != 0xC3 {
		t.Fatalf("expected function to end in a ret opcode (0xC3), got 0x%02x", code[len(code)-1])
	}
	if code[0] != 0x55 {
		t.Fatalf("expected function to start with push rbp (0x55), got 0x%02x", code[0])
	}
}

func TestEncodeAddUsesParamStoresAndStackSlots(t *testing.T) {
	_, f := buildAdd(t)
	mf, err := Select(f, f.Mod, NewHelperTable())
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
	if !bytes.Contains(code, []byte{0xC3}) {
		t.Fatal("expected encoded add to contain a ret opcode")
	}
}

func TestBranchFixupResolvesToCorrectBlockOffset(t *testing.T) {
	a := arena.Create(0)
	m := ir.NewModule(a)
	f := m.NewFunction("branchy", m.TypeI32, nil, false)
	entry := f.NewBlock("entry")
	target := f.NewBlock("target")
	entry.Append(&ir.Inst{Op: ir.OpBr, Ops: []ir.Operand{ir.OpBlock(target.ID)}})
	target.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(7, m.TypeI32)}})
	finalize.Func(f)

	mf, err := Select(f, m, NewHelperTable())
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
	// The entry block's jmp rel32 must land on the target block's first
	// instruction, the movabs rax, 7 (REX.W B8) loading the return value.
	at := bytes.IndexByte(code, 0xE9)
	if at < 0 || at+5 > len(code) {
		t.Fatalf("expected a jmp rel32 in % x", code)
	}
	dest := at + 5 + int(int32(binary.LittleEndian.Uint32(code[at+1:])))
	if dest < 0 || dest+2 > len(code) || code[dest] != 0x48 || code[dest+1] != 0xB8 {
		t.Fatalf("jmp at %d resolves to %d, not the target block's movabs rax: % x", at, dest, code)
	}
}
