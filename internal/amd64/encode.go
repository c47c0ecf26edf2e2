package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/krystophny/liric/internal/codegen"
)

// encoder accumulates bytes and branch fixups for one MFunc.
type encoder struct {
	buf    []byte
	fixups codegen.FixupTable
	blockOffset map[ir32]int32
}

type ir32 = uint32

// Encode turns mf into x86_64 machine code, resolving every branch
// fixup once all blocks are laid out (spec.md §4.5). Returned as the
// shape internal/codegen.Target.Encode expects.
func Encode(mf *MFunc) ([]byte, error) {
	e := &encoder{blockOffset: make(map[ir32]int32)}

	e.emitPrologue(mf)
	e.emitParamStores(mf)

	for _, mb := range mf.Blocks {
		mb.Offset = int32(len(e.buf))
		e.blockOffset[uint32(mb.ID)] = mb.Offset
		for _, inst := range mb.Insts {
			if err := e.emitInst(inst); err != nil {
				return nil, fmt.Errorf("amd64 encode %s: %w", mf.Name, err)
			}
		}
	}

	for _, fx := range e.fixups.Entries() {
		target, ok := e.blockOffset[fx.TargetBlock]
		if !ok {
			return nil, fmt.Errorf("amd64 encode %s: fixup references unknown block %d", mf.Name, fx.TargetBlock)
		}
		rel := target - (int32(fx.PatchOffset) + 4)
		binary.LittleEndian.PutUint32(e.buf[fx.PatchOffset:], uint32(rel))
	}

	return e.buf, nil
}

// EncodeSequence assembles a flat, branch-free instruction list with
// no prologue/epilogue framing — used by internal/amd64/stencil to
// build its pre-assembled templates from the same instruction
// semantics the ISel path uses, rather than duplicating hand-written
// byte patterns.
func EncodeSequence(insts []MInst) ([]byte, error) {
	e := &encoder{blockOffset: make(map[ir32]int32)}
	for _, inst := range insts {
		if err := e.emitInst(inst); err != nil {
			return nil, err
		}
	}
	return e.buf, nil
}

// EncodeAny adapts Encode to the codegen.Target.Encode signature.
func EncodeAny(mfunc any) ([]byte, error) {
	mf, ok := mfunc.(*MFunc)
	if !ok {
		return nil, fmt.Errorf("amd64: Encode expects *amd64.MFunc, got %T", mfunc)
	}
	return Encode(mf)
}

func (e *encoder) w8(b byte)  { e.buf = append(e.buf, b) }
func (e *encoder) w32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
}
func (e *encoder) w64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) emitPrologue(mf *MFunc) {
	e.w8(0x55) // push rbp
	// mov rbp, rsp
	e.w8(rex(true, false, false, false))
	e.w8(0x89)
	e.w8(modrm(3, RSP.low3(), RBP.low3()))
	if mf.StackSize > 0 {
		// sub rsp, imm32
		e.w8(rex(true, false, false, false))
		e.w8(0x81)
		e.w8(modrm(3, 5, RSP.low3()))
		e.w32(int32(mf.StackSize))
	}
}

// emitParamStores writes each ABI argument register into its
// parameter vreg's stack slot, in declaration order (spec.md §4.5).
// Slot assignment happened during Select; the encoder re-derives the
// same offsets by walking ParamVRegs in the same order ISel pre-
// assigned them, so the first parameter is always at -8(rbp).
func (e *encoder) emitParamStores(mf *MFunc) {
	for i, reg := range ArgRegs {
		if i >= len(mf.IRFunc.ParamVRegs) {
			break
		}
		disp := int32(-8 * (i + 1))
		e.emitMov(MemOp(RBP, disp), RegOp(reg), 8)
	}
}

func (e *encoder) emitInst(inst MInst) error {
	switch inst.Op {
	case MMov:
		e.emitMovInst(inst)
	case MMovImm:
		e.emitMovImm(inst.Dst.Reg, inst.Src.Imm)
	case MAdd, MSub, MAnd, MOr, MXor, MCmp:
		e.emitALU(inst)
	case MIMul:
		e.emitIMul(inst)
	case MSal, MSar, MShr:
		e.emitShift(inst)
	case MTest:
		e.emitTest(inst)
	case MCdq:
		e.w8(0x99)
	case MCqo:
		e.w8(rex(true, false, false, false))
		e.w8(0x99)
	case MIDiv:
		e.emitIDiv(inst)
	case MSetcc:
		e.emitSetcc(inst)
	case MMovzx:
		e.emitMovzx(inst)
	case MMovsx:
		e.emitMovsx(inst)
	case MCmovcc:
		e.emitCmovcc(inst)
	case MLea:
		e.emitLea(inst)
	case MJmp:
		e.w8(0xE9)
		e.fixups.Add(uint32(len(e.buf)), inst.Dst.Label, codegen.FixupRel32)
		e.w32(0)
	case MJcc:
		e.w8(0x0F)
		e.w8(0x80 + byte(inst.CC))
		e.fixups.Add(uint32(len(e.buf)), inst.Dst.Label, codegen.FixupRel32)
		e.w32(0)
	case MCall:
		// call r/m64: FF /2
		e.maybeRex(false, false, inst.Src.Reg.needsRexExt())
		e.w8(0xFF)
		e.w8(modrm(3, 2, inst.Src.Reg.low3()))
	case MPush:
		e.w8(0x50 + inst.Dst.Reg.low3())
	case MPop:
		e.w8(0x58 + inst.Dst.Reg.low3())
	case MSubRSP:
		e.emitRSPAdjust(0x81, 5, inst.Src)
	case MAddRSP:
		e.emitRSPAdjust(0x81, 0, inst.Src)
	case MLeave:
		e.w8(0xC9)
	case MRet:
		e.w8(0xC3)
	case MNop:
		e.w8(0x90)
	default:
		return fmt.Errorf("unencoded machine op %d", inst.Op)
	}
	return nil
}

func (e *encoder) emitRSPAdjust(opcode byte, ext byte, src MOperand) {
	if src.Kind == MOpReg {
		// sub rsp, reg (29 /r) or add rsp, reg (01 /r).
		op := byte(0x29)
		if ext == 0 {
			op = 0x01
		}
		e.w8(rex(true, src.Reg.needsRexExt(), false, false))
		e.w8(op)
		e.w8(modrm(3, src.Reg.low3(), RSP.low3()))
		return
	}
	e.w8(rex(true, false, false, false))
	e.w8(opcode)
	e.w8(modrm(3, ext, RSP.low3()))
	e.w32(int32(src.Imm))
}

// rex builds a REX prefix byte: w selects 64-bit operand size; r/x/b
// extend the ModRM.reg / SIB.index / ModRM.rm (or base) fields to
// reach r8-r15.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm uint8) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// maybeRex emits a REX prefix byte whenever w or either extension bit
// is needed; many encodings below always emit REX.W since this
// backend only operates on 64-bit-slot values or the few i32/float
// cases threaded through Size.
func (e *encoder) maybeRex(w, r, b bool) {
	if w || r || b {
		e.w8(rex(w, r, false, b))
	}
}

func (e *encoder) emitMovInst(inst MInst) {
	if inst.Dst.Kind == MOpReg && inst.Src.Kind == MOpMem {
		e.emitLoad(inst.Dst.Reg, inst.Src, inst.Size)
		return
	}
	if inst.Dst.Kind == MOpMem && inst.Src.Kind == MOpReg {
		e.emitStore(inst.Dst, inst.Src.Reg, inst.Size)
		return
	}
	// reg, reg
	w := inst.Size == 8
	e.w8(rex(w, inst.Src.Reg.needsRexExt(), false, inst.Dst.Reg.needsRexExt()))
	e.w8(0x89)
	e.w8(modrm(3, inst.Src.Reg.low3(), inst.Dst.Reg.low3()))
}

// emitLoad: mov reg, [base+disp].
func (e *encoder) emitLoad(dst Reg, mem MOperand, size uint8) {
	op := byte(0x8B)
	w := size == 8
	e.w8(rex(w, dst.needsRexExt(), false, mem.Base.needsRexExt()))
	e.w8(op)
	e.writeMemModRM(dst, mem)
}

// emitStore: mov [base+disp], src.
func (e *encoder) emitStore(mem MOperand, src Reg, size uint8) {
	w := size == 8
	e.w8(rex(w, src.needsRexExt(), false, mem.Base.needsRexExt()))
	e.w8(0x89)
	e.writeMemModRM(src, mem)
}

func (e *encoder) emitMov(dst, src MOperand, size uint8) {
	e.emitMovInst(MInst{Op: MMov, Dst: dst, Src: src, Size: size})
}

// writeMemModRM writes the ModRM (+SIB if base is rsp/r12) and
// displacement bytes for a [base+disp] operand with regField as the
// ModRM.reg slot.
func (e *encoder) writeMemModRM(regField Reg, mem MOperand) {
	mod := uint8(2) // disp32, simplest uniform choice
	if mem.Disp >= -128 && mem.Disp <= 127 {
		mod = 1
	}
	rm := mem.Base.low3()
	needsSIB := rm == RSP.low3()
	if needsSIB {
		e.w8(modrm(mod, regField.low3(), 4))
		e.w8(0x24) // scale=00, index=100 (none), base=100 (rsp)
	} else {
		e.w8(modrm(mod, regField.low3(), rm))
	}
	if mod == 1 {
		e.w8(byte(int8(mem.Disp)))
	} else {
		e.w32(mem.Disp)
	}
}

func (e *encoder) emitMovImm(dst Reg, v int64) {
	// movabs reg, imm64 (REX.W B8+r imm64) — always full width,
	// matching the original's "materialize into accumulator" style.
	e.w8(rex(true, false, false, dst.needsRexExt()))
	e.w8(0xB8 + dst.low3())
	e.w64(v)
}

var aluOpcode = map[MOp]byte{MAdd: 0x01, MSub: 0x29, MAnd: 0x21, MOr: 0x09, MXor: 0x31, MCmp: 0x39}

func (e *encoder) emitALU(inst MInst) {
	w := inst.Size == 8
	e.w8(rex(w, inst.Src.Reg.needsRexExt(), false, inst.Dst.Reg.needsRexExt()))
	e.w8(aluOpcode[inst.Op])
	e.w8(modrm(3, inst.Src.Reg.low3(), inst.Dst.Reg.low3()))
}

func (e *encoder) emitIMul(inst MInst) {
	w := inst.Size == 8
	e.w8(rex(w, inst.Dst.Reg.needsRexExt(), false, inst.Src.Reg.needsRexExt()))
	e.w8(0x0F)
	e.w8(0xAF)
	e.w8(modrm(3, inst.Dst.Reg.low3(), inst.Src.Reg.low3()))
}

func (e *encoder) emitIDiv(inst MInst) {
	w := inst.Size == 8
	e.w8(rex(w, false, false, inst.Src.Reg.needsRexExt()))
	e.w8(0xF7)
	e.w8(modrm(3, 7, inst.Src.Reg.low3()))
}

var shiftExt = map[MOp]uint8{MSal: 4, MShr: 5, MSar: 7}

func (e *encoder) emitShift(inst MInst) {
	w := inst.Size == 8
	e.w8(rex(w, false, false, inst.Dst.Reg.needsRexExt()))
	e.w8(0xD3) // shift by cl
	e.w8(modrm(3, shiftExt[inst.Op], inst.Dst.Reg.low3()))
}

func (e *encoder) emitTest(inst MInst) {
	w := inst.Size == 8
	e.w8(rex(w, inst.Src.Reg.needsRexExt(), false, inst.Dst.Reg.needsRexExt()))
	e.w8(0x85)
	e.w8(modrm(3, inst.Src.Reg.low3(), inst.Dst.Reg.low3()))
}

func (e *encoder) emitSetcc(inst MInst) {
	// setcc r/m8; no REX needed for rax/rcx/rdx/rbx low-byte forms.
	e.maybeRex(false, false, inst.Dst.Reg.needsRexExt())
	e.w8(0x0F)
	e.w8(0x90 + byte(inst.CC))
	e.w8(modrm(3, 0, inst.Dst.Reg.low3()))
}

func (e *encoder) emitMovzx(inst MInst) {
	e.w8(rex(true, inst.Dst.Reg.needsRexExt(), false, inst.Src.Reg.needsRexExt()))
	e.w8(0x0F)
	if inst.Size == 2 {
		e.w8(0xB7)
	} else {
		e.w8(0xB6)
	}
	e.w8(modrm(3, inst.Dst.Reg.low3(), inst.Src.Reg.low3()))
}

func (e *encoder) emitMovsx(inst MInst) {
	e.w8(rex(true, inst.Dst.Reg.needsRexExt(), false, inst.Src.Reg.needsRexExt()))
	if inst.Size == 4 {
		e.w8(0x63) // movsxd
	} else {
		e.w8(0x0F)
		if inst.Size == 2 {
			e.w8(0xBF)
		} else {
			e.w8(0xBE)
		}
	}
	e.w8(modrm(3, inst.Dst.Reg.low3(), inst.Src.Reg.low3()))
}

func (e *encoder) emitCmovcc(inst MInst) {
	w := inst.Size == 8
	e.w8(rex(w, inst.Dst.Reg.needsRexExt(), false, inst.Src.Reg.needsRexExt()))
	e.w8(0x0F)
	e.w8(0x40 + byte(inst.CC))
	e.w8(modrm(3, inst.Dst.Reg.low3(), inst.Src.Reg.low3()))
}

func (e *encoder) emitLea(inst MInst) {
	e.w8(rex(true, inst.Dst.Reg.needsRexExt(), false, inst.Src.Base.needsRexExt()))
	e.w8(0x8D)
	e.writeMemModRM(inst.Dst.Reg, inst.Src)
}
