package arm64

import (
	"encoding/binary"
	"fmt"

	"github.com/krystophny/liric/internal/codegen"
)

type encoder struct {
	buf         []byte
	fixups      codegen.FixupTable
	blockOffset map[uint32]int32
}

// Encode turns mf into aarch64 machine code (spec.md §4.7): a
// stp/ldp-framed prologue/epilogue, two-pass branch fixup resolution
// once every block's offset is known, and a hard error
// (codegen.ErrBranchRangeExceeded) if a B/B.cond displacement
// overflows its imm26/imm19 field.
func Encode(mf *MFunc) ([]byte, error) {
	e := &encoder{blockOffset: make(map[uint32]int32)}

	e.emitPrologue(mf)
	for _, b := range mf.Blocks {
		e.blockOffset[uint32(b.ID)] = int32(len(e.buf))
		for _, inst := range b.Insts {
			if err := e.emitInst(inst); err != nil {
				return nil, err
			}
		}
	}

	for _, fx := range e.fixups.Entries() {
		target, ok := e.blockOffset[fx.TargetBlock]
		if !ok {
			return nil, fmt.Errorf("arm64: branch to unknown block %d", fx.TargetBlock)
		}
		rel := target - int32(fx.PatchOffset)
		if rel%4 != 0 {
			return nil, fmt.Errorf("arm64: branch displacement %d not instruction-aligned", rel)
		}
		imm := rel / 4
		switch fx.Kind {
		case codegen.FixupRel26:
			if imm < -(1<<25) || imm >= 1<<25 {
				return nil, &codegen.ErrBranchRangeExceeded{Target: "arm64", From: fx.PatchOffset, To: uint32(target), Delta: int64(rel)}
			}
			word := binary.LittleEndian.Uint32(e.buf[fx.PatchOffset:])
			word = (word &^ 0x03FFFFFF) | uint32(imm)&0x03FFFFFF
			binary.LittleEndian.PutUint32(e.buf[fx.PatchOffset:], word)
		case codegen.FixupRel19:
			if imm < -(1<<18) || imm >= 1<<18 {
				return nil, &codegen.ErrBranchRangeExceeded{Target: "arm64", From: fx.PatchOffset, To: uint32(target), Delta: int64(rel)}
			}
			word := binary.LittleEndian.Uint32(e.buf[fx.PatchOffset:])
			word = (word &^ (0x7FFFF << 5)) | (uint32(imm)&0x7FFFF)<<5
			binary.LittleEndian.PutUint32(e.buf[fx.PatchOffset:], word)
		default:
			return nil, fmt.Errorf("arm64: unsupported fixup kind %d", fx.Kind)
		}
	}
	return e.buf, nil
}

// EncodeAny adapts Encode to codegen.Target.Encode's signature.
func EncodeAny(mfunc any) ([]byte, error) {
	mf, ok := mfunc.(*MFunc)
	if !ok {
		return nil, fmt.Errorf("arm64: EncodeAny given %T, want *MFunc", mfunc)
	}
	return Encode(mf)
}

func (e *encoder) w32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// emitPrologue: stp x29,x30,[sp,#-16]!; mov x29,sp; sub sp,sp,#N.
func (e *encoder) emitPrologue(mf *MFunc) {
	e.w32(stpPreIndexed(X29, X30, SP, -16))
	e.w32(movSPReg(X29, SP))
	if mf.StackSize > 0 {
		e.w32(subSPImm(mf.StackSize))
	}
	for i, reg := range ArgRegs {
		if i >= len(mf.IRFunc.ParamVRegs) {
			break
		}
		disp := int32(-8 * (i + 1))
		e.w32(strImm(reg, X29, disp, 8))
	}
}

func (e *encoder) emitInst(inst MInst) error {
	switch inst.Op {
	case MMovz:
		e.w32(movzEncode(inst.Dst.Reg, inst.Src.Imm))
	case MMovk:
		e.w32(movkEncode(inst.Dst.Reg, inst.Src.Imm))
	case MMov:
		if inst.Src.Kind == MOpReg && (inst.Src.Reg == SP || inst.Dst.Reg == SP) {
			e.w32(movSPReg(inst.Dst.Reg, inst.Src.Reg))
		} else {
			e.w32(orrShiftedReg(true, inst.Dst.Reg, SP /*xzr alias unused here*/, inst.Src.Reg, true))
		}
	case MAdd:
		e.w32(addSubReg(inst.Size == 8, false, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MSub:
		e.w32(addSubReg(inst.Size == 8, true, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MMul:
		e.w32(madd(inst.Size == 8, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg, SP))
	case MSDiv:
		e.w32(dataProc2Src(inst.Size == 8, 0b000011, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MUDiv:
		e.w32(dataProc2Src(inst.Size == 8, 0b000010, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MMSub:
		e.w32(msub(inst.Size == 8, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg, inst.Dst.Reg))
	case MAnd:
		e.w32(logicalShiftedReg(inst.Size == 8, 0b00, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MOrr:
		e.w32(logicalShiftedReg(inst.Size == 8, 0b01, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MEor:
		e.w32(logicalShiftedReg(inst.Size == 8, 0b10, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MLsl:
		e.w32(dataProc2Src(inst.Size == 8, 0b001000, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MLsr:
		e.w32(dataProc2Src(inst.Size == 8, 0b001001, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MAsr:
		e.w32(dataProc2Src(inst.Size == 8, 0b001010, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg))
	case MCmp:
		e.w32(subsShiftedReg(inst.Size == 8, SP /*rd=xzr, encoded as 31*/, inst.Dst.Reg, inst.Src.Reg))
	case MTst:
		e.w32(andsShiftedReg(inst.Size == 8, SP, inst.Dst.Reg, inst.Src.Reg))
	case MCSet:
		e.w32(csetEncode(inst.Size == 8, inst.Dst.Reg, inst.CC))
	case MCSel:
		e.w32(cselEncode(inst.Size == 8, inst.Dst.Reg, inst.Src.Reg, inst.Src2.Reg, inst.CC))
	case MLdr:
		if inst.Dst.Kind == MOpFReg {
			e.w32(ldrFImm(inst.Dst.FReg, inst.Src.Base, inst.Src.Disp, inst.Size))
		} else {
			e.w32(ldrImm(inst.Dst.Reg, inst.Src.Base, inst.Src.Disp, inst.Size))
		}
	case MStr:
		if inst.Src.Kind == MOpFReg {
			e.w32(strFImm(inst.Src.FReg, inst.Dst.Base, inst.Dst.Disp, inst.Size))
		} else {
			e.w32(strImm(inst.Src.Reg, inst.Dst.Base, inst.Dst.Disp, inst.Size))
		}
	case MB:
		e.fixups.Add(uint32(len(e.buf)), inst.Dst.Label, codegen.FixupRel26)
		e.w32(0x14000000)
	case MBCond:
		e.fixups.Add(uint32(len(e.buf)), inst.Dst.Label, codegen.FixupRel19)
		e.w32(0x54000000 | uint32(inst.CC))
	case MBL:
		e.fixups.Add(uint32(len(e.buf)), inst.Dst.Label, codegen.FixupRel26)
		e.w32(0x94000000)
	case MBLR:
		e.w32(0xD63F0000 | inst.Src.Reg.enc()<<5)
	case MFAdd:
		e.w32(fpDataProc2Src(inst.Size == 8, 0b0010, inst.Dst.FReg, inst.Src.FReg, inst.Src2.FReg))
	case MFSub:
		e.w32(fpDataProc2Src(inst.Size == 8, 0b0011, inst.Dst.FReg, inst.Src.FReg, inst.Src2.FReg))
	case MFMul:
		e.w32(fpDataProc2Src(inst.Size == 8, 0b0000, inst.Dst.FReg, inst.Src.FReg, inst.Src2.FReg))
	case MFDiv:
		e.w32(fpDataProc2Src(inst.Size == 8, 0b0001, inst.Dst.FReg, inst.Src.FReg, inst.Src2.FReg))
	case MFNeg:
		e.w32(fpDataProc1Src(inst.Size == 8, 0b000010, inst.Dst.FReg, inst.Src.FReg))
	case MFCmp:
		e.w32(fcmpEncode(inst.Size == 8, inst.Dst.FReg, inst.Src.FReg))
	case MScvtf:
		e.w32(scvtf(inst.Size == 8, inst.Dst.FReg, inst.Src.Reg))
	case MUcvtf:
		e.w32(ucvtf(inst.Size == 8, inst.Dst.FReg, inst.Src.Reg))
	case MFcvtzs:
		e.w32(fcvtzs(inst.Size == 8, inst.Dst.Reg, inst.Src.FReg))
	case MFcvtzu:
		e.w32(fcvtzu(inst.Size == 8, inst.Dst.Reg, inst.Src.FReg))
	case MFmov:
		e.w32(fmovGPRToFPR(inst.Size == 8, inst.Dst.FReg, inst.Src.Reg))
	case MFcvt:
		e.w32(fcvtSD(inst.Size == 8, inst.Dst.FReg, inst.Src.FReg))
	case MSubSP:
		e.w32(subSPReg(inst.Src.Reg))
	case MAddSP:
		e.w32(addSPReg(inst.Src.Reg))
	case MStp:
		e.w32(stpPreIndexed(inst.Dst.Reg, inst.Src.Reg, SP, int32(inst.Src2.Imm)))
	case MLdp:
		e.w32(ldpPostIndexed(inst.Dst.Reg, inst.Src.Reg, SP, 16))
	case MRet:
		e.w32(0xD65F0000 | X30.enc()<<5)
	case MNop:
		e.w32(0xD503201F)
	default:
		return fmt.Errorf("arm64: unencoded machine op %d", inst.Op)
	}
	return nil
}

func sf(is64 bool) uint32 {
	if is64 {
		return 1 << 31
	}
	return 0
}

// addSubReg encodes ADD/SUB (shifted register). Immediates always
// reach here pre-materialized into a scratch register by ISel
// (loadImm64), so this only ever needs the register form.
func addSubReg(is64, sub bool, rd, rn, rm Reg) uint32 {
	base := uint32(0x0B000000)
	if sub {
		base = 0x4B000000
	}
	return base | sf(is64) | rm.enc()<<16 | rn.enc()<<5 | rd.enc()
}

func subsShiftedReg(is64 bool, rd, rn, rm Reg) uint32 {
	return 0x6B000000 | sf(is64) | rm.enc()<<16 | rn.enc()<<5 | 31 // rd = xzr
}

func andsShiftedReg(is64 bool, rd, rn, rm Reg) uint32 {
	return 0x6A000000 | sf(is64) | rm.enc()<<16 | rn.enc()<<5 | 31
}

func logicalShiftedReg(is64 bool, opc uint32, rd, rn, rm Reg) uint32 {
	return 0x0A000000 | opc<<29 | sf(is64) | rm.enc()<<16 | rn.enc()<<5 | rd.enc()
}

func dataProc2Src(is64 bool, opcode uint32, rd, rn, rm Reg) uint32 {
	return 0x1AC00000 | sf(is64) | rm.enc()<<16 | opcode<<10 | rn.enc()<<5 | rd.enc()
}

func madd(is64 bool, rd, rn, rm, ra Reg) uint32 {
	return 0x1B000000 | sf(is64) | rm.enc()<<16 | ra.enc()<<10 | rn.enc()<<5 | rd.enc()
}

func msub(is64 bool, rd, rn, rm, ra Reg) uint32 {
	return 0x1B008000 | sf(is64) | rm.enc()<<16 | ra.enc()<<10 | rn.enc()<<5 | rd.enc()
}

func movSPReg(rd, rn Reg) uint32 {
	// ADD (immediate) #0 — the canonical "mov to/from sp" alias, since
	// ORR-with-xzr cannot name sp as an operand.
	return 0x91000000 | rn.enc()<<5 | rd.enc()
}

func orrShiftedReg(is64 bool, rd, _ Reg, rm Reg, viaXZR bool) uint32 {
	_ = viaXZR
	return 0x2A000000 | sf(is64) | rm.enc()<<16 | 31<<5 | rd.enc()
}

func movzEncode(rd Reg, imm16WithShift int64) uint32 {
	shift := uint32((imm16WithShift >> 48) & 0x3)
	imm16 := uint32(imm16WithShift) & 0xFFFF
	return 0xD2800000 | 1<<31 | shift<<21 | imm16<<5 | rd.enc()
}

func movkEncode(rd Reg, imm16WithShift int64) uint32 {
	shift := uint32((imm16WithShift >> 48) & 0x3)
	imm16 := uint32(imm16WithShift) & 0xFFFF
	return 0xF2800000 | shift<<21 | imm16<<5 | rd.enc()
}

func subSPImm(n uint32) uint32 {
	return 0xD1000000 | (n&0xFFF)<<10 | SP.enc()<<5 | SP.enc()
}

func subSPReg(rm Reg) uint32 {
	return 0xCB000000 | 1<<31 | rm.enc()<<16 | SP.enc()<<5 | SP.enc()
}

func addSPReg(rm Reg) uint32 {
	return 0x8B000000 | 1<<31 | rm.enc()<<16 | SP.enc()<<5 | SP.enc()
}

// ldrImm/strImm: LDR/STR (unsigned immediate), 32 or 64-bit, scaled
// 12-bit offset — falls back to the unscaled LDUR/STUR form for the
// small negative frame-relative displacements this backend always uses.
func ldrImm(rt, rn Reg, disp int32, size uint8) uint32 {
	size32 := uint32(0b10)
	if size == 8 {
		size32 = 0b11
	}
	return ldStrCommon(size32, 1, rt, rn, disp, size)
}

func strImm(rt, rn Reg, disp int32, size uint8) uint32 {
	size32 := uint32(0b10)
	if size == 8 {
		size32 = 0b11
	}
	return ldStrCommon(size32, 0, rt, rn, disp, size)
}

func ldrFImm(rt FReg, rn Reg, disp int32, size uint8) uint32 {
	return ldStrFCommon(1, rt, rn, disp, size)
}

func strFImm(rt FReg, rn Reg, disp int32, size uint8) uint32 {
	return ldStrFCommon(0, rt, rn, disp, size)
}

// ldStrCommon encodes LDR/STR (immediate, unsigned offset) when disp
// fits the scaled imm12 range, otherwise falls back to LDUR/STUR
// (imm9, unscaled) per spec.md §4.7's "displacements outside
// [-256,255] materialized separately" — here handled inline since the
// unscaled form already spans that exact range.
func ldStrCommon(size, opc uint32, rt, rn Reg, disp int32, width uint8) uint32 {
	scale := int32(width)
	if disp >= 0 && disp%scale == 0 && disp/scale < 4096 {
		imm12 := uint32(disp / scale)
		return size<<30 | 0x39000000 | opc<<22 | imm12<<10 | rn.enc()<<5 | rt.enc()
	}
	// LDUR/STUR: imm9 signed unscaled offset.
	imm9 := uint32(disp) & 0x1FF
	return size<<30 | 0x38000000 | opc<<22 | imm9<<12 | rn.enc()<<5 | rt.enc()
}

func ldStrFCommon(opc uint32, rt FReg, rn Reg, disp int32, width uint8) uint32 {
	size := uint32(0b10)
	if width == 8 {
		size = 0b11
	}
	scale := int32(width)
	if disp >= 0 && disp%scale == 0 && disp/scale < 4096 {
		imm12 := uint32(disp / scale)
		return size<<30 | 0x3D000000 | opc<<22 | imm12<<10 | rn.enc()<<5 | rt.enc()
	}
	imm9 := uint32(disp) & 0x1FF
	return size<<30 | 0x3C000000 | opc<<22 | imm9<<12 | rn.enc()<<5 | rt.enc()
}

func stpPreIndexed(rt, rt2, rn Reg, disp int32) uint32 {
	imm7 := uint32(disp/8) & 0x7F
	return 0xA9800000 | imm7<<15 | rt2.enc()<<10 | rn.enc()<<5 | rt.enc()
}

func ldpPostIndexed(rt, rt2, rn Reg, disp int32) uint32 {
	imm7 := uint32(disp/8) & 0x7F
	return 0xA8C00000 | imm7<<15 | rt2.enc()<<10 | rn.enc()<<5 | rt.enc()
}

// csetEncode: cset rd, cond is the alias csinc rd, xzr, xzr, invert(cond).
func csetEncode(is64 bool, rd Reg, cc CC) uint32 {
	invCC := uint32(cc) ^ 1
	return 0x1A800400 | sf(is64) | 31<<16 | invCC<<12 | 31<<5 | rd.enc()
}

func cselEncode(is64 bool, rd, rn, rm Reg, cc CC) uint32 {
	return 0x1A800000 | sf(is64) | rm.enc()<<16 | uint32(cc)<<12 | rn.enc()<<5 | rd.enc()
}

func fpDataProc2Src(is64 bool, opcode uint32, rd, rn, rm FReg) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return 0x1E202800 | ftype<<22 | rm.enc()<<16 | opcode<<12 | rn.enc()<<5 | rd.enc()
}

func fpDataProc1Src(is64 bool, opcode uint32, rd, rn FReg) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return 0x1E204000 | ftype<<22 | opcode<<15 | rn.enc()<<5 | rd.enc()
}

func fcmpEncode(is64 bool, rn, rm FReg) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return 0x1E202000 | ftype<<22 | rm.enc()<<16 | rn.enc()<<5
}

func scvtf(is64 bool, rd FReg, rn Reg) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return 0x1E220000 | sf(is64) | ftype<<22 | 0b010<<16 | rn.enc()<<5 | rd.enc()
}

func ucvtf(is64 bool, rd FReg, rn Reg) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return 0x1E230000 | sf(is64) | ftype<<22 | 0b010<<16 | rn.enc()<<5 | rd.enc()
}

func fcvtzs(is64 bool, rd Reg, rn FReg) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return 0x1E380000 | sf(is64) | ftype<<22 | rn.enc()<<5 | rd.enc()
}

func fcvtzu(is64 bool, rd Reg, rn FReg) uint32 {
	ftype := uint32(0)
	if is64 {
		ftype = 1
	}
	return 0x1E390000 | sf(is64) | ftype<<22 | rn.enc()<<5 | rd.enc()
}

func fmovGPRToFPR(is64 bool, rd FReg, rn Reg) uint32 {
	ftype, opcode := uint32(0), uint32(0b110)
	if is64 {
		ftype, opcode = 1, 0b111
	}
	return 0x1E260000 | sf(is64) | ftype<<22 | opcode<<16 | rn.enc()<<5 | rd.enc()
}

// fcvtSD converts between single and double precision in place;
// is64 selects the destination width (fcvt d,s when true, else
// fcvt s,d), matching OpFPExt/OpFPTrunc's size-driven direction.
func fcvtSD(is64 bool, rd, rn FReg) uint32 {
	if is64 {
		return 0x1E22C000 | rn.enc()<<5 | rd.enc() // fcvt d, s
	}
	return 0x1E624000 | rn.enc()<<5 | rd.enc() // fcvt s, d
}
