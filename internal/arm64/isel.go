package arm64

import (
	"fmt"
	"math"

	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/ir"
)

// Select lowers fn into an aarch64 MFunc (spec.md §4.7): integer ops
// flow through x9 (accumulator) / x10 (secondary), floating point is
// native (d0/d1) rather than routed through helper trampolines since
// aarch64's calling convention and FP register bank make that
// unnecessary, and every vreg still gets a stack-slot home per the
// shared discipline in internal/codegen.
func Select(fn *ir.Function, mod *ir.Module) (*MFunc, error) {
	if fn.IsDecl {
		return nil, fmt.Errorf("arm64: cannot select a declaration-only function %q", fn.Name)
	}

	s := &selector{
		fn:    fn,
		mod:   mod,
		alloc: codegen.NewStackAllocator(),
		mf:    &MFunc{Name: fn.Name, IRFunc: fn},
	}

	for _, v := range fn.ParamVRegs {
		s.alloc.Slot(v)
	}

	fn.Blocks(func(b *ir.Block) bool {
		mb := &MBlock{ID: b.ID, Offset: -1}
		s.mb = mb
		b.Insts(func(inst *ir.Inst) bool {
			s.lower(inst)
			return true
		})
		for _, pc := range b.PhiCopies {
			s.emitPhiCopy(pc)
		}
		s.mf.Blocks = append(s.mf.Blocks, mb)
		return true
	})

	s.mf.StackSize = s.alloc.FrameSize()
	return s.mf, s.err
}

type selector struct {
	fn    *ir.Function
	mod   *ir.Module
	alloc *codegen.StackAllocator
	mf    *MFunc
	mb    *MBlock
	err   error
}

func (s *selector) emit(i MInst) { s.mb.Insts = append(s.mb.Insts, i) }

func (s *selector) fail(format string, args ...any) {
	if s.err == nil {
		s.err = fmt.Errorf("arm64 isel (%s): "+format, append([]any{s.fn.Name}, args...)...)
	}
}

func sizeOf(t *ir.Type) uint8 {
	if t == nil {
		return 8
	}
	switch t.Kind {
	case ir.KindI1, ir.KindI8:
		return 1
	case ir.KindI16:
		return 2
	case ir.KindI32, ir.KindFloat:
		return 4
	default:
		return 8
	}
}

func isFloat(t *ir.Type) bool {
	return t != nil && (t.Kind == ir.KindFloat || t.Kind == ir.KindDouble)
}

// loadImm64 materializes an arbitrary 64-bit immediate via a
// movz/movk ladder (spec.md §4.7: "Large immediates are loaded with a
// movz/movk ladder").
func (s *selector) loadImm64(reg Reg, v int64) {
	u := uint64(v)
	s.emit(MInst{Op: MMovz, Dst: RegOp(reg), Src: ImmOp(int64(u & 0xFFFF)), Size: 8})
	for shift := 1; shift < 4; shift++ {
		chunk := (u >> (16 * shift)) & 0xFFFF
		if chunk == 0 {
			continue
		}
		s.emit(MInst{Op: MMovk, Dst: RegOp(reg), Src: ImmOp(int64(chunk) | int64(shift)<<48), Size: 8})
	}
}

// fpImmBits returns the raw bit pattern an FP immediate occupies in its
// slot: the float32 encoding for float, the float64 encoding otherwise.
func fpImmBits(op ir.Operand) int64 {
	if op.Type != nil && op.Type.Kind == ir.KindFloat {
		return int64(math.Float32bits(float32(op.ImmF64)))
	}
	return int64(math.Float64bits(op.ImmF64))
}

func (s *selector) loadOperand(op ir.Operand, reg Reg) {
	switch op.Kind {
	case ir.ValVReg:
		disp := s.alloc.Slot(op.VReg)
		s.emit(MInst{Op: MLdr, Dst: RegOp(reg), Src: MemOp(X29, disp), Size: sizeOf(op.Type)})
	case ir.ValImmI64:
		s.loadImm64(reg, op.ImmI64)
	case ir.ValImmF64:
		s.loadImm64(reg, fpImmBits(op))
	case ir.ValNull, ir.ValUndef:
		s.loadImm64(reg, 0)
	case ir.ValGlobal:
		// Resolved to a host address by internal/jit before ISel runs;
		// reaching here under object-file emission leaves a zero
		// placeholder; no relocation is recorded for it.
		s.loadImm64(reg, 0)
	default:
		s.fail("unhandled operand kind %d", op.Kind)
	}
}

func (s *selector) loadFOperand(op ir.Operand, reg FReg) {
	switch op.Kind {
	case ir.ValVReg:
		disp := s.alloc.Slot(op.VReg)
		s.emit(MInst{Op: MLdr, Dst: FRegOp(reg), Src: MemOp(X29, disp), Size: sizeOf(op.Type)})
	case ir.ValImmF64:
		s.loadImm64(Acc, fpImmBits(op))
		s.emit(MInst{Op: MFmov, Dst: FRegOp(reg), Src: RegOp(Acc), Size: sizeOf(op.Type)})
	case ir.ValImmI64:
		s.loadImm64(Acc, op.ImmI64)
		s.emit(MInst{Op: MFmov, Dst: FRegOp(reg), Src: RegOp(Acc), Size: sizeOf(op.Type)})
	default:
		s.fail("unhandled FP operand kind %d", op.Kind)
	}
}

func (s *selector) storeDest(dest ir.VRegID, reg Reg, size uint8) {
	if dest == ir.VRegNone {
		return
	}
	disp := s.alloc.Slot(dest)
	s.emit(MInst{Op: MStr, Dst: MemOp(X29, disp), Src: RegOp(reg), Size: size})
}

func (s *selector) storeFDest(dest ir.VRegID, reg FReg, size uint8) {
	if dest == ir.VRegNone {
		return
	}
	disp := s.alloc.Slot(dest)
	s.emit(MInst{Op: MStr, Dst: MemOp(X29, disp), Src: FRegOp(reg), Size: size})
}

var binIntOp = map[ir.Opcode]MOp{
	ir.OpAdd: MAdd, ir.OpSub: MSub, ir.OpMul: MMul,
	ir.OpAnd: MAnd, ir.OpOr: MOrr, ir.OpXor: MEor,
	ir.OpShl: MLsl, ir.OpLShr: MLsr, ir.OpAShr: MAsr,
}

var binFPOp = map[ir.Opcode]MOp{
	ir.OpFAdd: MFAdd, ir.OpFSub: MFSub, ir.OpFMul: MFMul, ir.OpFDiv: MFDiv,
}

func (s *selector) lower(inst *ir.Inst) {
	switch inst.Op {
	case ir.OpRetVoid:
		s.emit(MInst{Op: MLdp, Dst: RegOp(X29), Src: RegOp(X30)})
		s.emit(MInst{Op: MRet})
	case ir.OpRet:
		if isFloat(inst.Type) {
			s.loadFOperand(inst.Ops[0], D0)
		} else {
			s.loadOperand(inst.Ops[0], X0)
		}
		s.emit(MInst{Op: MLdp, Dst: RegOp(X29), Src: RegOp(X30)})
		s.emit(MInst{Op: MRet})
	case ir.OpUnreachable:
		// No native trap opcode modeled, matching the x86_64 backend.

	case ir.OpBr:
		s.emit(MInst{Op: MB, Dst: LabelOp(uint32(inst.Ops[0].Block))})
	case ir.OpCondBr:
		s.loadOperand(inst.Ops[0], Acc)
		s.emit(MInst{Op: MTst, Dst: RegOp(Acc), Src: RegOp(Acc), Size: 1})
		s.emit(MInst{Op: MBCond, CC: CCNE, Dst: LabelOp(uint32(inst.Ops[1].Block))})
		s.emit(MInst{Op: MB, Dst: LabelOp(uint32(inst.Ops[2].Block))})

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		s.emit(MInst{Op: binIntOp[inst.Op], Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		s.emit(MInst{Op: binIntOp[inst.Op], Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpSDiv, ir.OpUDiv:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		op := MSDiv
		if inst.Op == ir.OpUDiv {
			op = MUDiv
		}
		s.emit(MInst{Op: op, Dst: RegOp(X11), Src: RegOp(Acc), Src2: RegOp(Sec), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, X11, sizeOf(inst.Type))

	case ir.OpSRem, ir.OpURem:
		// idiv uses sdiv/udiv then an msub to recover the remainder
		// (spec.md §4.7): rem = dividend - quotient*divisor.
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		op := MSDiv
		if inst.Op == ir.OpURem {
			op = MUDiv
		}
		s.emit(MInst{Op: op, Dst: RegOp(X11), Src: RegOp(Acc), Src2: RegOp(Sec), Size: sizeOf(inst.Type)})
		// msub x9, x11, x10, x9: x9 = dividend - quotient*divisor.
		s.emit(MInst{Op: MMSub, Dst: RegOp(Acc), Src: RegOp(X11), Src2: RegOp(Sec), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpICmp:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		s.emit(MInst{Op: MCmp, Dst: RegOp(Acc), Src: RegOp(Sec), Size: sizeOf(inst.Ops[0].Type)})
		cc := ICmpCC(inst.ICmpPred.String())
		s.emit(MInst{Op: MCSet, CC: cc, Dst: RegOp(Acc), Size: 1})
		s.storeDest(inst.Dest, Acc, 1)

	case ir.OpFCmp:
		s.lowerFCmp(inst)

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		s.loadFOperand(inst.Ops[0], FAcc)
		s.loadFOperand(inst.Ops[1], FSec)
		s.emit(MInst{Op: binFPOp[inst.Op], Dst: FRegOp(FAcc), Src: FRegOp(FAcc), Src2: FRegOp(FSec), Size: sizeOf(inst.Type)})
		s.storeFDest(inst.Dest, FAcc, sizeOf(inst.Type))
	case ir.OpFNeg:
		s.loadFOperand(inst.Ops[0], FAcc)
		s.emit(MInst{Op: MFNeg, Dst: FRegOp(FAcc), Src: FRegOp(FAcc), Size: sizeOf(inst.Type)})
		s.storeFDest(inst.Dest, FAcc, sizeOf(inst.Type))

	case ir.OpSIToFP, ir.OpUIToFP:
		s.loadOperand(inst.Ops[0], Acc)
		op := MScvtf
		if inst.Op == ir.OpUIToFP {
			op = MUcvtf
		}
		s.emit(MInst{Op: op, Dst: FRegOp(FAcc), Src: RegOp(Acc), Size: sizeOf(inst.Type)})
		s.storeFDest(inst.Dest, FAcc, sizeOf(inst.Type))
	case ir.OpFPToSI, ir.OpFPToUI:
		s.loadFOperand(inst.Ops[0], FAcc)
		op := MFcvtzs
		if inst.Op == ir.OpFPToUI {
			op = MFcvtzu
		}
		s.emit(MInst{Op: op, Dst: RegOp(Acc), Src: FRegOp(FAcc), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))
	case ir.OpFPExt, ir.OpFPTrunc:
		s.loadFOperand(inst.Ops[0], FAcc)
		s.emit(MInst{Op: MFcvt, Dst: FRegOp(FAcc), Src: FRegOp(FAcc), Size: sizeOf(inst.Type)})
		s.storeFDest(inst.Dest, FAcc, sizeOf(inst.Type))

	case ir.OpSExt, ir.OpZExt:
		s.loadOperand(inst.Ops[0], Acc)
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))
	case ir.OpTrunc, ir.OpBitcast, ir.OpPtrToInt, ir.OpIntToPtr:
		s.loadOperand(inst.Ops[0], Acc)
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpAlloca:
		s.lowerAlloca(inst)

	case ir.OpLoad:
		s.loadOperand(inst.Ops[0], Acc)
		if isFloat(inst.Type) {
			s.emit(MInst{Op: MLdr, Dst: FRegOp(FAcc), Src: MemOp(Acc, 0), Size: sizeOf(inst.Type)})
			s.storeFDest(inst.Dest, FAcc, sizeOf(inst.Type))
		} else {
			s.emit(MInst{Op: MLdr, Dst: RegOp(Acc), Src: MemOp(Acc, 0), Size: sizeOf(inst.Type)})
			s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))
		}
	case ir.OpStore:
		if isFloat(inst.Ops[0].Type) {
			s.loadFOperand(inst.Ops[0], FSec)
			s.loadOperand(inst.Ops[1], Acc)
			s.emit(MInst{Op: MStr, Dst: MemOp(Acc, 0), Src: FRegOp(FSec), Size: sizeOf(inst.Ops[0].Type)})
		} else {
			s.loadOperand(inst.Ops[0], Sec)
			s.loadOperand(inst.Ops[1], Acc)
			s.emit(MInst{Op: MStr, Dst: MemOp(Acc, 0), Src: RegOp(Sec), Size: sizeOf(inst.Ops[0].Type)})
		}

	case ir.OpGEP:
		s.lowerGEP(inst)

	case ir.OpCall:
		s.lowerCall(inst)

	case ir.OpSelect:
		s.loadOperand(inst.Ops[0], X11)
		s.loadOperand(inst.Ops[2], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		s.emit(MInst{Op: MTst, Dst: RegOp(X11), Src: RegOp(X11), Size: 1})
		s.emit(MInst{Op: MCSel, CC: CCNE, Dst: RegOp(Acc), Src: RegOp(Sec), Src2: RegOp(Acc), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpPhi:
		// Written exclusively by predecessor phi-copies.

	case ir.OpExtractValue, ir.OpInsertValue:
		s.fail("aggregate extractvalue/insertvalue not supported by the stack-slot ISel")

	default:
		s.fail("unhandled opcode %s", inst.Op)
	}
}

func (s *selector) emitPhiCopy(pc ir.PhiCopy) {
	if isFloat(pc.Src.Type) {
		s.loadFOperand(pc.Src, FAcc)
		s.storeFDest(pc.Dest, FAcc, 8)
		return
	}
	s.loadOperand(pc.Src, Acc)
	s.storeDest(pc.Dest, Acc, 8)
}

func (s *selector) lowerFCmp(inst *ir.Inst) {
	s.loadFOperand(inst.Ops[0], FAcc)
	s.loadFOperand(inst.Ops[1], FSec)
	s.emit(MInst{Op: MFCmp, Dst: FRegOp(FAcc), Src: FRegOp(FSec), Size: sizeOf(inst.Ops[0].Type)})
	switch inst.FCmpPred {
	case ir.FCmpONE:
		// ONE (ordered and not-equal) needs two steps: cset on gt,
		// then cset on mi, OR'd together (spec.md §4.7).
		s.emit(MInst{Op: MCSet, CC: CCGT, Dst: RegOp(Acc), Size: 1})
		s.emit(MInst{Op: MCSet, CC: CCMI, Dst: RegOp(Sec), Size: 1})
		s.emit(MInst{Op: MOrr, Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: 1})
	case ir.FCmpUEQ:
		// UEQ (unordered or equal) similarly ORs eq with the unordered
		// (overflow) flag.
		s.emit(MInst{Op: MCSet, CC: CCEQ, Dst: RegOp(Acc), Size: 1})
		s.emit(MInst{Op: MCSet, CC: CCVS, Dst: RegOp(Sec), Size: 1})
		s.emit(MInst{Op: MOrr, Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: 1})
	default:
		s.emit(MInst{Op: MCSet, CC: fcmpCC(inst.FCmpPred), Dst: RegOp(Acc), Size: 1})
	}
	s.storeDest(inst.Dest, Acc, 1)
}

func fcmpCC(p ir.FCmpPred) CC {
	switch p {
	case ir.FCmpOEQ, ir.FCmpUEQ:
		return CCEQ
	case ir.FCmpOGT, ir.FCmpUGT:
		return CCGT
	case ir.FCmpOGE, ir.FCmpUGE:
		return CCGE
	case ir.FCmpOLT, ir.FCmpULT:
		return CCMI
	case ir.FCmpOLE, ir.FCmpULE:
		return CCLS
	case ir.FCmpTrue:
		return CCAL
	default:
		return CCEQ
	}
}

func (s *selector) lowerAlloca(inst *ir.Inst) {
	elemSize := inst.Type.Size()
	if len(inst.Ops) == 0 {
		disp := s.alloc.ReserveExtra(uint32(elemSize))
		s.loadImm64(Sec, int64(disp))
		s.emit(MInst{Op: MAdd, Dst: RegOp(Acc), Src: RegOp(X29), Src2: RegOp(Sec), Size: 8})
		s.storeDest(inst.Dest, Acc, 8)
		return
	}
	s.loadOperand(inst.Ops[0], Acc)
	s.loadImm64(Sec, int64(elemSize))
	s.emit(MInst{Op: MMul, Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: 8})
	s.loadImm64(Sec, 15)
	s.emit(MInst{Op: MAdd, Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: 8})
	s.loadImm64(Sec, ^int64(15))
	s.emit(MInst{Op: MAnd, Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: 8})
	s.emit(MInst{Op: MSubSP, Src: RegOp(Acc), Size: 8})
	s.emit(MInst{Op: MMov, Dst: RegOp(Acc), Src: RegOp(SP), Size: 8})
	s.storeDest(inst.Dest, Acc, 8)
}

func (s *selector) lowerGEP(inst *ir.Inst) {
	s.loadOperand(inst.Ops[0], Acc)
	cur := inst.Type
	for i, idx := range inst.Ops[1:] {
		stepType := cur
		if i == 0 {
			stepType = inst.Type
		}
		switch {
		case idx.Kind == ir.ValImmI64:
			var stride int64
			if i == 0 {
				stride = int64(stepType.Size())
			} else if cur != nil && cur.Kind == ir.KindStruct {
				stride = int64(cur.FieldOffset(uint32(idx.ImmI64)))
				if int(idx.ImmI64) < len(cur.Fields) {
					cur = cur.Fields[idx.ImmI64]
				}
			} else if cur != nil && cur.Kind == ir.KindArray {
				stride = idx.ImmI64 * int64(cur.Elem.Size())
				cur = cur.Elem
			}
			if stride != 0 {
				s.loadImm64(Sec, stride)
				s.emit(MInst{Op: MAdd, Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(Sec), Size: 8})
			}
		default:
			s.loadOperand(idx, X11)
			var elemSize int64 = 1
			if i == 0 {
				elemSize = int64(stepType.Size())
			} else if cur != nil && cur.Kind == ir.KindArray {
				elemSize = int64(cur.Elem.Size())
				cur = cur.Elem
			}
			s.loadImm64(Sec, elemSize)
			s.emit(MInst{Op: MMul, Dst: RegOp(X11), Src: RegOp(X11), Src2: RegOp(Sec), Size: 8})
			s.emit(MInst{Op: MAdd, Dst: RegOp(Acc), Src: RegOp(Acc), Src2: RegOp(X11), Size: 8})
		}
	}
	s.storeDest(inst.Dest, Acc, 8)
}

// lowerCall marshals integer args into x0-x7 and FP args into d0-d7
// independently (AAPCS64 keeps separate integer/FP counters). Arguments
// beyond the eighth of either kind are not passed: nothing is written
// to the stack for them.
func (s *selector) lowerCall(inst *ir.Inst) {
	callee := inst.Ops[0]
	args := inst.Ops[1:]

	intIdx, fpIdx := 0, 0
	for _, a := range args {
		if isFloat(a.Type) {
			if fpIdx < len(FArgRegs) {
				s.loadFOperand(a, FArgRegs[fpIdx])
			}
			fpIdx++
		} else {
			if intIdx < len(ArgRegs) {
				s.loadOperand(a, ArgRegs[intIdx])
			}
			intIdx++
		}
	}
	s.loadOperand(callee, X11)
	s.emit(MInst{Op: MBLR, Src: RegOp(X11)})
	if inst.Dest != ir.VRegNone {
		if isFloat(inst.Type) {
			s.storeFDest(inst.Dest, D0, sizeOf(inst.Type))
		} else {
			s.storeDest(inst.Dest, X0, sizeOf(inst.Type))
		}
	}
}
