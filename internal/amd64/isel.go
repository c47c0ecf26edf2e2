package amd64

import (
	"fmt"
	"math"

	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/ir"
)

// Select lowers fn into an x86_64 MFunc following the stack-slot
// discipline shared by every backend (spec.md §4.5/§4.6): every vreg
// gets a unique frame-relative slot, computation flows through rax
// (accumulator) and rcx (secondary), and floating point is routed
// through helper-table trampolines called via r10.
func Select(fn *ir.Function, mod *ir.Module, helpers *HelperTable) (*MFunc, error) {
	if fn.IsDecl {
		return nil, fmt.Errorf("amd64: cannot select a declaration-only function %q", fn.Name)
	}

	s := &selector{
		fn:      fn,
		mod:     mod,
		helpers: helpers,
		alloc:   codegen.NewStackAllocator(),
		mf:      &MFunc{Name: fn.Name, IRFunc: fn},
	}

	// Pre-assign parameter slots so the prologue store order matches
	// declaration order regardless of use order in the body.
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
	fn      *ir.Function
	mod     *ir.Module
	helpers *HelperTable
	alloc   *codegen.StackAllocator
	mf      *MFunc
	mb      *MBlock
	err     error
}

func (s *selector) emit(i MInst) { s.mb.Insts = append(s.mb.Insts, i) }

func (s *selector) fail(format string, args ...any) {
	if s.err == nil {
		s.err = fmt.Errorf("amd64 isel (%s): "+format, append([]any{s.fn.Name}, args...)...)
	}
}

// sizeOf returns the in-register operand width for t: 8 for 64-bit
// integers, pointers and double; 4 for i32/float; 2 for i16; 1 for
// i1/i8. Every vreg still owns a full 8-byte slot (internal/codegen).
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

// fpImmBits returns the raw bit pattern an FP immediate occupies in its
// slot: the float32 encoding for float, the float64 encoding otherwise.
func fpImmBits(op ir.Operand) int64 {
	if op.Type != nil && op.Type.Kind == ir.KindFloat {
		return int64(math.Float32bits(float32(op.ImmF64)))
	}
	return int64(math.Float64bits(op.ImmF64))
}

// loadOperand emits whatever is necessary to get op's value into reg.
func (s *selector) loadOperand(op ir.Operand, reg Reg) {
	switch op.Kind {
	case ir.ValVReg:
		disp := s.alloc.Slot(op.VReg)
		s.emit(MInst{Op: MMov, Dst: RegOp(reg), Src: MemOp(RBP, disp), Size: sizeOf(op.Type)})
	case ir.ValImmI64:
		s.emit(MInst{Op: MMovImm, Dst: RegOp(reg), Src: ImmOp(op.ImmI64), Size: 8})
	case ir.ValImmF64:
		s.emit(MInst{Op: MMovImm, Dst: RegOp(reg), Src: ImmOp(fpImmBits(op)), Size: 8})
	case ir.ValNull, ir.ValUndef:
		s.emit(MInst{Op: MMovImm, Dst: RegOp(reg), Src: ImmOp(0), Size: 8})
	case ir.ValGlobal:
		// Resolved to an imm_i64 host address by internal/jit before
		// ISel runs (spec.md §4.10 step 1); reaching ISel still
		// carrying a ValGlobal means direct object-file emission,
		// where the address is unknown until link time. Emit a
		// zero placeholder; no relocation is recorded for it.
		s.emit(MInst{Op: MMovImm, Dst: RegOp(reg), Src: ImmOp(0), Size: 8})
	default:
		s.fail("unhandled operand kind %d", op.Kind)
	}
}

func (s *selector) storeDest(dest ir.VRegID, reg Reg, size uint8) {
	if dest == ir.VRegNone {
		return
	}
	disp := s.alloc.Slot(dest)
	s.emit(MInst{Op: MMov, Dst: MemOp(RBP, disp), Src: RegOp(reg), Size: size})
}

var binIntOp = map[ir.Opcode]MOp{
	ir.OpAdd: MAdd, ir.OpSub: MSub, ir.OpMul: MIMul,
	ir.OpAnd: MAnd, ir.OpOr: MOr, ir.OpXor: MXor,
	ir.OpShl: MSal, ir.OpLShr: MShr, ir.OpAShr: MSar,
}

func (s *selector) lower(inst *ir.Inst) {
	switch inst.Op {
	case ir.OpRetVoid:
		s.emit(MInst{Op: MLeave})
		s.emit(MInst{Op: MRet})
	case ir.OpRet:
		s.loadOperand(inst.Ops[0], RAX)
		s.emit(MInst{Op: MLeave})
		s.emit(MInst{Op: MRet})
	case ir.OpUnreachable:
		// No native trap opcode modeled; matches the original's
		// treatment of unreachable as a no-op terminator marker.

	case ir.OpBr:
		s.emit(MInst{Op: MJmp, Dst: LabelOp(uint32(inst.Ops[0].Block))})
	case ir.OpCondBr:
		s.loadOperand(inst.Ops[0], Acc)
		s.emit(MInst{Op: MTest, Dst: RegOp(Acc), Src: RegOp(Acc), Size: 1})
		s.emit(MInst{Op: MJcc, CC: CCNE, Dst: LabelOp(uint32(inst.Ops[1].Block))})
		s.emit(MInst{Op: MJmp, Dst: LabelOp(uint32(inst.Ops[2].Block))})

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		s.emit(MInst{Op: binIntOp[inst.Op], Dst: RegOp(Acc), Src: RegOp(Sec), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], RCX)
		s.emit(MInst{Op: binIntOp[inst.Op], Dst: RegOp(Acc), Src: RegOp(RCX), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpSDiv, ir.OpSRem:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		if sizeOf(inst.Type) == 8 {
			s.emit(MInst{Op: MCqo})
		} else {
			s.emit(MInst{Op: MCdq})
		}
		s.emit(MInst{Op: MIDiv, Src: RegOp(Sec), Size: sizeOf(inst.Type)})
		if inst.Op == ir.OpSDiv {
			s.storeDest(inst.Dest, RAX, sizeOf(inst.Type))
		} else {
			s.storeDest(inst.Dest, RDX, sizeOf(inst.Type))
		}

	case ir.OpUDiv, ir.OpURem:
		// Unsigned division uses the same idiv-family encoding with
		// the dividend's high half cleared (xor edx,edx) instead of
		// sign-extended via cdq/cqo — the distinct opcode introduced
		// per SPEC_FULL.md §3 carries through to a distinct lowering.
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		s.emit(MInst{Op: MXor, Dst: RegOp(RDX), Src: RegOp(RDX), Size: sizeOf(inst.Type)})
		s.emit(MInst{Op: MIDiv, Src: RegOp(Sec), Size: sizeOf(inst.Type)})
		if inst.Op == ir.OpUDiv {
			s.storeDest(inst.Dest, RAX, sizeOf(inst.Type))
		} else {
			s.storeDest(inst.Dest, RDX, sizeOf(inst.Type))
		}

	case ir.OpICmp:
		s.loadOperand(inst.Ops[0], Acc)
		s.loadOperand(inst.Ops[1], Sec)
		s.emit(MInst{Op: MCmp, Dst: RegOp(Acc), Src: RegOp(Sec), Size: sizeOf(inst.Ops[0].Type)})
		cc := ICmpCC(inst.ICmpPred.String())
		s.emit(MInst{Op: MSetcc, CC: cc, Dst: RegOp(Acc), Size: 1})
		s.emit(MInst{Op: MMovzx, Dst: RegOp(Acc), Src: RegOp(Acc), Size: 1})
		s.storeDest(inst.Dest, Acc, 1)

	case ir.OpFCmp:
		// The fcmp trampolines take the predicate code in rdx
		// (trampolines.go numbers them); ordered and unordered forms
		// share a code, as in the arm64 backend's fcmpCC.
		code, ok := map[ir.FCmpPred]int64{ir.FCmpOEQ: 0, ir.FCmpUEQ: 0, ir.FCmpONE: 1, ir.FCmpUNE: 1,
			ir.FCmpOGT: 2, ir.FCmpUGT: 2, ir.FCmpOGE: 3, ir.FCmpUGE: 3, ir.FCmpOLT: 4, ir.FCmpULT: 4,
			ir.FCmpOLE: 5, ir.FCmpULE: 5, ir.FCmpUNO: 6}[inst.FCmpPred]
		if !ok {
			s.fail("fcmp predicate %s has no helper code", inst.FCmpPred)
		}
		s.loadOperand(inst.Ops[0], RDI)
		s.loadOperand(inst.Ops[1], RSI)
		s.emit(MInst{Op: MMovImm, Dst: RegOp(RDX), Src: ImmOp(code), Size: 8})
		s.callHelper(fcmpHelperFor(inst.Ops[0].Type))
		s.storeDest(inst.Dest, RAX, 1)

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		s.lowerFPHelperCall(inst, arithHelperFor(inst.Op, inst.Type))
	case ir.OpFNeg:
		s.lowerFPUnaryHelperCall(inst, negHelperFor(inst.Type))

	case ir.OpSIToFP, ir.OpUIToFP, ir.OpFPToSI, ir.OpFPToUI, ir.OpFPExt, ir.OpFPTrunc:
		s.lowerFPUnaryHelperCall(inst, castHelperFor(inst.Op, inst.Type))

	case ir.OpSExt:
		s.loadOperand(inst.Ops[0], Acc)
		s.emit(MInst{Op: MMovsx, Dst: RegOp(Acc), Src: RegOp(Acc), Size: sizeOf(inst.Ops[0].Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))
	case ir.OpZExt:
		s.loadOperand(inst.Ops[0], Acc)
		s.emit(MInst{Op: MMovzx, Dst: RegOp(Acc), Src: RegOp(Acc), Size: sizeOf(inst.Ops[0].Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))
	case ir.OpTrunc, ir.OpBitcast, ir.OpPtrToInt, ir.OpIntToPtr:
		s.loadOperand(inst.Ops[0], Acc)
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpAlloca:
		s.lowerAlloca(inst)

	case ir.OpLoad:
		s.loadOperand(inst.Ops[0], Acc)
		s.emit(MInst{Op: MMov, Dst: RegOp(Acc), Src: MemOp(Acc, 0), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))
	case ir.OpStore:
		s.loadOperand(inst.Ops[0], Sec)
		s.loadOperand(inst.Ops[1], Acc)
		s.emit(MInst{Op: MMov, Dst: MemOp(Acc, 0), Src: RegOp(Sec), Size: sizeOf(inst.Ops[0].Type)})

	case ir.OpGEP:
		s.lowerGEP(inst)

	case ir.OpCall:
		s.lowerCall(inst)

	case ir.OpSelect:
		s.loadOperand(inst.Ops[0], RCX)
		s.loadOperand(inst.Ops[2], Acc) // false value, the fallback default
		s.loadOperand(inst.Ops[1], Sec) // true value
		s.emit(MInst{Op: MTest, Dst: RegOp(RCX), Src: RegOp(RCX), Size: 1})
		s.emit(MInst{Op: MCmovcc, CC: CCNE, Dst: RegOp(Acc), Src: RegOp(Sec), Size: sizeOf(inst.Type)})
		s.storeDest(inst.Dest, Acc, sizeOf(inst.Type))

	case ir.OpPhi:
		// Phi destinations are written exclusively by predecessor
		// phi-copies (spec.md §4.4); the phi instruction itself emits
		// nothing.

	case ir.OpExtractValue, ir.OpInsertValue:
		s.fail("aggregate extractvalue/insertvalue not supported by the stack-slot ISel; aggregates wider than a register require the collaborator lowering described in spec.md's Non-goals")

	default:
		s.fail("unhandled opcode %s", inst.Op)
	}
}

func (s *selector) emitPhiCopy(pc ir.PhiCopy) {
	s.loadOperand(pc.Src, Acc)
	s.storeDest(pc.Dest, Acc, 8)
}

func (s *selector) lowerAlloca(inst *ir.Inst) {
	elemSize := inst.Type.Size()
	if len(inst.Ops) == 0 {
		// Static alloca: carve space out of the frame, dest gets
		// lea rbp, +disp (spec.md §4.5).
		disp := s.alloc.ReserveExtra(uint32(elemSize))
		s.emit(MInst{Op: MLea, Dst: RegOp(Acc), Src: MemOp(RBP, disp), Size: 8})
		s.storeDest(inst.Dest, Acc, 8)
		return
	}
	// Dynamic alloca: aligned = round_up(count*elemSize, 16); sub rsp,
	// aligned; dest = current rsp.
	s.loadOperand(inst.Ops[0], Acc)
	s.emit(MInst{Op: MMovImm, Dst: RegOp(Sec), Src: ImmOp(int64(elemSize)), Size: 8})
	s.emit(MInst{Op: MIMul, Dst: RegOp(Acc), Src: RegOp(Sec), Size: 8})
	s.emit(MInst{Op: MMovImm, Dst: RegOp(Sec), Src: ImmOp(15), Size: 8})
	s.emit(MInst{Op: MAdd, Dst: RegOp(Acc), Src: RegOp(Sec), Size: 8})
	s.emit(MInst{Op: MMovImm, Dst: RegOp(Sec), Src: ImmOp(^int64(15)), Size: 8})
	s.emit(MInst{Op: MAnd, Dst: RegOp(Acc), Src: RegOp(Sec), Size: 8})
	s.emit(MInst{Op: MSubRSP, Src: RegOp(Acc), Size: 8})
	s.emit(MInst{Op: MMov, Dst: RegOp(Acc), Src: RegOp(RSP), Size: 8})
	s.storeDest(inst.Dest, Acc, 8)
}

// lowerGEP walks the index sequence accumulating a pointer in Acc
// (spec.md §4.5): first index strides by pointee size; later indices
// descend into structs (constant field offset) or arrays (element
// stride), matching internal/ir/gep.go's AnalyzeGEPStep discipline.
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
				s.emit(MInst{Op: MMovImm, Dst: RegOp(Sec), Src: ImmOp(stride), Size: 8})
				s.emit(MInst{Op: MAdd, Dst: RegOp(Acc), Src: RegOp(Sec), Size: 8})
			}
		default:
			s.loadOperand(idx, RCX)
			var elemSize int64 = 1
			if i == 0 {
				elemSize = int64(stepType.Size())
			} else if cur != nil && cur.Kind == ir.KindArray {
				elemSize = int64(cur.Elem.Size())
				cur = cur.Elem
			}
			s.emit(MInst{Op: MMovImm, Dst: RegOp(Sec), Src: ImmOp(elemSize), Size: 8})
			s.emit(MInst{Op: MIMul, Dst: RegOp(RCX), Src: RegOp(Sec), Size: 8})
			s.emit(MInst{Op: MAdd, Dst: RegOp(Acc), Src: RegOp(RCX), Size: 8})
		}
	}
	s.storeDest(inst.Dest, Acc, 8)
}

// lowerCall marshals arguments into their ABI slots, loads the callee
// address into an indirect-call register, and stores the return value
// (spec.md §4.5). Stack-passed arguments (beyond len(ArgRegs)) spill
// to [rsp+8*i] after a 16-byte-aligned spill area is reserved.
func (s *selector) lowerCall(inst *ir.Inst) {
	callee := inst.Ops[0]
	args := inst.Ops[1:]

	stackArgs := len(args) - len(ArgRegs)
	if stackArgs > 0 {
		spill := alignUp(uint32(stackArgs)*8, 16)
		s.emit(MInst{Op: MSubRSP, Src: ImmOp(int64(spill)), Size: 8})
		for i := len(ArgRegs); i < len(args); i++ {
			s.loadOperand(args[i], Sec)
			s.emit(MInst{Op: MMov, Dst: MemOp(RSP, int32((i-len(ArgRegs))*8)), Src: RegOp(Sec), Size: 8})
		}
	}
	for i := 0; i < len(args) && i < len(ArgRegs); i++ {
		s.loadOperand(args[i], ArgRegs[i])
	}
	s.loadOperand(callee, R10)
	s.emit(MInst{Op: MCall, Src: RegOp(R10)})
	if stackArgs > 0 {
		spill := alignUp(uint32(stackArgs)*8, 16)
		s.emit(MInst{Op: MAddRSP, Src: ImmOp(int64(spill)), Size: 8})
	}
	if inst.Dest != ir.VRegNone {
		s.storeDest(inst.Dest, RAX, sizeOf(inst.Type))
	}
}

func alignUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// lowerFPHelperCall implements a two-operand FP opcode by loading both
// bit-pattern operands into rdi/rsi, the helper address into r10, and
// calling through it (spec.md §4.6).
func (s *selector) lowerFPHelperCall(inst *ir.Inst, helper HelperID) {
	s.loadOperand(inst.Ops[0], RDI)
	s.loadOperand(inst.Ops[1], RSI)
	s.callHelper(helper)
	s.storeDest(inst.Dest, RAX, sizeOf(inst.Type))
}

func (s *selector) lowerFPUnaryHelperCall(inst *ir.Inst, helper HelperID) {
	s.loadOperand(inst.Ops[0], RDI)
	s.callHelper(helper)
	s.storeDest(inst.Dest, RAX, sizeOf(inst.Type))
}

func (s *selector) callHelper(id HelperID) {
	addr, ok := s.helpers.Addr(id)
	if !ok {
		s.fail("FP helper %s not bound in HelperTable", id)
	}
	s.emit(MInst{Op: MMovImm, Dst: RegOp(R10), Src: ImmOp(int64(addr)), Size: 8})
	s.emit(MInst{Op: MCall, Src: RegOp(R10)})
}

func arithHelperFor(op ir.Opcode, t *ir.Type) HelperID {
	f32 := t != nil && t.Kind == ir.KindFloat
	switch op {
	case ir.OpFAdd:
		if f32 {
			return HelperFAddF32
		}
		return HelperFAddF64
	case ir.OpFSub:
		if f32 {
			return HelperFSubF32
		}
		return HelperFSubF64
	case ir.OpFMul:
		if f32 {
			return HelperFMulF32
		}
		return HelperFMulF64
	default:
		if f32 {
			return HelperFDivF32
		}
		return HelperFDivF64
	}
}

func negHelperFor(t *ir.Type) HelperID {
	if t != nil && t.Kind == ir.KindFloat {
		return HelperFNegF32
	}
	return HelperFNegF64
}

func fcmpHelperFor(t *ir.Type) HelperID {
	if t != nil && t.Kind == ir.KindFloat {
		return HelperFCmpF32
	}
	return HelperFCmpF64
}

func castHelperFor(op ir.Opcode, t *ir.Type) HelperID {
	f32 := t != nil && t.Kind == ir.KindFloat
	switch op {
	case ir.OpSIToFP:
		if f32 {
			return HelperSIToFPF32
		}
		return HelperSIToFPF64
	case ir.OpUIToFP:
		if f32 {
			return HelperUIToFPF32
		}
		return HelperUIToFPF64
	case ir.OpFPToSI:
		if f32 {
			return HelperFPToSIF32
		}
		return HelperFPToSIF64
	case ir.OpFPToUI:
		if f32 {
			return HelperFPToUIF32
		}
		return HelperFPToUIF64
	case ir.OpFPExt:
		return HelperFPExt
	default:
		return HelperFPTrunc
	}
}
