package session

import "github.com/krystophny/liric/internal/ir"

// Emit is the generic emission primitive every typed helper below
// goes through: it allocates a dest vreg when the opcode produces a
// value, appends the instruction to the current block, and returns
// the dest (ir.VRegNone for opcodes with no result), mirroring
// lr_session_emit's dest-allocation rule.
func (s *Session) Emit(op ir.Opcode, typ *ir.Type, ops []ir.Operand) (ir.VRegID, error) {
	if s.curFunc == nil || s.curBlock == nil {
		return ir.VRegNone, sessionStateErr("no active block")
	}
	dest := ir.VRegNone
	if opcodeHasDest(op, typ) {
		dest = s.curFunc.NewVReg()
	}
	s.curBlock.Append(&ir.Inst{Op: op, Type: typ, Dest: dest, Ops: ops})
	return dest, nil
}

// opcodeHasDest mirrors session.c's opcode_has_dest: every opcode
// produces a vreg result except the terminators, store, and a void
// call.
func opcodeHasDest(op ir.Opcode, typ *ir.Type) bool {
	switch op {
	case ir.OpRet, ir.OpRetVoid, ir.OpBr, ir.OpCondBr, ir.OpUnreachable, ir.OpStore:
		return false
	case ir.OpCall:
		return typ != nil && typ.Kind != ir.KindVoid
	default:
		return true
	}
}

// EmitRet appends a ret of v.
func (s *Session) EmitRet(v ir.Operand, typ *ir.Type) error {
	_, err := s.Emit(ir.OpRet, typ, []ir.Operand{v})
	return err
}

// EmitRetVoid appends a void ret.
func (s *Session) EmitRetVoid() error {
	_, err := s.Emit(ir.OpRetVoid, nil, nil)
	return err
}

// EmitBr appends an unconditional branch to target.
func (s *Session) EmitBr(target ir.BlockID) error {
	_, err := s.Emit(ir.OpBr, nil, []ir.Operand{ir.OpBlock(target)})
	return err
}

// EmitCondBr appends a conditional branch on cond.
func (s *Session) EmitCondBr(cond ir.Operand, then, els ir.BlockID) error {
	_, err := s.Emit(ir.OpCondBr, nil, []ir.Operand{cond, ir.OpBlock(then), ir.OpBlock(els)})
	return err
}

// EmitBinOp appends a binary arithmetic/logical instruction and
// returns its dest vreg.
func (s *Session) EmitBinOp(op ir.Opcode, typ *ir.Type, lhs, rhs ir.Operand) (ir.VRegID, error) {
	return s.Emit(op, typ, []ir.Operand{lhs, rhs})
}

// EmitICmp appends an integer comparison; the dest is always i1.
func (s *Session) EmitICmp(pred ir.ICmpPred, lhs, rhs ir.Operand) (ir.VRegID, error) {
	dest, err := s.Emit(ir.OpICmp, s.mod.TypeI1, []ir.Operand{lhs, rhs})
	if err != nil {
		return ir.VRegNone, err
	}
	s.curBlock.Last().ICmpPred = pred
	return dest, nil
}

// EmitFCmp appends a floating-point comparison; the dest is always i1.
func (s *Session) EmitFCmp(pred ir.FCmpPred, lhs, rhs ir.Operand) (ir.VRegID, error) {
	dest, err := s.Emit(ir.OpFCmp, s.mod.TypeI1, []ir.Operand{lhs, rhs})
	if err != nil {
		return ir.VRegNone, err
	}
	s.curBlock.Last().FCmpPred = pred
	return dest, nil
}

// EmitCall appends a call to callee with args, returning the dest
// vreg (ir.VRegNone if retType is void).
func (s *Session) EmitCall(callee ir.Operand, retType *ir.Type, args []ir.Operand, externalABI, vararg bool) (ir.VRegID, error) {
	ops := make([]ir.Operand, 0, len(args)+1)
	ops = append(ops, callee)
	ops = append(ops, args...)
	if s.curFunc == nil || s.curBlock == nil {
		return ir.VRegNone, sessionStateErr("no active block")
	}
	dest := ir.VRegNone
	if retType != nil && retType.Kind != ir.KindVoid {
		dest = s.curFunc.NewVReg()
	}
	s.curBlock.Append(&ir.Inst{
		Op: ir.OpCall, Type: retType, Dest: dest, Ops: ops,
		CallExternalABI: externalABI, CallVararg: vararg,
	})
	return dest, nil
}
