package finalize

import "github.com/krystophny/liric/internal/ir"

// applyPeepholes runs the four purely-local rewrite passes documented
// in spec.md §4.3 over every block of f, then removes now-unused
// instructions function-wide.
func applyPeepholes(f *ir.Function, blocks []*ir.Block) {
	subst := make(map[ir.VRegID]ir.Operand)

	for _, b := range blocks {
		foldAndEliminate(b, subst)
	}
	if len(subst) > 0 {
		substituteAll(blocks, subst)
	}

	for _, b := range blocks {
		eliminateRedundantLoads(b)
	}

	removeDeadInstructions(blocks)
}

// foldAndEliminate rewrites b's dense array in place: constant
// folding, identity elimination, and constant-condition branch
// simplification. Eliminated instructions record a substitution in
// subst so later uses of their dest (in this block or any other) are
// rewritten to the kept operand.
func foldAndEliminate(b *ir.Block, subst map[ir.VRegID]ir.Operand) {
	n := b.NumInsts()
	kept := make([]*ir.Inst, 0, n)
	for i := 0; i < n; i++ {
		inst := b.InstAt(i)
		resolveInstOperands(inst, subst)

		if val, ok := foldConstant(inst); ok {
			subst[inst.Dest] = val
			continue
		}
		if val, ok := identityValue(inst); ok {
			subst[inst.Dest] = val
			continue
		}
		if repl, ok := simplifyBranch(inst); ok {
			kept = append(kept, repl)
			continue
		}
		kept = append(kept, inst)
	}
	b.SetDense(kept)
}

// resolveInstOperands rewrites inst's operands in place through subst,
// following substitution chains.
func resolveInstOperands(inst *ir.Inst, subst map[ir.VRegID]ir.Operand) {
	for i, op := range inst.Ops {
		inst.Ops[i] = resolveOperand(op, subst)
	}
}

func resolveOperand(op ir.Operand, subst map[ir.VRegID]ir.Operand) ir.Operand {
	for op.Kind == ir.ValVReg {
		repl, ok := subst[op.VReg]
		if !ok {
			break
		}
		op = repl
	}
	return op
}

// substituteAll re-resolves every remaining instruction's operands
// against the final subst map, catching uses that were visited (via
// foldAndEliminate's forward per-block sweep) before their def's
// substitution was recorded — e.g. a loop back-edge phi source.
func substituteAll(blocks []*ir.Block, subst map[ir.VRegID]ir.Operand) {
	for _, b := range blocks {
		for i := 0; i < b.NumInsts(); i++ {
			resolveInstOperands(b.InstAt(i), subst)
		}
		for i, c := range b.PhiCopies {
			b.PhiCopies[i].Src = resolveOperand(c.Src, subst)
		}
	}
}

func maskForWidth(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func signExtend(v uint64, bits uint) int64 {
	mask := maskForWidth(bits)
	v &= mask
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= ^mask
	}
	return int64(v)
}

// foldConstant implements "binary arithmetic on two imm_i64 folds to a
// single imm_i64" (spec.md §4.3), using integer semantics only — FP
// ops are never folded. Division/remainder by zero is left unfolded
// (div-by-zero stays target-native per the module's resolved
// behavior, SPEC_FULL.md §9).
func foldConstant(inst *ir.Inst) (ir.Operand, bool) {
	if len(inst.Ops) != 2 || inst.Ops[0].Kind != ir.ValImmI64 || inst.Ops[1].Kind != ir.ValImmI64 {
		return ir.Operand{}, false
	}
	a, b := inst.Ops[0].ImmI64, inst.Ops[1].ImmI64
	bits := uint(inst.Type.Size() * 8)
	mask := maskForWidth(bits)

	var signed int64
	var unsignedResult uint64
	useUnsigned := false

	switch inst.Op {
	case ir.OpAdd:
		signed = a + b
	case ir.OpSub:
		signed = a - b
	case ir.OpMul:
		signed = a * b
	case ir.OpSDiv:
		if b == 0 {
			return ir.Operand{}, false
		}
		signed = a / b
	case ir.OpSRem:
		if b == 0 {
			return ir.Operand{}, false
		}
		signed = a % b
	case ir.OpUDiv:
		ub := uint64(b) & mask
		if ub == 0 {
			return ir.Operand{}, false
		}
		useUnsigned = true
		unsignedResult = (uint64(a) & mask) / ub
	case ir.OpURem:
		ub := uint64(b) & mask
		if ub == 0 {
			return ir.Operand{}, false
		}
		useUnsigned = true
		unsignedResult = (uint64(a) & mask) % ub
	case ir.OpAnd:
		signed = a & b
	case ir.OpOr:
		signed = a | b
	case ir.OpXor:
		signed = a ^ b
	case ir.OpShl:
		if b < 0 || uint64(b) >= uint64(bits) {
			return ir.Operand{}, false
		}
		signed = int64(uint64(a) << uint(b))
	case ir.OpLShr:
		if b < 0 || uint64(b) >= uint64(bits) {
			return ir.Operand{}, false
		}
		useUnsigned = true
		unsignedResult = (uint64(a) & mask) >> uint(b)
	case ir.OpAShr:
		if b < 0 || uint64(b) >= uint64(bits) {
			return ir.Operand{}, false
		}
		signed = signExtend(uint64(a), bits) >> uint(b)
	default:
		return ir.Operand{}, false
	}

	var result int64
	if useUnsigned {
		result = int64(unsignedResult & mask)
	} else {
		result = signExtend(uint64(signed), bits)
	}
	return ir.OpImmI64(result, inst.Type), true
}

// identityValue implements the documented identity laws. Add/And/Or/
// Xor/Mul are checked on either operand order (they are commutative);
// Sub/Shl/LShr/AShr only on the right, matching spec.md §4.3's literal
// "x - 0", "x << 0", "x >> 0" forms.
func identityValue(inst *ir.Inst) (ir.Operand, bool) {
	if len(inst.Ops) != 2 {
		return ir.Operand{}, false
	}
	lhs, rhs := inst.Ops[0], inst.Ops[1]

	isImm := func(op ir.Operand, v int64) bool {
		return op.Kind == ir.ValImmI64 && op.ImmI64 == v
	}

	switch inst.Op {
	case ir.OpAdd, ir.OpXor, ir.OpOr:
		if isImm(rhs, 0) {
			return lhs, true
		}
		if isImm(lhs, 0) {
			return rhs, true
		}
	case ir.OpMul:
		if isImm(rhs, 1) {
			return lhs, true
		}
		if isImm(lhs, 1) {
			return rhs, true
		}
	case ir.OpAnd:
		if isImm(rhs, -1) {
			return lhs, true
		}
		if isImm(lhs, -1) {
			return rhs, true
		}
	case ir.OpSub:
		if isImm(rhs, 0) {
			return lhs, true
		}
	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		if isImm(rhs, 0) {
			return lhs, true
		}
	}
	return ir.Operand{}, false
}

// simplifyBranch implements "condbr imm, T, F -> br T (or br F)"
// (spec.md §4.3). Dead successor edges are left in the CFG.
func simplifyBranch(inst *ir.Inst) (*ir.Inst, bool) {
	if inst.Op != ir.OpCondBr || inst.Ops[0].Kind != ir.ValImmI64 {
		return nil, false
	}
	target := inst.Ops[2]
	if inst.Ops[0].ImmI64 != 0 {
		target = inst.Ops[1]
	}
	return &ir.Inst{Op: ir.OpBr, Type: inst.Type, Ops: []ir.Operand{target}}, true
}

// eliminateRedundantLoads implements "a load from an address that
// matches a prior load or a prior store (same pointer vreg) is
// replaced by reuse of the prior value" (spec.md §4.3), scoped to a
// single block. A subsequent store/call/memory-writing instruction
// flushes the cache.
func eliminateRedundantLoads(b *ir.Block) {
	n := b.NumInsts()
	kept := make([]*ir.Inst, 0, n)
	cache := make(map[ir.VRegID]ir.Operand) // pointer vreg -> known value operand
	subst := make(map[ir.VRegID]ir.Operand)

	ptrKey := func(op ir.Operand) (ir.VRegID, bool) {
		if op.Kind != ir.ValVReg {
			return 0, false
		}
		return op.VReg, true
	}

	for i := 0; i < n; i++ {
		inst := b.InstAt(i)
		resolveInstOperands(inst, subst)

		switch inst.Op {
		case ir.OpLoad:
			if key, ok := ptrKey(inst.Ops[0]); ok {
				if val, hit := cache[key]; hit {
					subst[inst.Dest] = val
					continue
				}
				cache[key] = ir.OpVReg(inst.Dest, inst.Type)
			}
		case ir.OpStore:
			if key, ok := ptrKey(inst.Ops[1]); ok {
				cache[key] = inst.Ops[0]
			}
		case ir.OpCall:
			cache = make(map[ir.VRegID]ir.Operand)
		}
		kept = append(kept, inst)
	}
	if len(subst) > 0 {
		for _, inst := range kept {
			resolveInstOperands(inst, subst)
		}
	}
	b.SetDense(kept)
}

// removeDeadInstructions drops any non-side-effecting instruction
// whose dest is unused function-wide (spec.md §4.3). store, call, all
// terminators, and alloca are never removed — alloca stays live
// regardless of whether its only uses are later eliminated, per this
// module's resolved treatment of pointer-escaping allocas
// (SPEC_FULL.md §9).
func removeDeadInstructions(blocks []*ir.Block) {
	used := make(map[ir.VRegID]bool)
	mark := func(op ir.Operand) {
		if op.Kind == ir.ValVReg {
			used[op.VReg] = true
		}
	}
	for _, b := range blocks {
		for i := 0; i < b.NumInsts(); i++ {
			inst := b.InstAt(i)
			for _, op := range inst.Ops {
				mark(op)
			}
		}
		for _, c := range b.PhiCopies {
			mark(c.Src)
		}
	}

	for _, b := range blocks {
		n := b.NumInsts()
		kept := make([]*ir.Inst, 0, n)
		for i := 0; i < n; i++ {
			inst := b.InstAt(i)
			if inst.Op.HasSideEffects() {
				kept = append(kept, inst)
				continue
			}
			if inst.HasDest() && !used[inst.Dest] {
				continue
			}
			kept = append(kept, inst)
		}
		b.SetDense(kept)
	}
}
