package finalize

import "github.com/krystophny/liric/internal/ir"

// lowerPhis rebuilds every block's PhiCopy list from the phi
// instructions currently present in blocks (spec.md §4.4). It is
// idempotent: each call discards the previous lists and rebuilds them
// from scratch, since phi lowering never removes the phi instructions
// themselves (only dead-instruction removal, later in the pass, can
// do that).
//
// Block ids are dense allocation-order indices (Function.NewBlock),
// so blocks[id] addresses a predecessor directly without a lookup
// table.
func lowerPhis(blocks []*ir.Block) {
	for _, b := range blocks {
		b.PhiCopies = nil
	}

	for _, merge := range blocks {
		for i := 0; i < merge.NumInsts(); i++ {
			inst := merge.InstAt(i)
			if inst.Op != ir.OpPhi {
				continue
			}
			for k := 0; k+1 < len(inst.Ops); k += 2 {
				val := inst.Ops[k]
				predOp := inst.Ops[k+1]
				if predOp.Kind != ir.ValBlock || int(predOp.Block) >= len(blocks) {
					continue
				}
				pred := blocks[predOp.Block]
				// Prepend: spec.md §4.4 requires, for a given
				// predecessor, copies in reverse phi-encounter
				// order (last phi's copy emitted first). Iterating
				// phis in forward order and always prepending
				// yields exactly that order in the final list.
				pred.PhiCopies = append([]ir.PhiCopy{{Dest: inst.Dest, Src: val}}, pred.PhiCopies...)
			}
		}
	}
}
