// Package finalize implements the idempotent pass that materializes
// dense block/instruction arrays on an internal/ir.Function and
// applies the documented peephole rewrites and phi-copy lowering
// (spec.md §4.3, §4.4).
package finalize

import "github.com/krystophny/liric/internal/ir"

// Func finalizes f: it rebuilds each block's dense instruction array,
// applies the peephole passes in place, concatenates the block arrays
// into a function-wide linear array with a sentinel-terminated offset
// table, and lowers phis into per-predecessor copy lists.
//
// Finalize is idempotent — calling it again after further mutation
// re-derives everything from the current intrusive chains, matching
// spec.md §4.3: "Finalization is idempotent and re-runs whenever the
// intrusive IR is mutated."
func Func(f *ir.Function) {
	blocks := make([]*ir.Block, 0, f.NumBlocks())
	f.Blocks(func(b *ir.Block) bool {
		blocks = append(blocks, b)
		return true
	})

	for _, b := range blocks {
		b.RebuildDense()
	}

	lowerPhis(blocks)
	applyPeepholes(f, blocks)

	linear := make([]*ir.Inst, 0, linearCapacity(blocks))
	offsets := make([]uint32, len(blocks)+1)
	for i, b := range blocks {
		offsets[i] = uint32(len(linear))
		for j := 0; j < b.NumInsts(); j++ {
			linear = append(linear, b.InstAt(j))
		}
	}
	offsets[len(blocks)] = uint32(len(linear))

	f.SetFinalizeCaches(blocks, linear, offsets)
}

func linearCapacity(blocks []*ir.Block) int {
	n := 0
	for _, b := range blocks {
		n += b.NumInsts()
	}
	return n
}
