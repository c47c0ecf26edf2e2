package ir

// Block is a maximal straight-line sequence of instructions ending in
// a terminator. Before Function.Finalize, instructions are reached
// through the intrusive first/last/next chain; after finalize they
// are also available densely via Function.BlockInsts.
type Block struct {
	Name string
	ID   BlockID

	first *Inst
	last  *Inst

	Func *Function

	insts []*Inst // dense array, populated by Finalize

	nextBlock *Block // intrusive link within the owning function

	// PhiCopies is this block's per-predecessor phi-copy list,
	// rebuilt by package finalize on every Finalize call (spec.md
	// §4.4): record i must be materialized by the backend as a move
	// "Src -> Dest" inserted before this block's terminator, in list
	// order.
	PhiCopies []PhiCopy
}

// PhiCopy is one phi-lowering move: the merge block's phi destination
// vreg and the operand value this predecessor contributes.
type PhiCopy struct {
	Dest VRegID
	Src  Operand
}

// Append adds inst to the end of b's intrusive instruction chain.
func (b *Block) Append(inst *Inst) {
	if b.first == nil {
		b.first = inst
	} else {
		b.last.next = inst
	}
	b.last = inst
}

// Insts iterates the block's instructions in order, following the
// intrusive chain. Valid both before and after finalization (finalize
// keeps the chain's node identities, only the insts cache changes).
func (b *Block) Insts(yield func(*Inst) bool) {
	for i := b.first; i != nil; i = i.next {
		if !yield(i) {
			return
		}
	}
}

// First returns the block's first instruction, or nil if empty.
func (b *Block) First() *Inst { return b.first }

// Last returns the block's terminator instruction, or nil if the
// block is still empty.
func (b *Block) Last() *Inst { return b.last }

// NumInsts returns the dense instruction count recorded at the last
// Finalize. Zero before the owning function has been finalized.
func (b *Block) NumInsts() int { return len(b.insts) }

// InstAt returns the i'th instruction in finalize order.
func (b *Block) InstAt(i int) *Inst { return b.insts[i] }

// RebuildDense walks the intrusive chain into the dense insts slice,
// used by package finalize (spec.md §4.3 step 2).
func (b *Block) RebuildDense() {
	b.insts = b.insts[:0]
	for i := b.first; i != nil; i = i.next {
		b.insts = append(b.insts, i)
	}
}

// SetDense replaces the dense array in place — used after peephole
// rewrites operate on the array without re-walking the linked list
// (spec.md §4.3: "apply peephole rewrites in place on that array, not
// by re-walking the intrusive chain"). The intrusive chain is relinked
// to match so Insts() stays consistent afterward.
func (b *Block) SetDense(insts []*Inst) {
	b.insts = insts
	b.first = nil
	b.last = nil
	for _, i := range insts {
		i.next = nil
		if b.first == nil {
			b.first = i
		} else {
			b.last.next = i
		}
		b.last = i
	}
}
