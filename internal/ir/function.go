package ir

// FuncID is dense within its owning module, in declaration order.
type FuncID uint32

// Function owns a name, a type, ordered parameters, blocks and the
// finalization caches described in spec.md §3. IsDecl distinguishes
// externally supplied symbols (no body) from local definitions.
type Function struct {
	Name       string
	Type       *Type // KindFunc
	RetType    *Type
	ParamTypes []*Type
	ParamVRegs []VRegID
	Vararg     bool
	IsDecl     bool

	nextVReg VRegID

	first      *Block
	last       *Block
	blockCount int
	Mod        *Module

	// Dense caches, populated by Finalize.
	blocks            []*Block
	linearInsts       []*Inst
	blockInstOffsets  []uint32 // len == len(blocks)+1, sentinel-terminated
	finalized         bool
}

// NewVReg allocates and returns the next free vreg id for f.
func (f *Function) NewVReg() VRegID {
	f.nextVReg++
	return f.nextVReg - 1
}

// NumBlocks returns the number of blocks created in f, valid even
// before Finalize (it tracks Block.ID assignment, not the dense cache).
func (f *Function) NumBlocks() int { return f.blockCount }

// NewBlock creates and appends a new block to f, named name, and
// returns it. Block ids are dense in allocation order (spec.md §3).
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: name, Func: f}
	b.ID = BlockID(f.blockCount)
	f.blockCount++
	if f.first == nil {
		f.first = b
		f.IsDecl = false
	} else {
		f.last.nextBlock = b
	}
	f.last = b
	return b
}

// Blocks iterates f's blocks in allocation order via the intrusive
// chain (valid before and after Finalize).
func (f *Function) Blocks(yield func(*Block) bool) {
	for b := f.first; b != nil; b = b.nextBlock {
		if !yield(b) {
			return
		}
	}
}

// BlockArray returns the dense per-id block array populated by the
// last Finalize.
func (f *Function) BlockArray() []*Block { return f.blocks }

// LinearInsts returns the function-wide concatenation of every
// block's dense instruction array, in block order, populated by the
// last Finalize.
func (f *Function) LinearInsts() []*Inst { return f.linearInsts }

// BlockInstOffsets returns the sentinel-terminated offset table such
// that BlockInstOffsets()[i+1]-BlockInstOffsets()[i] ==
// len(BlockArray()[i].insts), and the final entry equals
// len(LinearInsts()) (testable property spec.md §8.1).
func (f *Function) BlockInstOffsets() []uint32 { return f.blockInstOffsets }

// Finalized reports whether Finalize has run at least once since the
// function's IR was last mutated.
func (f *Function) Finalized() bool { return f.finalized }

// MarkDirty invalidates the finalize caches; the next Finalize call
// will rebuild them. Any public mutation of the function's blocks or
// instructions after finalization must call this (spec.md §4.3:
// "finalization ... re-runs whenever the intrusive IR is mutated").
func (f *Function) MarkDirty() { f.finalized = false }

// SetFinalizeCaches is used by package finalize after it has rebuilt
// the dense arrays.
func (f *Function) SetFinalizeCaches(blocks []*Block, linear []*Inst, offsets []uint32) {
	f.blocks = blocks
	f.linearInsts = linear
	f.blockInstOffsets = offsets
	f.finalized = true
}
