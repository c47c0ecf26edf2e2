package codegen

// RelocKind is a target-specific relocation type, fixed-numbered so
// the object-file collaborator and each backend's encoder agree
// (spec.md §6: "their numeric assignments are fixed constants").
// Grounded on original_source/src/objfile.h's two enums.
type RelocKind uint8

const (
	// ARM64 relocation types.
	RelocARM64Branch26        RelocKind = 2
	RelocARM64Page21          RelocKind = 3
	RelocARM64PageOff12       RelocKind = 4
	RelocARM64GOTLoadPage21   RelocKind = 5
	RelocARM64GOTLoadPageOff12 RelocKind = 6

	// x86_64 relocation types.
	RelocX86_64PC32     RelocKind = 20
	RelocX86_64PLT32    RelocKind = 21
	RelocX86_64GOTPCREL RelocKind = 22
	RelocX86_64_64      RelocKind = 23

	// riscv64 relocation types, supplemented per SPEC_FULL.md §6
	// ("Relocation kinds are target-specific (e.g. ARM64_BRANCH26,
	// X86_64_PC32, RISCV64_JAL)") — not present in the original's
	// objfile.h enum (only x86_64/arm64 object emission existed
	// there) but required to give the riscv64 backend's own object-
	// emission collaborator interface a matching numeric space.
	RelocRISCV64JAL  RelocKind = 40
	RelocRISCV64PCRel RelocKind = 41
)

// ObjReloc is one patch site recorded against a function's or
// global's emitted bytes.
type ObjReloc struct {
	Offset     uint32
	SymbolName string
	Type       RelocKind
	Addend     int64
}

// FixupKind distinguishes the branch-displacement encodings a
// backend's encoder must patch once block offsets are known.
type FixupKind uint8

const (
	FixupRel32 FixupKind = iota // x86_64 jmp/jcc rel32
	FixupRel26                 // aarch64 B imm26
	FixupRel19                  // aarch64 B.cond imm19
	FixupRel21                  // riscv64 JAL imm21 (unconditional jump)
	FixupRel13                  // riscv64 branch imm13
)

// Fixup records one not-yet-resolvable branch: PatchOffset is the byte
// offset within the function's code buffer where the displacement
// field begins, TargetBlock is the destination block id, and Kind
// selects how many bytes/bits to patch.
type Fixup struct {
	PatchOffset uint32
	TargetBlock uint32
	Kind        FixupKind
}

// FixupTable accumulates fixups during ISel/encoding and resolves them
// once every block's final code offset is known (spec.md §4.5:
// "Branches are emitted with placeholder offsets and recorded in a
// fixup table resolved after all blocks are laid out").
type FixupTable struct {
	entries []Fixup
}

func (t *FixupTable) Add(patchOffset, targetBlock uint32, kind FixupKind) {
	t.entries = append(t.entries, Fixup{PatchOffset: patchOffset, TargetBlock: targetBlock, Kind: kind})
}

func (t *FixupTable) Entries() []Fixup { return t.entries }
