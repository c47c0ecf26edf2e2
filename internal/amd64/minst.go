package amd64

import "github.com/krystophny/liric/internal/ir"

// MOp enumerates x86_64 machine operations, grounded on
// original_source/src/target.h's lr_x86_op_t enum.
type MOp uint8

const (
	MMov MOp = iota
	MMovImm
	MAdd
	MSub
	MIMul
	MIDiv
	MAnd
	MOr
	MXor
	MSal
	MSar
	MShr
	MCmp
	MTest
	MJmp
	MJcc
	MSetcc
	MCmovcc
	MRet
	MPush
	MPop
	MCall
	MLea
	MCdq
	MCqo
	MMovsx
	MMovzx
	MNop
	MSubRSP
	MAddRSP
	MLeave
)

// MOpKind tags an MOperand's shape, mirroring lr_mop_kind_t.
type MOpKind uint8

const (
	MOpReg MOpKind = iota
	MOpImm
	MOpMem // [base + disp]
	MOpLabel
)

// MOperand is one machine instruction operand.
type MOperand struct {
	Kind  MOpKind
	Reg   Reg
	Imm   int64
	Base  Reg
	Disp  int32
	Label uint32 // block id, for MJmp/MJcc targets
}

func RegOp(r Reg) MOperand             { return MOperand{Kind: MOpReg, Reg: r} }
func ImmOp(v int64) MOperand           { return MOperand{Kind: MOpImm, Imm: v} }
func MemOp(base Reg, disp int32) MOperand { return MOperand{Kind: MOpMem, Base: base, Disp: disp} }
func LabelOp(block uint32) MOperand    { return MOperand{Kind: MOpLabel, Label: block} }

// MInst is one machine instruction: an opcode, destination and source
// operands, an operand width in bytes, and a condition code for
// Jcc/Setcc/Cmovcc (mirroring lr_minst_t).
type MInst struct {
	Op   MOp
	Dst  MOperand
	Src  MOperand
	Size uint8
	CC   CC
}

// MBlock is one machine basic block: a dense instruction list plus the
// IR block id it was lowered from, used to resolve branch fixups once
// every block's code offset is known (mirroring lr_mblock_t, minus the
// intrusive-list fields not needed by a slice-based Go encoder).
type MBlock struct {
	ID     ir.BlockID
	Offset int32 // code offset once laid out, -1 until then
	Insts  []MInst
}

// MFunc is the result of ISel: a sequence of machine blocks plus the
// frame layout computed during lowering (mirroring lr_mfunc_t).
type MFunc struct {
	Name        string
	Blocks      []*MBlock
	StackSize   uint32
	IRFunc      *ir.Function
	UsesStencil bool
}
