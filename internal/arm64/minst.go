package arm64

import "github.com/krystophny/liric/internal/ir"

// MOp enumerates aarch64 machine operations, mirroring the teacher
// shape used by internal/amd64's MOp (itself grounded on
// original_source/src/target.h's lr_x86_op_t) but naming A64 mnemonics.
type MOp uint8

const (
	MMov MOp = iota
	MMovz
	MMovk
	MAdd
	MSub
	MMul
	MSDiv
	MUDiv
	MMSub // multiply-subtract, used to recover sdiv/udiv remainders
	MAnd
	MOrr
	MEor
	MLsl
	MLsr
	MAsr
	MCmp
	MTst
	MB
	MBCond
	MBL
	MBLR
	MCSet
	MCSel
	MLdr
	MStr
	MRet
	MStp
	MLdp
	MSubSP
	MAddSP
	MFAdd
	MFSub
	MFMul
	MFDiv
	MFNeg
	MFCmp
	MScvtf
	MFcvtzs
	MFcvtzu
	MUcvtf
	MFmov // gpr<->fpr bit transfer, used to move bit patterns between banks
	MFcvt // fpext/fptrunc, single<->double
	MNop
)

// MOpKind tags an operand's shape.
type MOpKind uint8

const (
	MOpReg MOpKind = iota
	MOpFReg
	MOpImm
	MOpMem // [base, #disp]
	MOpLabel
)

// MOperand is one machine instruction operand.
type MOperand struct {
	Kind  MOpKind
	Reg   Reg
	FReg  FReg
	Imm   int64
	Base  Reg
	Disp  int32
	Label uint32
}

func RegOp(r Reg) MOperand              { return MOperand{Kind: MOpReg, Reg: r} }
func FRegOp(r FReg) MOperand            { return MOperand{Kind: MOpFReg, FReg: r} }
func ImmOp(v int64) MOperand            { return MOperand{Kind: MOpImm, Imm: v} }
func MemOp(base Reg, disp int32) MOperand { return MOperand{Kind: MOpMem, Base: base, Disp: disp} }
func LabelOp(block uint32) MOperand     { return MOperand{Kind: MOpLabel, Label: block} }

// MInst is one machine instruction.
type MInst struct {
	Op    MOp
	Dst   MOperand
	Src   MOperand
	Src2  MOperand // second source operand (Rm); msub takes its addend from Dst
	Size  uint8     // 4 (word/single) or 8 (doubleword/double)
	CC    CC
}

// MBlock is one machine basic block.
type MBlock struct {
	ID     ir.BlockID
	Offset int32
	Insts  []MInst
}

// MFunc is the result of aarch64 Select.
type MFunc struct {
	Name      string
	Blocks    []*MBlock
	StackSize uint32
	IRFunc    *ir.Function
}
