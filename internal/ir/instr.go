package ir

// Opcode enumerates every instruction LIRIC's IR can express
// (spec.md §3, supplemented per SPEC_FULL.md §3 with a first-class
// Unreachable terminator and distinct unsigned opcodes).
type Opcode uint8

const (
	OpRet Opcode = iota
	OpRetVoid
	OpBr
	OpCondBr
	OpUnreachable

	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpSRem
	OpUDiv
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr

	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg

	OpICmp
	OpFCmp

	OpAlloca
	OpLoad
	OpStore
	OpGEP

	OpCall
	OpPhi
	OpSelect

	OpSExt
	OpZExt
	OpTrunc
	OpBitcast
	OpPtrToInt
	OpIntToPtr
	OpSIToFP
	OpUIToFP
	OpFPToSI
	OpFPToUI
	OpFPExt
	OpFPTrunc

	OpExtractValue
	OpInsertValue
)

var opcodeNames = map[Opcode]string{
	OpRet: "ret", OpRetVoid: "ret void", OpBr: "br", OpCondBr: "br",
	OpUnreachable: "unreachable",
	OpAdd:         "add", OpSub: "sub", OpMul: "mul", OpSDiv: "sdiv", OpSRem: "srem",
	OpUDiv: "udiv", OpURem: "urem",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpLShr: "lshr", OpAShr: "ashr",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul", OpFDiv: "fdiv", OpFNeg: "fneg",
	OpICmp: "icmp", OpFCmp: "fcmp",
	OpAlloca: "alloca", OpLoad: "load", OpStore: "store", OpGEP: "getelementptr",
	OpCall: "call", OpPhi: "phi", OpSelect: "select",
	OpSExt: "sext", OpZExt: "zext", OpTrunc: "trunc", OpBitcast: "bitcast",
	OpPtrToInt: "ptrtoint", OpIntToPtr: "inttoptr",
	OpSIToFP: "sitofp", OpUIToFP: "uitofp", OpFPToSI: "fptosi", OpFPToUI: "fptoui",
	OpFPExt: "fpext", OpFPTrunc: "fptrunc",
	OpExtractValue: "extractvalue", OpInsertValue: "insertvalue",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "?"
}

// IsTerminator reports whether op ends a basic block (spec.md §3:
// every non-empty block ends with a terminator).
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpRet, OpRetVoid, OpBr, OpCondBr, OpUnreachable:
		return true
	default:
		return false
	}
}

// HasSideEffects reports opcodes the peephole passes must never
// rewrite away (spec.md §4.3).
func (op Opcode) HasSideEffects() bool {
	return op == OpStore || op == OpCall || op == OpAlloca || op.IsTerminator()
}

// ICmpPred is the predicate carried by an OpICmp instruction.
type ICmpPred uint8

const (
	ICmpEQ ICmpPred = iota
	ICmpNE
	ICmpSGT
	ICmpSGE
	ICmpSLT
	ICmpSLE
	ICmpUGT
	ICmpUGE
	ICmpULT
	ICmpULE
)

var icmpNames = [...]string{"eq", "ne", "sgt", "sge", "slt", "sle", "ugt", "uge", "ult", "ule"}

func (p ICmpPred) String() string {
	if int(p) < len(icmpNames) {
		return icmpNames[p]
	}
	return "?"
}

// FCmpPred is the predicate carried by an OpFCmp instruction.
type FCmpPred uint8

const (
	FCmpFalse FCmpPred = iota
	FCmpOEQ
	FCmpOGT
	FCmpOGE
	FCmpOLT
	FCmpOLE
	FCmpONE
	FCmpORD
	FCmpUEQ
	FCmpUGT
	FCmpUGE
	FCmpULT
	FCmpULE
	FCmpUNE
	FCmpUNO
	FCmpTrue
)

var fcmpNames = [...]string{
	"false", "oeq", "ogt", "oge", "olt", "ole", "one", "ord",
	"ueq", "ugt", "uge", "ult", "ule", "une", "uno", "true",
}

func (p FCmpPred) String() string {
	if int(p) < len(fcmpNames) {
		return fcmpNames[p]
	}
	return "?"
}

// InstID is dense within its owning function's linear instruction
// array, valid only after Function.Finalize.
type InstID uint32

// Inst is one instruction: an opcode, a result type, a destination
// vreg (VRegNone when the opcode produces no value), a flat operand
// vector, and opcode-specific side data. Operand layout by opcode is
// documented in spec.md §3.
type Inst struct {
	Op    Opcode
	Type  *Type
	Dest  VRegID
	Ops   []Operand

	ICmpPred ICmpPred
	FCmpPred FCmpPred
	Indices  []uint32 // extractvalue/insertvalue aggregate index path

	CallExternalABI bool
	CallVararg      bool

	next *Inst // intrusive link within the owning block, pre-finalize
}

// VRegNone is the reserved "no destination" vreg id.
const VRegNone VRegID = 0

// Next returns the following instruction in the owning block's
// intrusive chain, or nil if inst is last.
func (inst *Inst) Next() *Inst { return inst.next }

// HasDest reports whether inst defines a vreg, mirroring the original
// inst_has_dest helper (spec.md §3: "inst.dest == 0 iff the opcode
// produces no value").
func (inst *Inst) HasDest() bool {
	switch inst.Op {
	case OpRet, OpRetVoid, OpBr, OpCondBr, OpStore, OpUnreachable:
		return false
	case OpCall:
		return !inst.Type.IsVoid()
	default:
		return true
	}
}

func (op Opcode) isCast() bool {
	switch op {
	case OpSExt, OpZExt, OpTrunc, OpBitcast, OpPtrToInt, OpIntToPtr,
		OpSIToFP, OpUIToFP, OpFPToSI, OpFPToUI, OpFPExt, OpFPTrunc:
		return true
	default:
		return false
	}
}
