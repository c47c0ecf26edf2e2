// Package arm64 is the aarch64 instruction selector and encoder
// (spec.md §4.7): a machine-instruction DAG built by Select and
// encoded by Encode, following the same two-phase shape as
// internal/amd64 but targeting AAPCS64 registers and encodings.
package arm64

// Reg is an aarch64 general-purpose register, numbered per its 5-bit
// encoding field (x0-x30, xzr/sp handled via the dedicated constants
// below since they alias register number 31 depending on context).
type Reg uint8

const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29 // frame pointer
	X30 // link register
	SP  // stack pointer / xzr, context-dependent (encoding value 31)
)

func (r Reg) String() string {
	switch r {
	case X29:
		return "x29"
	case X30:
		return "x30"
	case SP:
		return "sp"
	default:
		names := [...]string{
			"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
			"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
			"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
			"x24", "x25", "x26", "x27", "x28",
		}
		if int(r) < len(names) {
			return names[r]
		}
		return "?"
	}
}

// enc returns the register's 5-bit field value.
func (r Reg) enc() uint32 { return uint32(r) }

// Scratch registers per spec.md §4.7: x9/x10 integer, d0/d1 FP.
const (
	Acc Reg = X9
	Sec Reg = X10
)

// FReg is an aarch64 FP/SIMD register (d0-d31, single/double selected
// by the instruction's size field).
type FReg uint8

const (
	D0 FReg = iota
	D1
	D2
	D3
	D4
	D5
	D6
	D7
)

const (
	FAcc FReg = D0
	FSec FReg = D1
)

func (r FReg) enc() uint32 { return uint32(r) }

// ArgRegs is the AAPCS64 integer argument-register order.
var ArgRegs = [...]Reg{X0, X1, X2, X3, X4, X5, X6, X7}

// FArgRegs is the AAPCS64 FP argument-register order.
var FArgRegs = [...]FReg{D0, D1, D2, D3, D4, D5, D6, D7}

// CC is an aarch64 condition code (A64 cond field encoding).
type CC uint8

const (
	CCEQ CC = iota
	CCNE
	CCCS // unsigned >=
	CCCC // unsigned <
	CCMI
	CCPL
	CCVS
	CCVC
	CCHI // unsigned >
	CCLS // unsigned <=
	CCGE // signed >=
	CCLT // signed <
	CCGT // signed >
	CCLE // signed <=
	CCAL
)

func (c CC) String() string {
	names := [...]string{
		"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
		"hi", "ls", "ge", "lt", "gt", "le", "al",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return "?"
}

// ICmpCC maps an IR integer predicate name to its native A64 condition.
func ICmpCC(predName string) CC {
	switch predName {
	case "eq":
		return CCEQ
	case "ne":
		return CCNE
	case "sgt":
		return CCGT
	case "sge":
		return CCGE
	case "slt":
		return CCLT
	case "sle":
		return CCLE
	case "ugt":
		return CCHI
	case "uge":
		return CCCS
	case "ult":
		return CCCC
	case "ule":
		return CCLS
	default:
		return CCEQ
	}
}
