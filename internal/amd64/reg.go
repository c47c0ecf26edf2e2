// Package amd64 is the x86_64 instruction selector and encoder
// (spec.md §4.6): stack-slot discipline from internal/codegen lowered
// through two scratch registers, System V argument registers, and
// floating point implemented via runtime helper trampolines rather
// than native SSE2.
package amd64

// Reg is an x86_64 general-purpose register, numbered per its 4-bit
// ModRM/REX encoding (0-7 legacy, 8-15 requiring REX.R/X/B).
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

func (r Reg) String() string {
	names := [...]string{
		"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "?"
}

// low3 returns the register's 3-bit ModRM field; bit 3 (need for r8-15)
// is surfaced separately via needsRexExt so callers can set the right
// REX bit.
func (r Reg) low3() uint8       { return uint8(r) & 0x7 }
func (r Reg) needsRexExt() bool { return r >= R8 }

// Scratch registers per spec.md §4.6: rax is the accumulator, rcx the
// secondary; rdx is reserved for idiv's sign-extended high dividend.
const (
	Acc Reg = RAX
	Sec Reg = RCX
)

// ArgRegs is the System V integer argument-register order.
var ArgRegs = [...]Reg{RDI, RSI, RDX, RCX, R8, R9}

// CC is an x86_64 condition code, used by Jcc/SetCC/CMOVcc.
type CC uint8

const (
	CCO CC = iota
	CCNO
	CCB // below (unsigned <)
	CCAE
	CCE // equal
	CCNE
	CCBE // below-or-equal (unsigned <=)
	CCA
	CCS
	CCNS
	CCP
	CCNP
	CCL // less (signed <)
	CCGE
	CCLE // less-or-equal (signed <=)
	CCG
)

func (c CC) String() string {
	names := [...]string{
		"o", "no", "b", "ae", "e", "ne", "be", "a",
		"s", "ns", "p", "np", "l", "ge", "le", "g",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return "?"
}

// ICmpCC maps an IR signed/unsigned integer predicate to its native
// x86_64 condition code (spec.md §4.6: "Comparisons use cmp + setcc").
func ICmpCC(predName string) CC {
	switch predName {
	case "eq":
		return CCE
	case "ne":
		return CCNE
	case "sgt":
		return CCG
	case "sge":
		return CCGE
	case "slt":
		return CCL
	case "sle":
		return CCLE
	case "ugt":
		return CCA
	case "uge":
		return CCAE
	case "ult":
		return CCB
	case "ule":
		return CCBE
	default:
		return CCE
	}
}
