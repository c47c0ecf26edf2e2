// Package riscv64 is the streaming riscv64 backend (spec.md §4.8):
// unlike internal/amd64 and internal/arm64, which build a machine-
// instruction DAG before encoding, this package emits bytes directly
// through a compile_begin/compile_emit/compile_set_block/compile_end
// interface over a deliberately narrow opcode subset.
package riscv64

// Reg is a riscv64 integer register, numbered per its 5-bit encoding.
type Reg uint8

const (
	X0 Reg = iota // zero
	RA            // x1, return address
	SP            // x2
	GP            // x3
	TP            // x4
	T0            // x5
	T1            // x6
	T2            // x7
	S0            // x8, frame pointer
	S1            // x9, single save-slot for ra across the first call (spec.md §4.8)
	A0            // x10
	A1
	A2
	A3
	A4
	A5
	A6
	A7 // x17
	S2 // x18
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11 // x27
	T3  // x28
	T4
	T5
	T6 // x31
)

func (r Reg) enc() uint32 { return uint32(r) }

// ArgRegs is the standard RISC-V integer argument-register order.
var ArgRegs = [...]Reg{A0, A1, A2, A3, A4, A5, A6, A7}

// tempPool is the round-robin integer temporary pool this backend
// assigns produced values to (spec.md §4.8: "a small pool of temporary
// GPRs (t3-t6, s2-s11) ... assigned round-robin per produced value").
var tempPool = [...]Reg{T3, T4, T5, T6, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11}

// Scratch registers used internally for operand staging, distinct
// from the round-robin result pool.
const (
	Acc Reg = T0
	Sec Reg = T1
)

// FReg is a riscv64 floating point register.
type FReg uint8

const (
	FT0 FReg = iota
	FT1
	FT2
	FT3
	FT4
	FT5
	FT6
	FT7
	FS0
	FS1
	FA0
	FA1
	FA2
	FA3
	FA4
	FA5
	FA6
	FA7
	FS2
	FS3
	FS4
	FS5
	FS6
	FS7
	FS8
	FS9
	FS10
	FS11
	FT8
	FT9
	FT10
	FT11
)

func (r FReg) enc() uint32 { return uint32(r) }

// fpTempPool is the round-robin FP temporary pool (spec.md §4.8:
// "FPRs (ft0-ft11, fs2-fs5)").
var fpTempPool = [...]FReg{FT0, FT1, FT2, FT3, FT4, FT5, FT6, FT7, FT8, FT9, FT10, FT11, FS2, FS3, FS4, FS5}

const (
	FAcc FReg = FT0
	FSec FReg = FT1
)

// ArgFRegs is the standard RISC-V FP argument-register order.
var ArgFRegs = [...]FReg{FA0, FA1, FA2, FA3, FA4, FA5, FA6, FA7}

// Variant selects the extension set a streamed function is compiled
// against (spec.md §4.8): rv64gc carries M/F/D, rv64im is integer-only
// plus multiply/divide.
type Variant uint8

const (
	RV64GC Variant = iota
	RV64IM
)

func (v Variant) hasFP() bool { return v == RV64GC }
