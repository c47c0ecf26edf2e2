package amd64

import "math"

// FP helper trampolines, adapted from the original target_x86_64.c's
// fp_*_bits functions: float/double arithmetic that the x86_64
// backend cannot encode natively is performed here, with values
// crossing the IR boundary as raw bit patterns (spec.md §4.6) instead
// of native float/double registers, matching the teacher's own
// memcpy-based bit reinterpretation translated into math.FloatNbits/
// math.FloatNfrombits.
//
// internal/jit resolves each of these to a host address and binds it
// into a HelperTable at module-attach time; the encoder never embeds
// a raw pointer into the IR itself.

func FAddF32Bits(a, b uint32) uint32 {
	return math.Float32bits(math.Float32frombits(a) + math.Float32frombits(b))
}
func FSubF32Bits(a, b uint32) uint32 {
	return math.Float32bits(math.Float32frombits(a) - math.Float32frombits(b))
}
func FMulF32Bits(a, b uint32) uint32 {
	return math.Float32bits(math.Float32frombits(a) * math.Float32frombits(b))
}
func FDivF32Bits(a, b uint32) uint32 {
	return math.Float32bits(math.Float32frombits(a) / math.Float32frombits(b))
}
func FNegF32Bits(a uint32) uint32 { return math.Float32bits(-math.Float32frombits(a)) }

func FAddF64Bits(a, b uint64) uint64 {
	return math.Float64bits(math.Float64frombits(a) + math.Float64frombits(b))
}
func FSubF64Bits(a, b uint64) uint64 {
	return math.Float64bits(math.Float64frombits(a) - math.Float64frombits(b))
}
func FMulF64Bits(a, b uint64) uint64 {
	return math.Float64bits(math.Float64frombits(a) * math.Float64frombits(b))
}
func FDivF64Bits(a, b uint64) uint64 {
	return math.Float64bits(math.Float64frombits(a) / math.Float64frombits(b))
}
func FNegF64Bits(a uint64) uint64 { return math.Float64bits(-math.Float64frombits(a)) }

// FCmpF32Bits and FCmpF64Bits evaluate the comparison numbered pred
// (0 ==, 1 !=, 2 >, 3 >=, 4 <, 5 <=, 6 either operand NaN) and return
// 0 or 1; any other pred yields 0.
func FCmpF32Bits(a, b uint32, pred uint64) uint64 {
	return fcmp(float64(math.Float32frombits(a)), float64(math.Float32frombits(b)), pred)
}
func FCmpF64Bits(a, b uint64, pred uint64) uint64 {
	return fcmp(math.Float64frombits(a), math.Float64frombits(b), pred)
}

func fcmp(a, b float64, pred uint64) uint64 {
	switch pred {
	case 0:
		return b2u(a == b)
	case 1:
		return b2u(a != b)
	case 2:
		return b2u(a > b)
	case 3:
		return b2u(a >= b)
	case 4:
		return b2u(a < b)
	case 5:
		return b2u(a <= b)
	case 6:
		return b2u(math.IsNaN(a) || math.IsNaN(b))
	default:
		return 0
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func SIToFPF32Bits(v int64) uint64 { return uint64(math.Float32bits(float32(v))) }
func SIToFPF64Bits(v int64) uint64 { return math.Float64bits(float64(v)) }
func UIToFPF32Bits(v uint64) uint64 { return uint64(math.Float32bits(float32(v))) }
func UIToFPF64Bits(v uint64) uint64 { return math.Float64bits(float64(v)) }

func FPToSIF32Bits(bits uint64) int64 { return int64(math.Float32frombits(uint32(bits))) }
func FPToSIF64Bits(bits uint64) int64 { return int64(math.Float64frombits(bits)) }
func FPToUIF32Bits(bits uint64) uint64 { return uint64(math.Float32frombits(uint32(bits))) }
func FPToUIF64Bits(bits uint64) uint64 { return uint64(math.Float64frombits(bits)) }

func FPExtBits(bits uint64) uint64 {
	return math.Float64bits(float64(math.Float32frombits(uint32(bits))))
}
func FPTruncBits(bits uint64) uint64 {
	return uint64(math.Float32bits(float32(math.Float64frombits(bits))))
}
