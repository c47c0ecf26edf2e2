package amd64

// HelperID discriminates one of the runtime FP trampolines the
// x86_64 backend calls through r10 instead of emitting native SSE2
// (spec.md §4.6). Per Design Notes §9 ("prefer a separate side-channel
// ... so the IR stays a pure value graph with no raw host pointers
// embedded"), the IR never carries a trampoline's address directly;
// ISel looks it up in a HelperTable resolved once at JIT-attach time
// (SPEC_FULL.md §4.6).
type HelperID uint8

const (
	HelperFAddF32 HelperID = iota
	HelperFAddF64
	HelperFSubF32
	HelperFSubF64
	HelperFMulF32
	HelperFMulF64
	HelperFDivF32
	HelperFDivF64
	HelperFNegF32
	HelperFNegF64
	HelperFCmpF32
	HelperFCmpF64
	HelperSIToFPF32
	HelperSIToFPF64
	HelperUIToFPF32
	HelperUIToFPF64
	HelperFPToSIF32
	HelperFPToSIF64
	HelperFPToUIF32
	HelperFPToUIF64
	HelperFPExt
	HelperFPTrunc

	numHelpers
)

// HelperTable maps each HelperID to its resolved host address. It is
// empty until internal/jit binds every slot at module-attach time;
// ISel resolves the HelperID a given fp instruction needs through this
// table and emits the address in a `mov r10, imm64; call r10` sequence.
type HelperTable struct {
	addrs [numHelpers]uint64
}

func NewHelperTable() *HelperTable { return &HelperTable{} }

func (t *HelperTable) Bind(id HelperID, addr uint64) { t.addrs[id] = addr }

func (t *HelperTable) Addr(id HelperID) (uint64, bool) {
	a := t.addrs[id]
	return a, a != 0
}

// String names the helper for diagnostics, e.g. when one is called
// before being bound.
func (id HelperID) String() string {
	names := [...]string{
		"fadd_f32_bits", "fadd_f64_bits", "fsub_f32_bits", "fsub_f64_bits",
		"fmul_f32_bits", "fmul_f64_bits", "fdiv_f32_bits", "fdiv_f64_bits",
		"fneg_f32_bits", "fneg_f64_bits", "fcmp_f32_bits", "fcmp_f64_bits",
		"sitofp_f32_bits", "sitofp_f64_bits", "uitofp_f32_bits", "uitofp_f64_bits",
		"fptosi_f32_bits", "fptosi_f64_bits", "fptoui_f32_bits", "fptoui_f64_bits",
		"fpext_bits", "fptrunc_bits",
	}
	if int(id) < len(names) {
		return names[id]
	}
	return "?"
}
