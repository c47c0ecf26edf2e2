// Package codegen holds the discipline shared by every backend: the
// target descriptor and registry, stack-slot allocation, relocation
// kind constants, and branch fixups (spec.md §4.5, SPEC_FULL.md §4.5).
package codegen

import (
	"fmt"

	"github.com/krystophny/liric/internal/ir"
)

// Target describes one code-generation backend, grounded on the
// teacher's cmd_local/compile/internal/gc.Arch registration convention
// (compile/internal/ppc64/galign.go's Init wires SSAGenValue/
// SSAGenBlock/ZeroRange into a shared Arch struct at package init).
type Target struct {
	Name        string
	PointerSize uint8

	// ISel lowers fn's IR into a backend-specific machine function and
	// returns it as an opaque value; Encode later turns that value into
	// bytes. The machine function is typed as any here so Target
	// stays backend-agnostic — internal/amd64 and internal/arm64 supply
	// closures over their own MFunc types, while internal/riscv64's
	// value is already its encoded []byte.
	ISel   func(fn *ir.Function, mod *ir.Module) (any, error)
	Encode func(mfunc any) ([]byte, error)
}

// Registry maps target names to their descriptor. Backends register
// themselves at package init(), mirroring gc.Arch's per-architecture
// Init(*gc.Arch) pattern but collapsed into a single process-wide map
// since LIRIC, unlike cmd/compile, must support selecting among all
// three targets within one process (cross-compiling an object file for
// a target other than the host).
type Registry struct {
	targets map[string]*Target
}

// DefaultRegistry is the process-wide registry backends register into.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]*Target)}
}

// Register adds t to r, keyed by t.Name. A second registration of the
// same name replaces the first — useful for tests that install a fake
// target.
func (r *Registry) Register(t *Target) {
	r.targets[t.Name] = t
}

// Lookup returns the target named name, or nil, false.
func (r *Registry) Lookup(name string) (*Target, bool) {
	t, ok := r.targets[name]
	return t, ok
}

// Names returns the registered target names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for n := range r.targets {
		names = append(names, n)
	}
	return names
}

// ErrBranchRangeExceeded is returned by a backend's ISel or encoder
// when a branch displacement does not fit the target's native
// encoding (spec.md §4.7: aarch64's B/B.cond imm26/imm19 ranges).
// Mapped to the Backend error class (spec.md §7).
type ErrBranchRangeExceeded struct {
	Target string
	From    uint32
	To      uint32
	Delta   int64
}

func (e *ErrBranchRangeExceeded) Error() string {
	return fmt.Sprintf("%s: branch at offset %d to offset %d exceeds encodable range (delta %d)",
		e.Target, e.From, e.To, e.Delta)
}

// ErrUnsupportedOp is returned by the riscv64 streaming path's
// compile_emit when an opcode falls outside its deliberate subset
// (spec.md §4.8), letting the caller fall back to a heavier backend.
type ErrUnsupportedOp struct {
	Target string
	Op     ir.Opcode
}

func (e *ErrUnsupportedOp) Error() string {
	return fmt.Sprintf("%s: unsupported opcode %s", e.Target, e.Op)
}
