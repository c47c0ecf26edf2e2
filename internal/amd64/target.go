package amd64

import (
	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/ir"
)

// DefaultHelpers is the process-wide FP helper table the x86_64 target
// descriptor's ISel closure consults. internal/jit binds it with real
// trampoline addresses at attach time (SPEC_FULL.md §4.6).
var DefaultHelpers = NewHelperTable()

func init() {
	codegen.DefaultRegistry.Register(&Target)
}

// Target is this package's codegen.Target descriptor, grounded on the
// teacher's Init(*gc.Arch) registration convention
// (compile/internal/ppc64/galign.go).
var Target = codegen.Target{
	Name:        "x86_64",
	PointerSize: 8,
	ISel: func(fn *ir.Function, mod *ir.Module) (any, error) {
		return Select(fn, mod, DefaultHelpers)
	},
	Encode: EncodeAny,
}
