package arm64

import (
	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/ir"
)

func init() {
	codegen.DefaultRegistry.Register(&Target)
}

// Target is this package's codegen.Target descriptor, mirroring the
// registration convention internal/amd64 established from the
// teacher's Init(*gc.Arch) pattern (compile/internal/ppc64/galign.go).
var Target = codegen.Target{
	Name:        "aarch64",
	PointerSize: 8,
	ISel: func(fn *ir.Function, mod *ir.Module) (any, error) {
		return Select(fn, mod)
	},
	Encode: EncodeAny,
}
