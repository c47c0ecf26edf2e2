package riscv64

import (
	"fmt"

	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/ir"
)

func init() {
	codegen.DefaultRegistry.Register(&Target)
}

// Target wires the streaming backend into the shared registry. Unlike
// internal/amd64 and internal/arm64, ISel alone produces the final
// bytes here, so Encode is the identity function — the two-phase
// Target shape still fits a one-phase backend without change.
var Target = codegen.Target{
	Name:        "riscv64",
	PointerSize: 8,
	ISel: func(fn *ir.Function, mod *ir.Module) (any, error) {
		return CompileFunction(fn, RV64GC)
	},
	Encode: func(mfunc any) ([]byte, error) {
		code, ok := mfunc.([]byte)
		if !ok {
			return nil, fmt.Errorf("riscv64: Encode given %T, want []byte", mfunc)
		}
		return code, nil
	},
}

// TargetIM is the RV64IM (no F/D) variant, registered under its own
// name so callers can request the narrower ISA explicitly.
func init() {
	codegen.DefaultRegistry.Register(&TargetIM)
}

var TargetIM = codegen.Target{
	Name:        "riscv64im",
	PointerSize: 8,
	ISel: func(fn *ir.Function, mod *ir.Module) (any, error) {
		return CompileFunction(fn, RV64IM)
	},
	Encode: func(mfunc any) ([]byte, error) {
		code, ok := mfunc.([]byte)
		if !ok {
			return nil, fmt.Errorf("riscv64: Encode given %T, want []byte", mfunc)
		}
		return code, nil
	},
}
