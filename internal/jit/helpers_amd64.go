package jit

import (
	"reflect"

	"github.com/krystophny/liric/internal/amd64"
)

// bindDefaultHelpers wires amd64.DefaultHelpers with the addresses of
// the Go trampolines the x86_64 backend calls through for FP work it
// cannot encode natively (spec.md §4.6). It runs once, from this
// package's init; this file is built only for amd64 hosts.
func bindDefaultHelpers() {
	bind := func(id amd64.HelperID, fn any) {
		amd64.DefaultHelpers.Bind(id, uint64(reflect.ValueOf(fn).Pointer()))
	}
	bind(amd64.HelperFAddF32, amd64.FAddF32Bits)
	bind(amd64.HelperFAddF64, amd64.FAddF64Bits)
	bind(amd64.HelperFSubF32, amd64.FSubF32Bits)
	bind(amd64.HelperFSubF64, amd64.FSubF64Bits)
	bind(amd64.HelperFMulF32, amd64.FMulF32Bits)
	bind(amd64.HelperFMulF64, amd64.FMulF64Bits)
	bind(amd64.HelperFDivF32, amd64.FDivF32Bits)
	bind(amd64.HelperFDivF64, amd64.FDivF64Bits)
	bind(amd64.HelperFNegF32, amd64.FNegF32Bits)
	bind(amd64.HelperFNegF64, amd64.FNegF64Bits)
	bind(amd64.HelperFCmpF32, amd64.FCmpF32Bits)
	bind(amd64.HelperFCmpF64, amd64.FCmpF64Bits)
	bind(amd64.HelperSIToFPF32, amd64.SIToFPF32Bits)
	bind(amd64.HelperSIToFPF64, amd64.SIToFPF64Bits)
	bind(amd64.HelperUIToFPF32, amd64.UIToFPF32Bits)
	bind(amd64.HelperUIToFPF64, amd64.UIToFPF64Bits)
	bind(amd64.HelperFPToSIF32, amd64.FPToSIF32Bits)
	bind(amd64.HelperFPToSIF64, amd64.FPToSIF64Bits)
	bind(amd64.HelperFPToUIF32, amd64.FPToUIF32Bits)
	bind(amd64.HelperFPToUIF64, amd64.FPToUIF64Bits)
	bind(amd64.HelperFPExt, amd64.FPExtBits)
	bind(amd64.HelperFPTrunc, amd64.FPTruncBits)
}
