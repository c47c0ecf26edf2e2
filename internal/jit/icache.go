package jit

// invalidateICache flushes any stale instruction-cache lines covering
// mem after a W→X transition (spec.md §4.10). amd64 has a coherent
// icache with respect to self-modifying code and needs no action;
// aarch64 (dc cvau/ic ivau/dsb/isb) and riscv64 (fence.i) need real
// cache-maintenance instructions, which this build does not emit —
// TODO: wire per-arch cache maintenance once there is a way to verify
// hand-written maintenance sequences against real hardware. Every
// caller still invokes this at the documented W→X transition point so
// the structural behavior spec.md describes is in place.
func invalidateICache(mem []byte) {}
