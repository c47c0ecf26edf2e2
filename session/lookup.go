package session

import "github.com/krystophny/liric/internal/errs"

// Lookup resolves name to a compiled address, first giving every
// DIRECT-mode function deferred by a forward reference another chance
// to compile (its callee may have been defined since), then
// consulting the JIT's defined/external/library symbol tables
// (spec.md §4.10, §4.11).
func (s *Session) Lookup(name string) (uintptr, error) {
	s.retryPending()
	addr, ok := s.jit.GetFunction(name)
	if !ok {
		return 0, errs.New(errs.NotFound, "undefined symbol: %s", name)
	}
	return addr, nil
}
