package session

import (
	"bytes"
	"strings"
	"testing"

	"github.com/krystophny/liric/internal/errs"
	"github.com/krystophny/liric/internal/ir"
)

func newDirectSession(t *testing.T) *Session {
	t.Helper()
	s, err := Create(Config{Mode: Direct})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newIRSession(t *testing.T) *Session {
	t.Helper()
	s, err := Create(Config{Mode: IR})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// buildRet42 emits `define i32 @name() { ret i32 42 }` through the
// session facade and finishes it, returning the compiled address (may
// be 0 in IR mode).
func buildRet42(t *testing.T, s *Session, name string) uintptr {
	t.Helper()
	if err := s.FuncBegin(name, s.Module().TypeI32, nil, false); err != nil {
		t.Fatalf("FuncBegin: %v", err)
	}
	if _, err := s.Block(); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := s.EmitRet(Imm(42, s.Module().TypeI32), s.Module().TypeI32); err != nil {
		t.Fatalf("EmitRet: %v", err)
	}
	addr, err := s.FuncEnd(false)
	if err != nil {
		t.Fatalf("FuncEnd: %v", err)
	}
	return addr
}

func TestFuncBeginEndDirectModeCompiles(t *testing.T) {
	s := newDirectSession(t)
	addr := buildRet42(t, s, "ret42")
	if addr == 0 {
		t.Fatal("expected a non-zero address in direct mode")
	}
	if got, err := s.Lookup("ret42"); err != nil || got != addr {
		t.Fatalf("Lookup: got (%v, %v), want (%v, nil)", got, err, addr)
	}
}

func TestWithBackendStencilModeCompiles(t *testing.T) {
	s := newDirectSession(t)
	if err := s.WithBackend("stencil"); err != nil {
		t.Fatalf("WithBackend: %v", err)
	}
	addr := buildRet42(t, s, "stenciled")
	if addr == 0 {
		t.Fatal("expected a non-zero address under the stencil backend")
	}
}

func TestFuncEndRejectsUnterminatedBlock(t *testing.T) {
	s := newDirectSession(t)
	if err := s.FuncBegin("bad", s.Module().TypeI32, nil, false); err != nil {
		t.Fatalf("FuncBegin: %v", err)
	}
	if _, err := s.Block(); err != nil {
		t.Fatalf("Block: %v", err)
	}
	_, err := s.FuncEnd(false)
	if err == nil {
		t.Fatal("expected an error for an unterminated block")
	}
	e, ok := err.(*errs.Error)
	if !ok || e.Class != errs.State {
		t.Fatalf("expected a State error, got %v", err)
	}
}

func TestIRModeDefersCompilation(t *testing.T) {
	s := newIRSession(t)
	addr := buildRet42(t, s, "deferred")
	if addr != 0 {
		t.Fatalf("expected IR mode func_end to skip compilation, got addr %v", addr)
	}
	if _, err := s.Lookup("deferred"); err == nil {
		t.Fatal("expected lookup to fail before any explicit compile request")
	}
}

func TestIRModeWithRequestedAddrCompiles(t *testing.T) {
	s := newIRSession(t)
	if err := s.FuncBegin("forced", s.Module().TypeI32, nil, false); err != nil {
		t.Fatalf("FuncBegin: %v", err)
	}
	if _, err := s.Block(); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := s.EmitRet(Imm(7, s.Module().TypeI32), s.Module().TypeI32); err != nil {
		t.Fatalf("EmitRet: %v", err)
	}
	addr, err := s.FuncEnd(true)
	if err != nil {
		t.Fatalf("FuncEnd: %v", err)
	}
	if addr == 0 {
		t.Fatal("expected a non-zero address when wantAddr is set")
	}
}

func TestForwardReferenceDeferredThenResolved(t *testing.T) {
	s := newDirectSession(t)
	i32 := s.Module().TypeI32

	// caller() calls callee(), defined only afterwards.
	if err := s.FuncBegin("caller", i32, nil, false); err != nil {
		t.Fatalf("FuncBegin caller: %v", err)
	}
	if _, err := s.Block(); err != nil {
		t.Fatalf("Block: %v", err)
	}
	calleeRef := s.Global("callee", i32)
	dest, err := s.EmitCall(calleeRef, i32, nil, false, false)
	if err != nil {
		t.Fatalf("EmitCall: %v", err)
	}
	if err := s.EmitRet(VReg(dest, i32), i32); err != nil {
		t.Fatalf("EmitRet: %v", err)
	}
	addr, err := s.FuncEnd(false)
	if err != nil {
		t.Fatalf("FuncEnd caller: expected deferral, not an error: %v", err)
	}
	if addr != 0 {
		t.Fatalf("expected caller's compile to be deferred, got addr %v", addr)
	}
	if _, err := s.Lookup("caller"); err == nil {
		t.Fatal("expected caller to still be unresolved before callee is defined")
	}

	buildRet42(t, s, "callee")

	callerAddr, err := s.Lookup("caller")
	if err != nil {
		t.Fatalf("Lookup caller after callee defined: %v", err)
	}
	if callerAddr == 0 {
		t.Fatal("expected caller to resolve once callee exists")
	}
}

func TestSecondFuncBeginWhileActiveIsStateError(t *testing.T) {
	s := newDirectSession(t)
	if err := s.FuncBegin("f", s.Module().TypeI32, nil, false); err != nil {
		t.Fatalf("FuncBegin: %v", err)
	}
	err := s.FuncBegin("g", s.Module().TypeI32, nil, false)
	if err == nil {
		t.Fatal("expected an error for a second active func_begin")
	}
	e, ok := err.(*errs.Error)
	if !ok || e.Class != errs.State {
		t.Fatalf("expected a State error, got %v", err)
	}
}

func TestDumpIRProducesText(t *testing.T) {
	s := newDirectSession(t)
	buildRet42(t, s, "dumped")

	var buf bytes.Buffer
	if err := s.DumpIR(&buf); err != nil {
		t.Fatalf("DumpIR: %v", err)
	}
	if !strings.Contains(buf.String(), "dumped") {
		t.Fatalf("expected dumped IR to mention function name, got:\n%s", buf.String())
	}
}

func TestCompileLLAddsAuxModule(t *testing.T) {
	s := newDirectSession(t)
	m, err := s.CompileLL("define i32 @aux() {\nentry:\n  ret i32 5\n}\n")
	if err != nil {
		t.Fatalf("CompileLL: %v", err)
	}
	if m == nil {
		t.Fatal("expected a non-nil auxiliary module")
	}
	addr, err := s.Lookup("aux")
	if err != nil {
		t.Fatalf("Lookup aux: %v", err)
	}
	if addr == 0 {
		t.Fatal("expected aux to resolve to a non-zero address")
	}
}

func TestEmitObjectReturnsBackendErrorWithoutCollaborator(t *testing.T) {
	s := newDirectSession(t)
	err := s.EmitObject("/tmp/out.o")
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := err.(*errs.Error)
	if !ok || e.Class != errs.Backend {
		t.Fatalf("expected a Backend error, got %v", err)
	}
}

func TestEmitExeReturnsBackendErrorWithoutCollaborator(t *testing.T) {
	s := newDirectSession(t)
	err := s.EmitExe("/tmp/out")
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := err.(*errs.Error)
	if !ok || e.Class != errs.Backend {
		t.Fatalf("expected a Backend error, got %v", err)
	}
}

func TestParamOutOfRangeIsArgumentError(t *testing.T) {
	s := newDirectSession(t)
	if err := s.FuncBegin("p", s.Module().TypeI32, []*ir.Type{s.Module().TypeI32}, false); err != nil {
		t.Fatalf("FuncBegin: %v", err)
	}
	if _, err := s.Param(5); err == nil {
		t.Fatal("expected an error for an out-of-range parameter index")
	} else if e, ok := err.(*errs.Error); !ok || e.Class != errs.Argument {
		t.Fatalf("expected an Argument error, got %v", err)
	}
}
