package jit

import (
	"testing"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/config"
	"github.com/krystophny/liric/internal/finalize"
	"github.com/krystophny/liric/internal/ir"
)

func newTestModule() (*ir.Module, *arena.Arena) {
	a := arena.Create(0)
	return ir.NewModule(a), a
}

func buildConst42(m *ir.Module, name string) *ir.Function {
	f := m.NewFunction(name, m.TypeI32, nil, false)
	b := f.NewBlock("entry")
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(42, m.TypeI32)}})
	finalize.Func(f)
	return f
}

func TestAddModuleDefinesSymbol(t *testing.T) {
	m, _ := newTestModule()
	buildConst42(m, "const42")

	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if err := j.AddModule(m); err != nil {
		t.Fatalf("AddModule: %v", err)
	}
	addr, ok := j.GetFunction("const42")
	if !ok {
		t.Fatal("expected const42 to be defined")
	}
	if addr == 0 {
		t.Fatal("expected a non-zero address")
	}
}

func TestAddModuleRejectsUnfinalizedFunction(t *testing.T) {
	m, _ := newTestModule()
	f := m.NewFunction("unfinished", m.TypeI32, nil, false)
	b := f.NewBlock("entry")
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpImmI64(1, m.TypeI32)}})
	// Deliberately skip finalize.Func.

	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if err := j.AddModule(m); err == nil {
		t.Fatal("expected an error for a non-finalized function")
	}
}

func TestGetFunctionMissingReturnsFalse(t *testing.T) {
	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if _, ok := j.GetFunction("nope"); ok {
		t.Fatal("expected GetFunction to report false for an undefined symbol")
	}
}

func TestModuleDefinedSymbolWinsOverExternal(t *testing.T) {
	m, _ := newTestModule()
	buildConst42(m, "shared")

	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	const externalSentinel = uintptr(0xdeadbeef)
	j.AddSymbol("shared", externalSentinel)
	if err := j.AddModule(m); err != nil {
		t.Fatalf("AddModule: %v", err)
	}

	addr, ok := j.GetFunction("shared")
	if !ok {
		t.Fatal("expected shared to be defined")
	}
	if addr == externalSentinel {
		t.Fatal("expected the module-defined symbol to win over the pre-bound external one")
	}
}

// buildCaller builds a function in m that calls callee (by name, via
// an interned global ref within m's own symbol table) and returns its
// result, mirroring test_jit.c's use_inc wrapper.
func buildCaller(m *ir.Module, name, calleeName string) *ir.Function {
	calleeID := m.InternSymbol(calleeName)
	f := m.NewFunction(name, m.TypeI32, []*ir.Type{m.TypeI32}, false)
	b := f.NewBlock("entry")
	dest := f.NewVReg()
	b.Append(&ir.Inst{
		Op: ir.OpCall, Type: m.TypeI32, Dest: dest,
		Ops: []ir.Operand{
			ir.OpGlobal(ir.GlobalID(calleeID), m.TypePtr),
			ir.OpVReg(f.ParamVRegs[0], m.TypeI32),
		},
	})
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(dest, m.TypeI32)}})
	finalize.Func(f)
	return f
}

func buildIncrement(m *ir.Module, name string) *ir.Function {
	f := m.NewFunction(name, m.TypeI32, []*ir.Type{m.TypeI32}, false)
	b := f.NewBlock("entry")
	dest := f.NewVReg()
	b.Append(&ir.Inst{
		Op: ir.OpAdd, Type: m.TypeI32, Dest: dest,
		Ops: []ir.Operand{ir.OpVReg(f.ParamVRegs[0], m.TypeI32), ir.OpImmI64(1, m.TypeI32)},
	})
	b.Append(&ir.Inst{Op: ir.OpRet, Type: m.TypeI32, Ops: []ir.Operand{ir.OpVReg(dest, m.TypeI32)}})
	finalize.Func(f)
	return f
}

func TestAddModuleResolvesDefinitionAddedEarlier(t *testing.T) {
	incMod, _ := newTestModule()
	buildIncrement(incMod, "inc")

	useMod, _ := newTestModule()
	buildCaller(useMod, "use_inc", "inc")

	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if err := j.AddModule(incMod); err != nil {
		t.Fatalf("AddModule(incMod): %v", err)
	}
	if err := j.AddModule(useMod); err != nil {
		t.Fatalf("AddModule(useMod): %v", err)
	}
	if _, ok := j.GetFunction("use_inc"); !ok {
		t.Fatal("expected use_inc to be defined")
	}
}

func TestAddModuleFailsOnUnresolvedForwardReferenceOutsideBatch(t *testing.T) {
	useMod, _ := newTestModule()
	buildCaller(useMod, "use_inc", "inc")

	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if err := j.AddModule(useMod); err == nil {
		t.Fatal("expected an error: inc is not yet defined and there is no open batch")
	}
}

func TestBatchedUpdateResolvesForwardReferenceAcrossModules(t *testing.T) {
	// useMod is added before incMod; only the batch's deferred
	// fix-up pass lets this succeed (spec.md §4.10).
	useMod, _ := newTestModule()
	buildCaller(useMod, "use_inc", "inc")

	incMod, _ := newTestModule()
	buildIncrement(incMod, "inc")

	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if err := j.BeginUpdate(); err != nil {
		t.Fatalf("BeginUpdate: %v", err)
	}
	if err := j.AddModule(useMod); err != nil {
		t.Fatalf("AddModule(useMod) inside batch: %v", err)
	}
	if err := j.AddModule(incMod); err != nil {
		t.Fatalf("AddModule(incMod) inside batch: %v", err)
	}
	if err := j.EndUpdate(); err != nil {
		t.Fatalf("EndUpdate: %v", err)
	}

	if _, ok := j.GetFunction("use_inc"); !ok {
		t.Fatal("expected use_inc to be defined after the batch commits")
	}
	if _, ok := j.GetFunction("inc"); !ok {
		t.Fatal("expected inc to be defined after the batch commits")
	}
}

func TestBatchedUpdateRollsBackOnUnresolvedSymbol(t *testing.T) {
	useMod, _ := newTestModule()
	buildCaller(useMod, "use_missing", "never_defined")

	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if err := j.BeginUpdate(); err != nil {
		t.Fatalf("BeginUpdate: %v", err)
	}
	if err := j.AddModule(useMod); err != nil {
		t.Fatalf("AddModule inside batch: %v", err)
	}
	if err := j.EndUpdate(); err == nil {
		t.Fatal("expected EndUpdate to fail: never_defined is never added to the batch")
	}

	if _, ok := j.GetFunction("use_missing"); ok {
		t.Fatal("expected the failed batch to leave no trace of use_missing")
	}
}

func TestEndUpdateWithoutBeginUpdateErrors(t *testing.T) {
	j, err := Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	if err := j.EndUpdate(); err == nil {
		t.Fatal("expected an error for end_update without begin_update")
	}
}

func TestCreateForTargetRejectsUnknownName(t *testing.T) {
	if _, err := CreateForTarget("not-a-real-target"); err == nil {
		t.Fatal("expected an error for an unregistered target name")
	}
}

func TestCopyPatchModeCompilesOnX86_64Target(t *testing.T) {
	j, err := CreateForTarget("x86_64")
	if err != nil {
		t.Fatalf("CreateForTarget: %v", err)
	}
	defer j.Close()
	j.SetMode(config.ModeCopyPatch)

	m, _ := newTestModule()
	buildConst42(m, "stenciled")

	if err := j.AddModule(m); err != nil {
		t.Fatalf("AddModule: %v", err)
	}
	addr, ok := j.GetFunction("stenciled")
	if !ok || addr == 0 {
		t.Fatal("expected stenciled to be defined with a non-zero address")
	}
}
