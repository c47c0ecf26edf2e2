// Package jit implements the embeddable JIT runtime (spec.md §4.10):
// a single W^X executable region, defined/external/library symbol
// tables, and batched cross-module forward-reference resolution.
package jit

import (
	"runtime"

	"github.com/krystophny/liric/internal/amd64/stencil"
	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/config"
	"github.com/krystophny/liric/internal/errs"
	"github.com/krystophny/liric/internal/ir"

	_ "github.com/krystophny/liric/internal/amd64"
	_ "github.com/krystophny/liric/internal/arm64"
	_ "github.com/krystophny/liric/internal/riscv64"
)

func init() {
	bindDefaultHelpers()
}

// Jit owns one W^X executable region, its symbol tables, and an
// optional in-flight batch.
type Jit struct {
	target *codegen.Target
	region *region
	mode   config.Mode

	defined  map[string]int // symbol name -> region offset
	external map[string]uintptr
	libs     []*library

	batch *batchState
}

// SetMode selects the code-generation strategy compileOne attempts,
// mirroring a session's WithBackend/LIRIC_COMPILE_MODE choice
// (spec.md §6).
func (j *Jit) SetMode(m config.Mode) {
	j.mode = m
}

// batchState is the snapshot begin_update takes so end_update can roll
// the region and symbol table back to it atomically on failure.
type batchState struct {
	modules      []*ir.Module
	savedOffset  int
	savedDefined map[string]int
}

// Create builds a Jit targeting the host architecture.
func Create() (*Jit, error) {
	return CreateForTarget(hostTargetName())
}

// CreateForTarget builds a Jit for an explicitly named target
// (spec.md §6's create_for_target(name)). Only the host target can
// actually have its output executed by this process; a non-host
// target is useful for driving a module through ISel/Encode to
// produce object-file bytes (§6's external collaborator surface)
// without ever calling get_function.
func CreateForTarget(name string) (*Jit, error) {
	t, ok := codegen.DefaultRegistry.Lookup(name)
	if !ok {
		return nil, errs.New(errs.Argument, "unknown target %q", name)
	}
	r, err := newRegion()
	if err != nil {
		return nil, err
	}
	return &Jit{
		target:   t,
		region:   r,
		defined:  make(map[string]int),
		external: make(map[string]uintptr),
	}, nil
}

func hostTargetName() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "riscv64":
		return "riscv64"
	default:
		return runtime.GOARCH
	}
}

// AddSymbol binds an explicit host address for name, consulted during
// global-operand resolution ahead of loaded libraries and the process
// symbol table (spec.md §4.10).
func (j *Jit) AddSymbol(name string, addr uintptr) {
	j.external[name] = addr
}

// LoadLibrary opens a dynamic library for lazy symbol lookup, behind
// every add_symbol entry but ahead of the process-global fallback.
func (j *Jit) LoadLibrary(path string) error {
	lib, err := loadLibrary(path)
	if err != nil {
		return err
	}
	j.libs = append(j.libs, lib)
	return nil
}

// BeginUpdate starts a batch: subsequent AddModule calls are queued
// rather than resolved immediately, letting later modules in the
// batch satisfy earlier ones' forward references (spec.md §4.10).
func (j *Jit) BeginUpdate() error {
	if j.batch != nil {
		return errs.New(errs.State, "begin_update called while a batch is already open")
	}
	saved := make(map[string]int, len(j.defined))
	for k, v := range j.defined {
		saved[k] = v
	}
	j.batch = &batchState{savedOffset: j.region.offset, savedDefined: saved}
	return nil
}

// AddModule compiles every non-declaration function of m in order.
// Outside a batch, an operand that cannot be resolved fails the call
// immediately, leaving state unchanged. Inside a batch, m is queued
// and resolved at EndUpdate against the union of every module added
// since BeginUpdate.
func (j *Jit) AddModule(m *ir.Module) error {
	if err := config.CheckToolVersion(ir.ToolVersion, m.ToolVersion); err != nil {
		return err
	}
	if j.batch != nil {
		j.batch.modules = append(j.batch.modules, m)
		return nil
	}
	savedOffset := j.region.offset
	savedDefined := make(map[string]int, len(j.defined))
	for k, v := range j.defined {
		savedDefined[k] = v
	}
	if err := j.compileModules([]*ir.Module{m}, false); err != nil {
		j.region.offset = savedOffset
		j.defined = savedDefined
		return err
	}
	return nil
}

// EndUpdate resolves and compiles every module queued since
// BeginUpdate as one atomic unit. If any symbol remains unresolved,
// the whole batch fails and the region/symbol tables roll back to
// their pre-batch state (spec.md §4.10).
func (j *Jit) EndUpdate() error {
	if j.batch == nil {
		return errs.New(errs.State, "end_update called without a matching begin_update")
	}
	b := j.batch
	j.batch = nil
	if err := j.compileModules(b.modules, true); err != nil {
		j.region.offset = b.savedOffset
		j.defined = b.savedDefined
		return err
	}
	return nil
}

// GetFunction returns the address bound to name, preferring a
// module-defined symbol over a pre-bound external one so
// self-recursive calls always reach the just-compiled code (spec.md
// §4.10).
func (j *Jit) GetFunction(name string) (uintptr, bool) {
	if off, ok := j.defined[name]; ok {
		return j.region.addrOf(off), true
	}
	if addr, ok := j.external[name]; ok {
		return addr, true
	}
	return 0, false
}

// Close releases the executable region and every loaded library.
func (j *Jit) Close() error {
	var firstErr error
	for _, lib := range j.libs {
		if err := lib.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.libs = nil
	if err := j.region.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// compileModules places mods' non-external globals, then resolves and
// compiles every non-declaration function. When batched is true,
// forward references among the modules themselves are deferred to a
// second pass once every peer's address is known (spec.md §4.10's
// "fix-up pass ... using the union of batched modules").
func (j *Jit) compileModules(mods []*ir.Module, batched bool) error {
	for _, m := range mods {
		for _, g := range m.Globals() {
			if g.IsExternal {
				continue
			}
			if _, ok := j.defined[g.Name]; ok {
				continue
			}
			if err := j.region.makeWritable(); err != nil {
				return err
			}
			off, err := j.region.alloc(len(g.InitData))
			if err != nil {
				return err
			}
			j.region.write(off, g.InitData)
			j.defined[g.Name] = off
		}
	}

	type pending struct {
		mod *ir.Module
		fn  *ir.Function
	}
	var fns []pending
	peers := make(map[string]bool)
	for _, m := range mods {
		for _, f := range m.Functions() {
			if f.IsDecl {
				continue
			}
			peers[f.Name] = true
			fns = append(fns, pending{m, f})
		}
	}

	needsFixup := make(map[*ir.Function]bool)
	for _, p := range fns {
		if err := j.resolveOperands(p.mod, p.fn, peers, batched, needsFixup); err != nil {
			return err
		}
		if err := j.compileOne(p.mod, p.fn); err != nil {
			return err
		}
	}

	if batched {
		for _, p := range fns {
			if !needsFixup[p.fn] {
				continue
			}
			if err := j.resolveOperands(p.mod, p.fn, peers, false, needsFixup); err != nil {
				return err
			}
			if err := j.compileOne(p.mod, p.fn); err != nil {
				return err
			}
		}
	}

	return j.region.makeExecutable()
}

// resolveOperands rewrites every global_ref operand in f's
// instructions to an imm_i64 of its resolved address (spec.md
// §4.10 step 1). When allowDeferred is set, a reference to another
// function queued in the same batch that is not yet resolvable is
// left as a global_ref (which ISel lowers to a zero placeholder) and
// f is marked for a second pass instead of failing the call outright.
func (j *Jit) resolveOperands(mod *ir.Module, f *ir.Function, peers map[string]bool, allowDeferred bool, needsFixup map[*ir.Function]bool) error {
	if !f.Finalized() {
		return errs.New(errs.State, "function %q was not finalized before add_module", f.Name)
	}
	for _, inst := range f.LinearInsts() {
		for i := range inst.Ops {
			op := inst.Ops[i]
			if op.Kind != ir.ValGlobal {
				continue
			}
			name, ok := mod.SymbolName(uint32(op.Global))
			if !ok {
				return errs.New(errs.Backend, "function %q references an unknown symbol id %d", f.Name, op.Global)
			}
			addr, resolved := j.resolveSymbol(name)
			if !resolved {
				if allowDeferred && peers[name] {
					needsFixup[f] = true
					continue
				}
				return errs.New(errs.NotFound, "unresolved symbol %q referenced by function %q", name, f.Name)
			}
			inst.Ops[i] = ir.OpImmI64(int64(addr)+op.GlobalOffset, op.Type)
		}
	}
	return nil
}

// resolveSymbol walks spec.md §4.10's search order: module-defined
// symbols, explicit add_symbol entries, loaded libraries, then the
// process-global symbol table.
func (j *Jit) resolveSymbol(name string) (uintptr, bool) {
	if off, ok := j.defined[name]; ok {
		return j.region.addrOf(off), true
	}
	if addr, ok := j.external[name]; ok {
		return addr, true
	}
	for _, lib := range j.libs {
		if addr, ok := lib.lookup(name); ok {
			return addr, true
		}
	}
	if addr, ok := lookupProcessSymbol(name); ok {
		return addr, true
	}
	return 0, false
}

// compileOne runs ISel and the target encoder for f and places the
// resulting bytes at a fresh bump-allocated offset. A recompile (the
// batch fix-up pass) allocates new space rather than patching in
// place — the superseded bytes are simply never referenced again, a
// deliberate simplification given this JIT's region is never resized
// or garbage-collected within a process lifetime.
func (j *Jit) compileOne(mod *ir.Module, f *ir.Function) error {
	code, err := j.compileCode(f, mod)
	if err != nil {
		return err
	}
	if err := j.region.makeWritable(); err != nil {
		return err
	}
	off, err := j.region.alloc(len(code))
	if err != nil {
		return err
	}
	j.region.write(off, code)
	j.defined[f.Name] = off
	return nil
}

// compileCode produces f's machine code. In ModeCopyPatch on the
// x86_64 target it tries the copy-and-patch stencil fast path first
// and falls through to full ISel/Encode transparently whenever the
// stencil table can't cover f (spec.md §4.9's "transparent ISel
// fallback").
func (j *Jit) compileCode(f *ir.Function, mod *ir.Module) ([]byte, error) {
	if j.mode == config.ModeCopyPatch && j.target.Name == "x86_64" && stencil.Applicable(f) {
		code, err := stencil.Compile(f)
		if err == nil {
			return code, nil
		}
	}
	mfunc, err := j.target.ISel(f, mod)
	if err != nil {
		return nil, errs.New(errs.Backend, "ISel for %q: %v", f.Name, err)
	}
	code, err := j.target.Encode(mfunc)
	if err != nil {
		return nil, errs.New(errs.Backend, "encode for %q: %v", f.Name, err)
	}
	return code, nil
}
