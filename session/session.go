// Package session implements the public facade bundling a module
// under construction, a JIT, and a current function/block cursor
// (spec.md §4.11), adapted from the original session.c's DIRECT/IR
// mode split and forward-reference deferred-compile-and-retry rule.
package session

import (
	"io"
	"strconv"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/config"
	"github.com/krystophny/liric/internal/errs"
	"github.com/krystophny/liric/internal/ir"
	"github.com/krystophny/liric/internal/jit"
	"github.com/krystophny/liric/internal/parser"
)

// Mode selects when a session's functions are code-generated.
type Mode uint8

const (
	// Direct compiles each function as soon as func_end finalizes it.
	Direct Mode = iota
	// IR only finalizes at func_end; a function is code-generated only
	// by a FuncEnd call with wantAddr set. Lookup does not compile
	// IR-mode functions, and EmitObject/EmitExe return a Backend error.
	IR
)

// Config configures a new Session.
type Config struct {
	Mode Mode
	// Target, if set, pins the session's JIT to a specific backend
	// name (spec.md §6's create_for_target) instead of the host
	// architecture.
	Target string
	// Backend, if set, overrides LIRIC_COMPILE_MODE for this session
	// (spec.md §6's WithBackend).
	Backend string
}

// Session bundles a module under construction, a JIT, and a cursor
// over the function/block currently being built.
type Session struct {
	cfg   Config
	mode  config.Mode
	arena *arena.Arena
	mod   *ir.Module
	jit   *jit.Jit
	aux   []*ir.Module // modules parsed in by CompileLL, owned by this session

	curFunc  *ir.Function
	curBlock *ir.Block
	blocks   []*ir.Block

	// pending holds DIRECT-mode functions whose compile was deferred
	// because they called a not-yet-defined function (spec.md
	// §4.11's "the caller's compile may return null until the callee
	// is later added").
	pending []*ir.Function
}

// Create builds a new Session from cfg.
func Create(cfg Config) (*Session, error) {
	a := arena.Create(0)
	mod := ir.NewModule(a)

	var j *jit.Jit
	var err error
	if cfg.Target != "" {
		j, err = jit.CreateForTarget(cfg.Target)
	} else {
		j, err = jit.Create()
	}
	if err != nil {
		return nil, errs.New(errs.Backend, "jit creation failed: %v", err)
	}

	mode := config.ModeFromEnv()
	j.SetMode(mode)
	s := &Session{cfg: cfg, mode: mode, arena: a, mod: mod, jit: j}
	if cfg.Backend != "" {
		if err := s.WithBackend(cfg.Backend); err != nil {
			j.Close()
			return nil, err
		}
	}
	return s, nil
}

// WithBackend overrides the session's compile mode (spec.md §6),
// regardless of what LIRIC_COMPILE_MODE says.
func (s *Session) WithBackend(name string) error {
	m, err := config.ParseMode(name)
	if err != nil {
		return err
	}
	s.mode = m
	s.jit.SetMode(m)
	return nil
}

// Close releases the session's JIT and arena.
func (s *Session) Close() error {
	err := s.jit.Close()
	s.arena.Release()
	return err
}

// Module returns the module under construction.
func (s *Session) Module() *ir.Module { return s.mod }

// AddSymbol forwards to the underlying JIT (spec.md §6).
func (s *Session) AddSymbol(name string, addr uintptr) {
	s.jit.AddSymbol(name, addr)
}

// LoadLibrary forwards to the underlying JIT.
func (s *Session) LoadLibrary(path string) error {
	return s.jit.LoadLibrary(path)
}

// Declare registers an external function symbol with no body.
func (s *Session) Declare(name string, ret *ir.Type, params []*ir.Type, vararg bool) (*ir.Function, error) {
	if name == "" {
		return nil, errs.New(errs.Argument, "empty function name")
	}
	return s.mod.DeclareFunction(name, ret, params, vararg), nil
}

// FuncBegin starts a new function definition. Only one function may
// be active at a time (spec.md §4.11 / §7's State class).
func (s *Session) FuncBegin(name string, ret *ir.Type, params []*ir.Type, vararg bool) error {
	if name == "" {
		return errs.New(errs.Argument, "empty function name")
	}
	if s.curFunc != nil {
		return errs.New(errs.State, "function %q already active", s.curFunc.Name)
	}
	s.curFunc = s.mod.NewFunction(name, ret, params, vararg)
	s.curBlock = nil
	s.blocks = nil
	return nil
}

// Param returns the vreg bound to parameter idx of the active function.
func (s *Session) Param(idx int) (ir.VRegID, error) {
	if s.curFunc == nil {
		return ir.VRegNone, errs.New(errs.State, "no active function")
	}
	if idx < 0 || idx >= len(s.curFunc.ParamVRegs) {
		return ir.VRegNone, errs.New(errs.Argument, "parameter index %d out of range", idx)
	}
	return s.curFunc.ParamVRegs[idx], nil
}

// Block allocates the next dense block id (0, 1, 2, …) within the
// active function and returns it, matching spec.md §4.11.
func (s *Session) Block() (ir.BlockID, error) {
	if s.curFunc == nil {
		return 0, errs.New(errs.State, "no active function")
	}
	b := s.curFunc.NewBlock(blockLabel(len(s.blocks)))
	s.blocks = append(s.blocks, b)
	return b.ID, nil
}

func blockLabel(id int) string {
	return "bb" + strconv.Itoa(id)
}

// SetBlock makes id the current block for subsequent emission.
func (s *Session) SetBlock(id ir.BlockID) error {
	if s.curFunc == nil {
		return errs.New(errs.State, "no active function")
	}
	if int(id) >= len(s.blocks) {
		return errs.New(errs.Argument, "unknown block id %d", id)
	}
	s.curBlock = s.blocks[id]
	return nil
}

// VReg allocates a fresh vreg in the active function without emitting
// an instruction (used for e.g. phi destinations set up ahead of
// their defining block).
func (s *Session) VReg() (ir.VRegID, error) {
	if s.curFunc == nil {
		return ir.VRegNone, errs.New(errs.State, "no active function")
	}
	return s.curFunc.NewVReg(), nil
}

// Typed operand constructors, thin wrappers over internal/ir's so
// callers never need to import internal/ir directly for the common
// case (spec.md §4.11).
func VReg(v ir.VRegID, t *ir.Type) ir.Operand { return ir.OpVReg(v, t) }
func Imm(v int64, t *ir.Type) ir.Operand      { return ir.OpImmI64(v, t) }
func ImmF(v float64, t *ir.Type) ir.Operand   { return ir.OpImmF64(v, t) }
func BlockRef(id ir.BlockID) ir.Operand       { return ir.OpBlock(id) }
func Undef(t *ir.Type) ir.Operand             { return ir.OpUndef(t) }
func Null(t *ir.Type) ir.Operand              { return ir.OpNull(t) }

// Global resolves name to a module-local operand, interning it into
// the active module's symbol table on first reference — a forward
// reference to a not-yet-defined function or global is legal and
// resolved later by the JIT (spec.md §3, §4.10).
func (s *Session) Global(name string, t *ir.Type) ir.Operand {
	return ir.OpGlobal(ir.GlobalID(s.mod.InternSymbol(name)), t)
}

// DumpIR writes the module's human-readable textual IR to w (spec.md
// §4.11); see ir.Module.Dump for which global initializers re-parse.
func (s *Session) DumpIR(w io.Writer) error {
	s.mod.Dump(w)
	return nil
}

// CompileLL parses text as an auxiliary module (owned by this
// session) and immediately adds it to the JIT.
func (s *Session) CompileLL(text string) (*ir.Module, error) {
	m, err := parser.Parse(text, s.arena)
	if err != nil {
		return nil, err
	}
	s.aux = append(s.aux, m)
	if err := s.jit.AddModule(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CompileBC is a placeholder for bitcode ingestion: this build ships
// no bitcode-reading collaborator, so it always fails with a Backend
// error, mirroring spec.md §6's "if that collaborator is absent, any
// operation requesting [it] returns an error" rule for LLVM mode.
func (s *Session) CompileBC(bytes []byte) (*ir.Module, error) {
	return nil, errs.New(errs.Backend, "no bitcode collaborator is configured")
}

// EmitObject and EmitExe depend on the external object-file
// collaborator spec.md §6 describes (Mach-O/ELF writer consuming the
// function/global iterators and target descriptor below); none is
// wired into this build.
func (s *Session) EmitObject(path string) error {
	return errs.New(errs.Backend, "object-file emission requires an external collaborator, none configured")
}

func (s *Session) EmitExe(path string) error {
	return errs.New(errs.Backend, "executable emission requires an external collaborator, none configured")
}
