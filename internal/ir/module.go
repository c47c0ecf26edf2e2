package ir

import (
	"github.com/krystophny/liric/internal/arena"
	"golang.org/x/crypto/blake2b"
)

// ToolVersion is stamped on every Module created by NewModule. It is
// consulted by internal/jit when linking multiple modules together
// (SPEC_FULL.md §6) to reject mixing incompatible major revisions.
const ToolVersion = "v0.1.0"

// symEntry is one slot in the module's symbol-intern table.
type symEntry struct {
	name string
	hash uint64
}

// Module owns the arena, intrusive lists of functions and globals, a
// symbol-intern table, and the shared primitive types (spec.md §3).
type Module struct {
	Arena *arena.Arena

	ToolVersion string

	funcs    []*Function
	globals  []*Global

	symbols []symEntry
	symIdx  map[uint64][]int // hash -> indices into symbols, for collision chains

	// Shared primitive type singletons.
	TypeVoid   *Type
	TypeI1     *Type
	TypeI8     *Type
	TypeI16    *Type
	TypeI32    *Type
	TypeI64    *Type
	TypeFloat  *Type
	TypeDouble *Type
	TypePtr    *Type
}

// NewModule creates a Module backed by a.
func NewModule(a *arena.Arena) *Module {
	m := &Module{
		Arena:       a,
		ToolVersion: ToolVersion,
		symIdx:      make(map[uint64][]int),
	}
	m.TypeVoid = &Type{Kind: KindVoid}
	m.TypeI1 = &Type{Kind: KindI1}
	m.TypeI8 = &Type{Kind: KindI8}
	m.TypeI16 = &Type{Kind: KindI16}
	m.TypeI32 = &Type{Kind: KindI32}
	m.TypeI64 = &Type{Kind: KindI64}
	m.TypeFloat = &Type{Kind: KindFloat}
	m.TypeDouble = &Type{Kind: KindDouble}
	m.TypePtr = &Type{Kind: KindPtr}
	return m
}

// TypeFunc, TypeArray, and TypeStruct construct compound types. They
// are not deduplicated against existing equal-shape types, matching
// the original allocator's per-call-site construction (spec.md §3).
func (m *Module) TypeFunc(ret *Type, params []*Type, vararg bool) *Type {
	cp := make([]*Type, len(params))
	copy(cp, params)
	return &Type{Kind: KindFunc, Ret: ret, Params: cp, Vararg: vararg}
}

func (m *Module) TypeArray(elem *Type, count uint64) *Type {
	return &Type{Kind: KindArray, Elem: elem, Count: count}
}

func (m *Module) TypeStruct(fields []*Type, packed bool, name string) *Type {
	cp := make([]*Type, len(fields))
	copy(cp, fields)
	return &Type{Kind: KindStruct, Fields: cp, Packed: packed, Name: name}
}

// symbolHash computes a fast content hash for symbol interning, using
// blake2b per SPEC_FULL.md §4.2/DESIGN.md (the pack's buildid-hashing
// concern applied to symbol names instead of file content).
func symbolHash(name string) uint64 {
	sum := blake2b.Sum512([]byte(name))
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(sum[i])
	}
	return h
}

// InternSymbol returns the dense id for name, creating an entry if
// this is the first time name has been interned. Injective: equal
// names map to equal ids, and ids are stable for the module's
// lifetime (spec.md §3 invariant).
func (m *Module) InternSymbol(name string) uint32 {
	h := symbolHash(name)
	for _, idx := range m.symIdx[h] {
		if m.symbols[idx].name == name {
			return uint32(idx)
		}
	}
	id := len(m.symbols)
	m.symbols = append(m.symbols, symEntry{name: name, hash: h})
	m.symIdx[h] = append(m.symIdx[h], id)
	return uint32(id)
}

// SymbolName returns the name for a previously interned id, or "" and
// false if id is out of range.
func (m *Module) SymbolName(id uint32) (string, bool) {
	if int(id) >= len(m.symbols) {
		return "", false
	}
	return m.symbols[id].name, true
}

// NewFunction creates (and appends to m) a function named name with
// the given signature. Parameter vregs occupy ids 1..N in declaration
// order (spec.md §3 invariant) — note vreg 0 is reserved as
// "no-dest", so the first parameter is vreg 1, matching spec.md's
// "Vregs are function-local ... starting at 1".
func (m *Module) NewFunction(name string, ret *Type, params []*Type, vararg bool) *Function {
	f := &Function{
		Name:       name,
		RetType:    ret,
		ParamTypes: append([]*Type(nil), params...),
		Vararg:     vararg,
		Mod:        m,
		IsDecl:     true, // becomes false once the first block is created
	}
	f.Type = m.TypeFunc(ret, params, vararg)
	f.nextVReg = 1
	f.ParamVRegs = make([]VRegID, len(params))
	for i := range params {
		f.ParamVRegs[i] = f.NewVReg()
	}
	m.funcs = append(m.funcs, f)
	return f
}

// DeclareFunction creates an externally-supplied function symbol with
// no body (IsDecl stays true).
func (m *Module) DeclareFunction(name string, ret *Type, params []*Type, vararg bool) *Function {
	f := m.NewFunction(name, ret, params, vararg)
	f.IsDecl = true
	return f
}

// Functions returns the module's functions in declaration order.
func (m *Module) Functions() []*Function { return m.funcs }

// NewGlobal creates (and appends to m) a global named name.
func (m *Module) NewGlobal(name string, t *Type, isConst bool) *Global {
	g := &Global{Name: name, Type: t, IsConst: isConst, Mod: m}
	g.ID = GlobalID(len(m.globals))
	m.globals = append(m.globals, g)
	return g
}

// Globals returns the module's globals in declaration order.
func (m *Module) Globals() []*Global { return m.globals }

// FindFunction returns the function named name, or nil.
func (m *Module) FindFunction(name string) *Function {
	for _, f := range m.funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindGlobal returns the global named name, or nil.
func (m *Module) FindGlobal(name string) *Global {
	for _, g := range m.globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}
