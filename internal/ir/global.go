package ir

// Relocation records a byte offset within a global's initializer bytes
// that must be patched to point at another symbol — pointers to other
// globals or functions embedded inside aggregate constants (spec.md §3).
type Relocation struct {
	Offset     uint64
	SymbolName string
	Addend     int64
}

// Global owns a name, a type, optional raw initializer bytes, and a
// list of relocations against those bytes (spec.md §3).
type Global struct {
	Name       string
	Type       *Type
	InitData   []byte
	IsConst    bool
	IsExternal bool
	ID         GlobalID

	Relocs []Relocation

	Mod *Module
}

// AddReloc appends a relocation to g's list.
func (g *Global) AddReloc(offset uint64, symbol string, addend int64) {
	g.Relocs = append(g.Relocs, Relocation{Offset: offset, SymbolName: symbol, Addend: addend})
}

// ensureInitData grows g.InitData to at least n bytes, zero-filling
// any newly added tail, so aggregate-initializer decoding (parser
// §4.2) can write fields at their natural offset regardless of
// encounter order.
func (g *Global) ensureInitData(n int) {
	if len(g.InitData) >= n {
		return
	}
	grown := make([]byte, n)
	copy(grown, g.InitData)
	g.InitData = grown
}

// WriteAt writes data at byte offset off within g's initializer,
// growing InitData as needed.
func (g *Global) WriteAt(off int, data []byte) {
	g.ensureInitData(off + len(data))
	copy(g.InitData[off:], data)
}
