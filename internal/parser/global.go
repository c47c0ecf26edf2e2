package parser

import (
	"encoding/binary"
	"math"

	"github.com/krystophny/liric/internal/ir"
	"github.com/krystophny/liric/internal/lexer"
)

// parseGlobal handles a top-level `@name = ...` construct: a global
// variable definition/declaration (spec.md §3: "Globals carry raw
// initializer bytes plus a relocation list").
func (p *parser) parseGlobal() {
	name := tokName(p.cur)
	p.next()
	p.expect(lexer.Equals)

	// Linkage/visibility/preemption keywords are bare identifiers in
	// this lexer (e.g. "private", "internal", "hidden") except for the
	// ones given dedicated Kinds; skip any we don't recognize.
	for p.check(lexer.Ident) || p.check(lexer.Dsolocal) {
		p.next()
	}

	isExternal := false
	if p.check(lexer.External) {
		isExternal = true
		p.next()
	}

	isConst := false
	switch {
	case p.check(lexer.Constant):
		isConst = true
		p.next()
	case p.check(lexer.GlobalKw):
		p.next()
	}

	ty := p.parseType()

	g := p.module.NewGlobal(name, ty, isConst)
	g.IsExternal = isExternal
	if _, ok := p.resolveGlobal(name); !ok {
		p.registerGlobal(name, p.module.InternSymbol(name))
	}

	if !isExternal {
		p.parseInitFieldValue(g, 0, ty)
	}

	p.skipAttrs()
	p.skipLine()
}

// parseInitFieldValue decodes one initializer value of type ty at byte
// offset off within g's data, recursing into aggregates (spec.md §3's
// relocation rule: pointer-typed fields referencing @symbol append a
// relocation instead of writing bytes).
func (p *parser) parseInitFieldValue(g *ir.Global, off uint64, ty *ir.Type) {
	switch {
	case p.check(lexer.Zeroinitializer):
		p.next()
		g.WriteAt(int(off), make([]byte, ty.Size()))

	case p.check(lexer.StringLit):
		data := []byte(p.cur.Text)
		p.next()
		g.WriteAt(int(off), data)

	case p.check(lexer.LBrace) || (p.check(lexer.LAngle) && ty != nil && ty.Kind == ir.KindStruct):
		p.parseStructInit(g, off, ty)

	case p.check(lexer.LBracket):
		p.parseArrayInit(g, off, ty)

	case p.check(lexer.Null):
		p.next()
		g.WriteAt(int(off), make([]byte, 8))

	case p.check(lexer.GlobalID):
		name := tokName(p.cur)
		p.next()
		p.internGlobalRef(name)
		g.AddReloc(off, name, 0)

	case p.check(lexer.Getelementptr):
		p.parseConstGEPInit(g, off)

	case p.check(lexer.IntLit):
		if ty.IsFloat() {
			v := math.Float64frombits(uint64(p.cur.IntVal))
			p.next()
			p.writeFloat(g, off, ty, v)
			return
		}
		v := p.cur.IntVal
		p.next()
		p.writeInt(g, off, ty, v)

	case p.check(lexer.FloatLit):
		v := p.cur.FloatVal
		p.next()
		p.writeFloat(g, off, ty, v)

	case p.check(lexer.True):
		p.next()
		g.WriteAt(int(off), []byte{1})

	case p.check(lexer.False):
		p.next()
		g.WriteAt(int(off), []byte{0})

	case p.check(lexer.Undef):
		p.next()

	default:
		p.errorf("expected initializer, got '%s'", p.cur.Kind.Name())
	}
}

func (p *parser) writeInt(g *ir.Global, off uint64, ty *ir.Type, v int64) {
	buf := make([]byte, ty.Size())
	switch ty.Size() {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	}
	g.WriteAt(int(off), buf)
}

func (p *parser) writeFloat(g *ir.Global, off uint64, ty *ir.Type, v float64) {
	if ty.Kind == ir.KindFloat {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		g.WriteAt(int(off), buf)
		return
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	g.WriteAt(int(off), buf)
}

// parseConstGEPInit handles `getelementptr(...)` used as an initializer
// field value: records a relocation against the base symbol with the
// constant byte offset folded into the addend.
func (p *parser) parseConstGEPInit(g *ir.Global, fieldOff uint64) {
	p.expect(lexer.Getelementptr)
	p.skipAttrs()
	wrapped := p.match(lexer.LParen)
	baseTy := p.parseType()
	p.expect(lexer.Comma)

	baseTypedTy := p.parseType()
	p.skipAttrs()
	var baseName string
	if p.check(lexer.GlobalID) {
		baseName = tokName(p.cur)
		p.internGlobalRef(baseName)
		p.next()
	} else {
		p.parseOperand(baseTypedTy)
	}

	var addend int64
	cur := baseTy
	first := true
	for p.match(lexer.Comma) {
		idxTy := p.parseType()
		idx := p.cur
		isImm := p.check(lexer.IntLit)
		p.next()
		_ = idxTy
		if isImm {
			if first {
				addend += idx.IntVal * int64(cur.Size())
			} else {
				switch cur.Kind {
				case ir.KindStruct:
					addend += int64(cur.FieldOffset(uint32(idx.IntVal)))
					if int(idx.IntVal) < len(cur.Fields) {
						cur = cur.Fields[idx.IntVal]
					}
				case ir.KindArray:
					addend += idx.IntVal * int64(cur.Elem.Size())
					cur = cur.Elem
				}
			}
		}
		first = false
	}
	if wrapped {
		p.expect(lexer.RParen)
	}
	if baseName != "" {
		g.AddReloc(fieldOff, baseName, addend)
	}
}

func (p *parser) parseStructInit(g *ir.Global, off uint64, ty *ir.Type) {
	packed := p.check(lexer.LAngle)
	if packed {
		p.next()
	}
	p.expect(lexer.LBrace)
	i := 0
	if !p.check(lexer.RBrace) {
		for {
			fieldTy := p.parseType()
			var fieldOff uint64
			if ty != nil && ty.Kind == ir.KindStruct && i < len(ty.Fields) {
				fieldOff = ty.FieldOffset(uint32(i))
			}
			p.parseInitFieldValue(g, off+fieldOff, fieldTy)
			i++
			if !p.match(lexer.Comma) {
				break
			}
		}
	}
	p.expect(lexer.RBrace)
	if packed {
		p.expect(lexer.RAngle)
	}
}

func (p *parser) parseArrayInit(g *ir.Global, off uint64, ty *ir.Type) {
	p.expect(lexer.LBracket)
	var elemTy *ir.Type
	if ty != nil && ty.Kind == ir.KindArray {
		elemTy = ty.Elem
	}
	i := uint64(0)
	if !p.check(lexer.RBracket) {
		for {
			et := p.parseType()
			if elemTy == nil {
				elemTy = et
			}
			p.parseInitFieldValue(g, off+i*elemTy.Size(), et)
			i++
			if !p.match(lexer.Comma) {
				break
			}
		}
	}
	p.expect(lexer.RBracket)
}
