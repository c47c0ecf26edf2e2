// Package parser implements the two-phase textual-IR parser described
// in spec.md §4.2: a lexer pass (internal/lexer) feeds a recursive-
// descent parser that builds an internal/ir.Module, tolerating the
// attribute tokens a JIT backend does not need.
package parser

import (
	"fmt"
	"math"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/ir"
	"github.com/krystophny/liric/internal/lexer"
)

// ParseError carries the "line:col: message" diagnostic spec.md §4.2/
// §7 specify for parse failures.
type ParseError struct {
	Line, Col int
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

type vregEntry struct {
	name string
	id   ir.VRegID
}

type blockEntry struct {
	name  string
	block *ir.Block
}

type globalEntry struct {
	name string
	id   uint32
}

type typeEntry struct {
	name string
	typ  *ir.Type
}

// parser holds per-module state plus the per-function symbol tables
// reset at the start of each function body (spec.md §4.2: "Symbol
// tables inside the parser (function-local)").
type parser struct {
	lex *lexer.Lexer
	cur lexer.Token

	arena  *arena.Arena
	module *ir.Module

	err *ParseError

	vregs   []vregEntry
	blocks  []blockEntry
	globals []globalEntry
	types   []typeEntry
	funcs   map[string]*ir.Function

	curFunc *ir.Function
}

// Parse translates src into a new Module backed by a, or returns a
// *ParseError describing the first failure (spec.md §4.2/§7).
func Parse(src string, a *arena.Arena) (*ir.Module, error) {
	p := &parser{
		lex:    lexer.New(src),
		arena:  a,
		module: ir.NewModule(a),
		funcs:  make(map[string]*ir.Function),
	}
	p.next()

	for p.cur.Kind != lexer.EOF && p.err == nil {
		switch {
		case p.cur.Kind == lexer.Define:
			p.next()
			p.parseFunctionDef(false)
		case p.cur.Kind == lexer.Declare:
			p.next()
			p.parseFunctionDef(true)
		case p.cur.Kind == lexer.GlobalID:
			p.parseGlobal()
		case p.cur.Kind == lexer.LocalID:
			p.parseTypeAliasOrSkip()
		default:
			p.skipLine()
		}
	}

	if p.err != nil {
		return nil, p.err
	}
	return p.module, nil
}

func (p *parser) next() {
	p.cur = p.lex.Next()
}

func (p *parser) check(k lexer.Kind) bool { return p.cur.Kind == k }

func (p *parser) match(k lexer.Kind) bool {
	if p.cur.Kind == k {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(k lexer.Kind) {
	if !p.match(k) {
		p.errorf("expected '%s', got '%s'", k.Name(), p.cur.Kind.Name())
	}
}

func (p *parser) errorf(format string, args ...any) {
	if p.err != nil {
		return
	}
	p.err = &ParseError{Line: p.cur.Line, Col: p.cur.Col, Msg: fmt.Sprintf(format, args...)}
}

// tokName strips a %/@ sigil (already stripped by the lexer) — kept
// as a thin accessor for readability at call sites mirroring the
// original's tok_name helper.
func tokName(t lexer.Token) string { return t.Text }

// --- symbol tables ---

func (p *parser) resolveVReg(name string) ir.VRegID {
	for _, e := range p.vregs {
		if e.name == name {
			return e.id
		}
	}
	id := p.curFunc.NewVReg()
	p.vregs = append(p.vregs, vregEntry{name, id})
	return id
}

func (p *parser) resolveBlock(name string) *ir.Block {
	for _, e := range p.blocks {
		if e.name == name {
			return e.block
		}
	}
	b := p.curFunc.NewBlock(name)
	p.blocks = append(p.blocks, blockEntry{name, b})
	return b
}

func (p *parser) resolveGlobal(name string) (uint32, bool) {
	for _, e := range p.globals {
		if e.name == name {
			return e.id, true
		}
	}
	return 0, false
}

func (p *parser) registerGlobal(name string, id uint32) {
	p.globals = append(p.globals, globalEntry{name, id})
}

func (p *parser) internGlobalRef(name string) uint32 {
	if id, ok := p.resolveGlobal(name); ok {
		return id
	}
	id := p.module.InternSymbol(name)
	p.registerGlobal(name, id)
	return id
}

func (p *parser) resolveType(name string) (*ir.Type, bool) {
	for _, e := range p.types {
		if e.name == name {
			return e.typ, true
		}
	}
	return nil, false
}

func (p *parser) registerType(name string, t *ir.Type) {
	p.types = append(p.types, typeEntry{name, t})
}

// --- types ---

func (p *parser) parseType() *ir.Type {
	var ty *ir.Type
	switch p.cur.Kind {
	case lexer.Void:
		p.next()
		ty = p.module.TypeVoid
	case lexer.I1:
		p.next()
		ty = p.module.TypeI1
	case lexer.I8:
		p.next()
		ty = p.module.TypeI8
	case lexer.I16:
		p.next()
		ty = p.module.TypeI16
	case lexer.I32:
		p.next()
		ty = p.module.TypeI32
	case lexer.I64:
		p.next()
		ty = p.module.TypeI64
	case lexer.Float:
		p.next()
		ty = p.module.TypeFloat
	case lexer.Double:
		p.next()
		ty = p.module.TypeDouble
	case lexer.Ptr:
		p.next()
		ty = p.module.TypePtr
	case lexer.LocalID:
		name := tokName(p.cur)
		p.next()
		if resolved, ok := p.resolveType(name); ok {
			ty = resolved
		} else {
			// Forward reference to a %name alias not yet defined —
			// yields ptr until the alias is defined later (spec.md §4.2).
			ty = p.module.TypePtr
		}
	case lexer.LBracket:
		p.next()
		count := p.cur.IntVal
		p.expect(lexer.IntLit)
		p.expect(lexer.X)
		elem := p.parseType()
		p.expect(lexer.RBracket)
		ty = p.module.TypeArray(elem, uint64(count))
	case lexer.LBrace:
		p.next()
		var fields []*ir.Type
		if !p.check(lexer.RBrace) {
			fields = append(fields, p.parseType())
			for p.match(lexer.Comma) {
				fields = append(fields, p.parseType())
			}
		}
		p.expect(lexer.RBrace)
		ty = p.module.TypeStruct(fields, false, "")
	case lexer.LAngle:
		p.next()
		if p.check(lexer.IntLit) {
			count := p.cur.IntVal
			p.expect(lexer.IntLit)
			p.expect(lexer.X)
			elem := p.parseType()
			p.expect(lexer.RAngle)
			ty = p.module.TypeArray(elem, uint64(count))
		} else {
			p.expect(lexer.LBrace)
			var fields []*ir.Type
			if !p.check(lexer.RBrace) {
				fields = append(fields, p.parseType())
				for p.match(lexer.Comma) {
					fields = append(fields, p.parseType())
				}
			}
			p.expect(lexer.RBrace)
			p.expect(lexer.RAngle)
			ty = p.module.TypeStruct(fields, true, "")
		}
	default:
		p.errorf("expected type, got '%s'", p.cur.Kind.Name())
		ty = p.module.TypeVoid
	}

	for {
		if p.match(lexer.Star) {
			ty = p.module.TypePtr
			continue
		}
		if p.check(lexer.LParen) {
			p.next()
			ret := ty
			var params []*ir.Type
			vararg := false
			if !p.check(lexer.RParen) {
				if p.check(lexer.Ellipsis) {
					vararg = true
					p.next()
				} else {
					params = append(params, p.parseType())
					for p.match(lexer.Comma) {
						if p.check(lexer.Ellipsis) {
							vararg = true
							p.next()
							break
						}
						params = append(params, p.parseType())
					}
				}
			}
			p.expect(lexer.RParen)
			ty = p.module.TypeFunc(ret, params, vararg)
			continue
		}
		break
	}
	return ty
}

// --- attributes ---

func isAttrKeyword(k lexer.Kind) bool {
	switch k {
	case lexer.Nsw, lexer.Nuw, lexer.Inbounds, lexer.Nonnull, lexer.Noundef,
		lexer.Signext, lexer.Zeroext, lexer.Nocapture, lexer.Readonly,
		lexer.Writeonly, lexer.Nnan, lexer.Ninf, lexer.Nsz, lexer.Dsolocal,
		lexer.MetadataID, lexer.AttrGroupID:
		return true
	default:
		return false
	}
}

func (p *parser) skipAttrs() {
	for {
		if isAttrKeyword(p.cur.Kind) {
			p.next()
			continue
		}
		if p.cur.Kind == lexer.Align {
			p.next()
			if p.check(lexer.IntLit) {
				p.next()
			}
			continue
		}
		if p.cur.Kind == lexer.Ident {
			p.next()
			if p.check(lexer.LParen) {
				p.skipBalancedParens()
			}
			continue
		}
		break
	}
}

func (p *parser) skipBalanced(open, close lexer.Kind) {
	p.expect(open)
	depth := 1
	for depth > 0 && !p.check(lexer.EOF) {
		switch p.cur.Kind {
		case open:
			depth++
		case close:
			depth--
		}
		p.next()
	}
}

func (p *parser) skipBalancedParens()   { p.skipBalanced(lexer.LParen, lexer.RParen) }
func (p *parser) skipBalancedBraces()   { p.skipBalanced(lexer.LBrace, lexer.RBrace) }
func (p *parser) skipBalancedBrackets() { p.skipBalanced(lexer.LBracket, lexer.RBracket) }

// --- operands ---

func (p *parser) parseTypedOperand() ir.Operand {
	t := p.parseType()
	p.skipAttrs()
	return p.parseOperand(t)
}

func (p *parser) parseOperand(t *ir.Type) ir.Operand {
	switch p.cur.Kind {
	case lexer.IntLit:
		if t != nil && t.IsFloat() {
			// Hex-float literal: the lexer hands back the raw double
			// bit pattern for any bare 0x... literal (spec.md §4.2).
			v := math.Float64frombits(uint64(p.cur.IntVal))
			p.next()
			return ir.OpImmF64(v, t)
		}
		v := p.cur.IntVal
		p.next()
		return ir.OpImmI64(v, t)
	case lexer.FloatLit:
		v := p.cur.FloatVal
		p.next()
		return ir.OpImmF64(v, t)
	case lexer.True:
		p.next()
		return ir.OpImmI64(1, t)
	case lexer.False:
		p.next()
		return ir.OpImmI64(0, t)
	case lexer.Null:
		p.next()
		return ir.OpNull(t)
	case lexer.Undef:
		p.next()
		return ir.OpUndef(t)
	case lexer.Zeroinitializer:
		p.next()
		return ir.OpImmI64(0, t)
	case lexer.StringLit:
		p.next()
		return ir.OpNull(t)
	case lexer.LocalID:
		name := tokName(p.cur)
		p.next()
		return ir.OpVReg(p.resolveVReg(name), t)
	case lexer.GlobalID:
		name := tokName(p.cur)
		p.next()
		return ir.OpGlobal(ir.GlobalID(p.internGlobalRef(name)), t)
	case lexer.Getelementptr:
		return p.parseConstGEPOperand(t)
	case lexer.Bitcast, lexer.Inttoptr, lexer.Ptrtoint, lexer.Sext, lexer.Zext,
		lexer.Trunc, lexer.Sitofp, lexer.Fptosi, lexer.Fpext, lexer.Fptrunc:
		p.next()
		p.expect(lexer.LParen)
		src := p.parseTypedOperand()
		p.expect(lexer.To)
		p.parseType()
		p.expect(lexer.RParen)
		src.Type = t
		return src
	case lexer.LBrace, lexer.LBracket:
		if p.cur.Kind == lexer.LBrace {
			p.skipBalancedBraces()
		} else {
			p.skipBalancedBrackets()
		}
		return ir.OpUndef(t)
	case lexer.LAngle:
		p.next()
		if !p.check(lexer.LBrace) {
			p.errorf("expected '{' after '<' in packed struct literal")
			return ir.OpImmI64(0, t)
		}
		p.skipBalancedBraces()
		p.expect(lexer.RAngle)
		return ir.OpUndef(t)
	default:
		p.errorf("expected operand, got '%s'", p.cur.Kind.Name())
		return ir.OpImmI64(0, t)
	}
}

func (p *parser) parseConstGEPOperand(resultTy *ir.Type) ir.Operand {
	p.expect(lexer.Getelementptr)
	p.skipAttrs()
	wrapped := p.match(lexer.LParen)
	p.parseType()
	p.expect(lexer.Comma)
	base := p.parseTypedOperand()
	for p.match(lexer.Comma) {
		p.parseTypedOperand()
	}
	if wrapped {
		p.expect(lexer.RParen)
	}
	switch base.Kind {
	case ir.ValGlobal:
		return ir.OpGlobal(base.Global, resultTy)
	case ir.ValVReg:
		return ir.OpVReg(base.VReg, resultTy)
	default:
		return ir.OpNull(resultTy)
	}
}

// --- top-level skip/recovery ---

func (p *parser) skipLine() {
	for !p.check(lexer.EOF) {
		atTopLevel := p.cur.Col == 1
		if atTopLevel && (p.check(lexer.Define) || p.check(lexer.Declare) ||
			p.check(lexer.GlobalID) || p.check(lexer.LocalID)) {
			return
		}
		p.next()
	}
}

func (p *parser) parseTypeAliasOrSkip() {
	name := tokName(p.cur)
	p.next()
	if p.match(lexer.Equals) && p.check(lexer.Ident) && p.cur.Text == "type" {
		p.next()
		if p.check(lexer.Ident) && p.cur.Text == "opaque" {
			p.next()
		} else {
			p.registerType(name, p.parseType())
		}
	}
	p.skipLine()
}
