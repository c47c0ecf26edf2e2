package parser

import (
	"strconv"

	"github.com/krystophny/liric/internal/ir"
	"github.com/krystophny/liric/internal/lexer"
)

func (p *parser) parseParamType() *ir.Type {
	t := p.parseType()
	p.skipAttrs()
	return t
}

func (p *parser) parseFunctionDef(isDecl bool) {
	p.skipAttrs()
	retType := p.parseType()

	if !p.check(lexer.GlobalID) {
		p.errorf("expected function name")
		return
	}
	name := tokName(p.cur)
	if _, ok := p.resolveGlobal(name); !ok {
		p.registerGlobal(name, p.module.InternSymbol(name))
	}
	p.next()

	p.expect(lexer.LParen)
	var params []*ir.Type
	var paramNames []string
	vararg := false
	if !p.check(lexer.RParen) {
		if p.check(lexer.Ellipsis) {
			vararg = true
			p.next()
		} else {
			pt := p.parseParamType()
			params = append(params, pt)
			paramNames = append(paramNames, p.maybeParamName())
			for p.match(lexer.Comma) {
				if p.check(lexer.Ellipsis) {
					vararg = true
					p.next()
					break
				}
				p.skipAttrs()
				pt := p.parseParamType()
				params = append(params, pt)
				paramNames = append(paramNames, p.maybeParamName())
			}
		}
	}
	p.expect(lexer.RParen)

	p.skipAttrs()
	// unnamed_addr / local_unnamed_addr surface as bare Ident tokens
	// and are consumed by skipAttrs' generic bare-identifier fallback.
	p.skipAttrs()

	var f *ir.Function
	if isDecl {
		f = p.module.DeclareFunction(name, retType, params, vararg)
	} else {
		f = p.module.NewFunction(name, retType, params, vararg)
	}
	p.funcs[name] = f

	if !isDecl {
		p.parseFunctionBody(f, paramNames)
	}
}

func (p *parser) maybeParamName() string {
	if p.check(lexer.LocalID) {
		name := tokName(p.cur)
		p.next()
		return name
	}
	return ""
}

func (p *parser) parseFunctionBody(f *ir.Function, paramNames []string) {
	p.curFunc = f
	p.vregs = p.vregs[:0]
	p.blocks = p.blocks[:0]

	for i, name := range paramNames {
		alias := name
		if alias == "" {
			alias = strconv.Itoa(i)
		}
		p.vregs = append(p.vregs, vregEntry{alias, f.ParamVRegs[i]})
	}

	p.expect(lexer.LBrace)

	var curBlock *ir.Block

	for !p.check(lexer.RBrace) && !p.check(lexer.EOF) && p.err == nil {
		if p.check(lexer.LocalID) || p.check(lexer.StringLit) || p.check(lexer.Ident) {
			saved := p.cur
			savedLex := *p.lex
			p.next()
			if p.check(lexer.Colon) {
				p.next()
				curBlock = p.resolveBlock(tokName(saved))
				continue
			}
			p.cur = saved
			*p.lex = savedLex
		}

		if curBlock == nil {
			curBlock = p.resolveBlock("entry")
		}
		p.parseInstruction(curBlock)
	}

	p.expect(lexer.RBrace)
	p.curFunc = nil
}
