package parser

import (
	"github.com/krystophny/liric/internal/ir"
	"github.com/krystophny/liric/internal/lexer"
)

var binOpFor = map[lexer.Kind]ir.Opcode{
	lexer.Add: ir.OpAdd, lexer.Sub: ir.OpSub, lexer.Mul: ir.OpMul,
	lexer.Sdiv: ir.OpSDiv, lexer.Srem: ir.OpSRem,
	lexer.Udiv: ir.OpUDiv, lexer.Urem: ir.OpURem,
	lexer.And: ir.OpAnd, lexer.Or: ir.OpOr, lexer.Xor: ir.OpXor,
	lexer.Shl: ir.OpShl, lexer.Lshr: ir.OpLShr, lexer.Ashr: ir.OpAShr,
	lexer.Fadd: ir.OpFAdd, lexer.Fsub: ir.OpFSub,
	lexer.Fmul: ir.OpFMul, lexer.Fdiv: ir.OpFDiv,
}

var castOpFor = map[lexer.Kind]ir.Opcode{
	lexer.Sext: ir.OpSExt, lexer.Zext: ir.OpZExt, lexer.Trunc: ir.OpTrunc,
	lexer.Bitcast: ir.OpBitcast, lexer.Ptrtoint: ir.OpPtrToInt, lexer.Inttoptr: ir.OpIntToPtr,
	lexer.Sitofp: ir.OpSIToFP, lexer.Fptosi: ir.OpFPToSI,
	lexer.Fpext: ir.OpFPExt, lexer.Fptrunc: ir.OpFPTrunc,
}

// icmp/fcmp predicate spellings are not reserved keywords (they only
// ever appear immediately after `icmp`/`fcmp`), so the lexer surfaces
// them as bare Ident tokens, except fcmp's true/false, which lex as the
// True/False keywords; match on text instead of Kind.
var icmpPredByText = map[string]ir.ICmpPred{
	"eq": ir.ICmpEQ, "ne": ir.ICmpNE, "sgt": ir.ICmpSGT, "sge": ir.ICmpSGE,
	"slt": ir.ICmpSLT, "sle": ir.ICmpSLE, "ugt": ir.ICmpUGT, "uge": ir.ICmpUGE,
	"ult": ir.ICmpULT, "ule": ir.ICmpULE,
}

var fcmpPredByText = map[string]ir.FCmpPred{
	"false": ir.FCmpFalse, "oeq": ir.FCmpOEQ, "ogt": ir.FCmpOGT, "oge": ir.FCmpOGE,
	"olt": ir.FCmpOLT, "ole": ir.FCmpOLE, "one": ir.FCmpONE, "ord": ir.FCmpORD,
	"ueq": ir.FCmpUEQ, "ugt": ir.FCmpUGT, "uge": ir.FCmpUGE, "ult": ir.FCmpULT,
	"ule": ir.FCmpULE, "une": ir.FCmpUNE, "uno": ir.FCmpUNO, "true": ir.FCmpTrue,
}

func (p *parser) parseInstruction(block *ir.Block) {
	if p.check(lexer.LocalID) {
		saved := p.cur
		savedLex := *p.lex
		p.next()
		if p.check(lexer.Equals) {
			p.next()
			destName := tokName(saved)
			dest := p.resolveVReg(destName)
			p.parseAssignInstruction(block, dest)
			return
		}
		p.cur = saved
		*p.lex = savedLex
	}
	p.parseVoidOrTerminator(block)
}

func (p *parser) parseAssignInstruction(block *ir.Block, dest ir.VRegID) {
	opTok := p.cur.Kind
	p.next()
	p.skipAttrs()

	switch {
	case opTok == lexer.Icmp:
		pred, ok := icmpPredByText[p.cur.Text]
		if !ok {
			p.errorf("expected icmp predicate")
		}
		p.next()
		ty := p.parseType()
		lhs := p.parseOperand(ty)
		p.expect(lexer.Comma)
		rhs := p.parseOperand(ty)
		block.Append(&ir.Inst{Op: ir.OpICmp, Type: p.module.TypeI1, Dest: dest,
			Ops: []ir.Operand{lhs, rhs}, ICmpPred: pred})

	case opTok == lexer.Fcmp:
		pred, ok := fcmpPredByText[p.cur.Text]
		if !ok {
			p.errorf("expected fcmp predicate")
		}
		p.next()
		ty := p.parseType()
		lhs := p.parseOperand(ty)
		p.expect(lexer.Comma)
		rhs := p.parseOperand(ty)
		block.Append(&ir.Inst{Op: ir.OpFCmp, Type: p.module.TypeI1, Dest: dest,
			Ops: []ir.Operand{lhs, rhs}, FCmpPred: pred})

	case opTok == lexer.Alloca:
		p.parseAllocaRest(block, dest)

	case opTok == lexer.Load:
		ty := p.parseType()
		p.expect(lexer.Comma)
		src := p.parseTypedOperand()
		p.skipOptionalAlign()
		block.Append(&ir.Inst{Op: ir.OpLoad, Type: ty, Dest: dest, Ops: []ir.Operand{src}})

	case opTok == lexer.Call:
		p.parseCallRest(block, dest)

	case opTok == lexer.Fneg:
		src := p.parseTypedOperand()
		block.Append(&ir.Inst{Op: ir.OpFNeg, Type: src.Type, Dest: dest, Ops: []ir.Operand{src}})

	case opTok == lexer.Select:
		cond := p.parseTypedOperand()
		p.expect(lexer.Comma)
		tv := p.parseTypedOperand()
		p.expect(lexer.Comma)
		fv := p.parseTypedOperand()
		block.Append(&ir.Inst{Op: ir.OpSelect, Type: tv.Type, Dest: dest,
			Ops: []ir.Operand{cond, tv, fv}})

	case opTok == lexer.Getelementptr:
		p.parseGEPRest(block, dest)

	case opTok == lexer.Phi:
		p.parsePhiRest(block, dest)

	case opTok == lexer.Extractvalue:
		src := p.parseTypedOperand()
		var indices []uint32
		for p.match(lexer.Comma) {
			indices = append(indices, uint32(p.cur.IntVal))
			p.expect(lexer.IntLit)
		}
		_, leaf, _ := ir.AggregateIndexPath(src.Type, indices)
		if leaf == nil {
			leaf = p.module.TypeI64
		}
		block.Append(&ir.Inst{Op: ir.OpExtractValue, Type: leaf, Dest: dest,
			Ops: []ir.Operand{src}, Indices: indices})

	case opTok == lexer.Insertvalue:
		agg := p.parseTypedOperand()
		p.expect(lexer.Comma)
		val := p.parseTypedOperand()
		var indices []uint32
		for p.match(lexer.Comma) {
			indices = append(indices, uint32(p.cur.IntVal))
			p.expect(lexer.IntLit)
		}
		block.Append(&ir.Inst{Op: ir.OpInsertValue, Type: agg.Type, Dest: dest,
			Ops: []ir.Operand{agg, val}, Indices: indices})

	default:
		if binOp, ok := binOpFor[opTok]; ok {
			ty := p.parseType()
			p.skipAttrs()
			lhs := p.parseOperand(ty)
			p.expect(lexer.Comma)
			rhs := p.parseOperand(ty)
			block.Append(&ir.Inst{Op: binOp, Type: ty, Dest: dest, Ops: []ir.Operand{lhs, rhs}})
			return
		}
		if castOp, ok := castOpFor[opTok]; ok {
			src := p.parseTypedOperand()
			p.expect(lexer.To)
			dstTy := p.parseType()
			block.Append(&ir.Inst{Op: castOp, Type: dstTy, Dest: dest, Ops: []ir.Operand{src}})
			return
		}
		if opTok == lexer.Uitofp {
			src := p.parseTypedOperand()
			p.expect(lexer.To)
			dstTy := p.parseType()
			block.Append(&ir.Inst{Op: ir.OpUIToFP, Type: dstTy, Dest: dest, Ops: []ir.Operand{src}})
			return
		}
		if opTok == lexer.Fptoui {
			src := p.parseTypedOperand()
			p.expect(lexer.To)
			dstTy := p.parseType()
			block.Append(&ir.Inst{Op: ir.OpFPToUI, Type: dstTy, Dest: dest, Ops: []ir.Operand{src}})
			return
		}
		p.errorf("unknown instruction")
	}
}

func (p *parser) skipOptionalAlign() {
	if p.match(lexer.Comma) {
		if p.check(lexer.Align) {
			p.next()
			p.next()
		}
	}
}

func (p *parser) parseAllocaRest(block *ir.Block, dest ir.VRegID) {
	ty := p.parseType()
	var countOp ir.Operand
	hasCount := false
	if p.match(lexer.Comma) {
		if p.check(lexer.Align) {
			p.next()
			p.next()
		} else {
			countTy := p.parseType()
			countOp = p.parseOperand(countTy)
			hasCount = true
			if p.match(lexer.Comma) && p.check(lexer.Align) {
				p.next()
				p.next()
			}
		}
	}
	inst := &ir.Inst{Op: ir.OpAlloca, Type: ty, Dest: dest}
	if hasCount {
		inst.Ops = []ir.Operand{countOp}
	}
	block.Append(inst)
}

func (p *parser) skipOptionalCalleeSignature() {
	if p.check(lexer.LParen) {
		p.skipBalancedParens()
		for p.match(lexer.Star) {
		}
		p.skipAttrs()
	}
}

func (p *parser) parseCallRest(block *ir.Block, dest ir.VRegID) {
	retTy := p.parseType()
	p.skipAttrs()
	p.skipOptionalCalleeSignature()
	callee := p.parseOperand(p.module.TypePtr)
	p.expect(lexer.LParen)
	var args []ir.Operand
	if !p.check(lexer.RParen) {
		args = append(args, p.parseTypedOperand())
		for p.match(lexer.Comma) {
			p.skipAttrs()
			args = append(args, p.parseTypedOperand())
		}
	}
	p.expect(lexer.RParen)
	ops := make([]ir.Operand, 0, len(args)+1)
	ops = append(ops, callee)
	ops = append(ops, args...)
	block.Append(&ir.Inst{Op: ir.OpCall, Type: retTy, Dest: dest, Ops: ops})
	p.skipAttrs()
}

func (p *parser) parseGEPRest(block *ir.Block, dest ir.VRegID) {
	p.skipAttrs()
	baseTy := p.parseType()
	p.expect(lexer.Comma)
	var ops []ir.Operand
	first := p.parseTypedOperand()
	ops = append(ops, first)
	for p.match(lexer.Comma) {
		idx := p.parseTypedOperand()
		idx = ir.CanonicalizeGEPIndex(p.module, block, p.curFunc, idx)
		ops = append(ops, idx)
	}
	block.Append(&ir.Inst{Op: ir.OpGEP, Type: baseTy, Dest: dest, Ops: ops})
}

func (p *parser) parsePhiRest(block *ir.Block, dest ir.VRegID) {
	ty := p.parseType()
	var ops []ir.Operand
	for {
		p.expect(lexer.LBracket)
		ops = append(ops, p.parseOperand(ty))
		p.expect(lexer.Comma)
		if p.check(lexer.LocalID) {
			name := tokName(p.cur)
			p.next()
			b := p.resolveBlock(name)
			ops = append(ops, ir.OpBlock(b.ID))
		}
		p.expect(lexer.RBracket)
		if !p.match(lexer.Comma) {
			break
		}
	}
	block.Append(&ir.Inst{Op: ir.OpPhi, Type: ty, Dest: dest, Ops: ops})
}

func (p *parser) parseVoidOrTerminator(block *ir.Block) {
	opTok := p.cur.Kind

	switch opTok {
	case lexer.Ret:
		p.next()
		if p.check(lexer.Void) {
			p.next()
			block.Append(&ir.Inst{Op: ir.OpRetVoid, Type: p.module.TypeVoid})
		} else {
			val := p.parseTypedOperand()
			block.Append(&ir.Inst{Op: ir.OpRet, Type: val.Type, Ops: []ir.Operand{val}})
		}
		return

	case lexer.Br:
		p.next()
		if p.check(lexer.I1) {
			p.next()
			cond := p.parseOperand(p.module.TypeI1)
			p.expect(lexer.Comma)
			p.expect(lexer.Label)
			if p.check(lexer.LocalID) {
				tname := tokName(p.cur)
				p.next()
				tb := p.resolveBlock(tname)
				p.expect(lexer.Comma)
				p.expect(lexer.Label)
				fname := tokName(p.cur)
				p.next()
				fb := p.resolveBlock(fname)
				block.Append(&ir.Inst{Op: ir.OpCondBr,
					Ops: []ir.Operand{cond, ir.OpBlock(tb.ID), ir.OpBlock(fb.ID)}})
			}
		} else {
			p.expect(lexer.Label)
			if p.check(lexer.LocalID) {
				dname := tokName(p.cur)
				p.next()
				db := p.resolveBlock(dname)
				block.Append(&ir.Inst{Op: ir.OpBr, Ops: []ir.Operand{ir.OpBlock(db.ID)}})
			}
		}
		return

	case lexer.Store:
		p.next()
		val := p.parseTypedOperand()
		p.expect(lexer.Comma)
		dst := p.parseTypedOperand()
		p.skipOptionalAlign()
		block.Append(&ir.Inst{Op: ir.OpStore, Type: p.module.TypeVoid, Ops: []ir.Operand{val, dst}})
		return

	case lexer.Unreachable:
		p.next()
		block.Append(&ir.Inst{Op: ir.OpUnreachable, Type: p.module.TypeVoid})
		return

	case lexer.Call:
		p.next()
		p.parseCallRest(block, ir.VRegNone)
		return
	}

	p.errorf("unexpected token '%s' in basic block", opTok.Name())
}
