package riscv64

import (
	"fmt"

	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/ir"
)

// Compiler streams riscv64 machine code directly from IR instructions
// (spec.md §4.8) through compile_begin/compile_emit/compile_set_block/
// compile_end, rather than building a machine-instruction DAG first
// like internal/amd64 and internal/arm64 do.
type Compiler struct {
	name     string
	variant  Variant
	buf      []byte
	nextInt  int
	nextFP   int
	vregReg  map[ir.VRegID]Reg
	vregFReg map[ir.VRegID]FReg
	raSaved  bool
}

// CompileBegin starts streaming a new function.
func CompileBegin(name string, variant Variant) *Compiler {
	return &Compiler{
		name:     name,
		variant:  variant,
		vregReg:  make(map[ir.VRegID]Reg),
		vregFReg: make(map[ir.VRegID]FReg),
	}
}

// CompileSetBlock marks the start of a block in the stream. The
// streaming path only ever compiles single-block functions — callers
// reject anything else before streaming begins, so this exists purely
// to mirror the four-verb interface spec.md §4.8 describes.
func (c *Compiler) CompileSetBlock(id ir.BlockID) {}

// CompileEnd finishes streaming and returns the accumulated bytes.
func (c *Compiler) CompileEnd() ([]byte, error) { return c.buf, nil }

// CompileAddPhiCopy is declined unconditionally: the riscv64 streaming
// path does not implement phi lowering (spec.md §4.8).
func (c *Compiler) CompileAddPhiCopy(pc ir.PhiCopy) error {
	return fmt.Errorf("riscv64: phi-copy lowering is declined on the streaming path")
}

func (c *Compiler) emit(w uint32) { c.buf = w32(c.buf, w) }

// assignReg returns v's round-robin temporary register, assigning one
// on first use and caching it for later references (spec.md §4.8).
func (c *Compiler) assignReg(v ir.VRegID) Reg {
	if r, ok := c.vregReg[v]; ok {
		return r
	}
	r := tempPool[c.nextInt%len(tempPool)]
	c.nextInt++
	c.vregReg[v] = r
	return r
}

func (c *Compiler) assignFReg(v ir.VRegID) FReg {
	if r, ok := c.vregFReg[v]; ok {
		return r
	}
	r := fpTempPool[c.nextFP%len(fpTempPool)]
	c.nextFP++
	c.vregFReg[v] = r
	return r
}

// loadImm materializes an arbitrary 64-bit constant via a lui/addiw
// pair for the sign-extended low 32 bits and, when the high 32 bits
// differ from that sign extension, a second pair shifted left by 32
// and added in, the riscv64 analogue of the movz/movk ladder
// internal/arm64 uses for the same purpose.
func (c *Compiler) loadImm(rd Reg, v int64) {
	lo := int32(v)
	hi := int32(v >> 32)
	upper := (lo + 0x800) >> 12
	lower := lo - upper<<12
	if upper != 0 {
		c.emit(lui(rd, upper))
		c.emit(iType(0x1B, 0b000, rd.enc(), rd.enc(), lower)) // addiw
	} else {
		c.emit(addi(rd, X0, lower))
	}
	if lo < 0 {
		hi++ // cancel the all-ones upper half left by sign extension
	}
	if hi != 0 {
		hiUpper := (hi + 0x800) >> 12
		hiLower := hi - hiUpper<<12
		c.emit(lui(Sec, hiUpper))
		c.emit(addi(Sec, Sec, hiLower))
		c.emit(slli(Sec, Sec, 32))
		c.emit(addReg(rd, rd, Sec))
	}
}

func (c *Compiler) regOf(op ir.Operand) (Reg, error) {
	switch op.Kind {
	case ir.ValVReg:
		return c.assignReg(op.VReg), nil
	case ir.ValImmI64:
		r := tempPool[c.nextInt%len(tempPool)]
		c.nextInt++
		c.loadImm(r, op.ImmI64)
		return r, nil
	case ir.ValNull, ir.ValUndef:
		return X0, nil
	case ir.ValGlobal:
		// Resolved to a host address by internal/jit before this runs;
		// reaching here unresolved means object-file emission, where
		// the address is unknown until link time. Load a zero
		// placeholder; no relocation is recorded for it.
		r := tempPool[c.nextInt%len(tempPool)]
		c.nextInt++
		c.loadImm(r, 0)
		return r, nil
	default:
		return 0, fmt.Errorf("riscv64: unsupported operand kind %d on the streaming path", op.Kind)
	}
}

func (c *Compiler) fregOf(op ir.Operand) (FReg, error) {
	if op.Kind != ir.ValVReg {
		return 0, fmt.Errorf("riscv64: unsupported FP operand kind %d on the streaming path", op.Kind)
	}
	return c.assignFReg(op.VReg), nil
}

func isFloatType(t *ir.Type) bool {
	return t != nil && (t.Kind == ir.KindFloat || t.Kind == ir.KindDouble)
}

func isDoubleType(t *ir.Type) bool { return t != nil && t.Kind == ir.KindDouble }

// CompileEmit lowers one instruction, or returns
// codegen.ErrUnsupportedOp when inst falls outside the deliberate
// subset this path handles (spec.md §4.8): integer arithmetic and
// shifts, FP arithmetic when the variant carries F/D, the named cast
// opcodes, calls, and returns.
func (c *Compiler) CompileEmit(inst *ir.Inst) error {
	switch inst.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor,
		ir.OpShl, ir.OpLShr, ir.OpAShr,
		ir.OpSDiv, ir.OpSRem, ir.OpUDiv, ir.OpURem:
		return c.lowerIntBinOp(inst)

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv, ir.OpFNeg:
		if !c.variant.hasFP() {
			return &codegen.ErrUnsupportedOp{Target: "riscv64", Op: inst.Op}
		}
		return c.lowerFPOp(inst)

	case ir.OpSIToFP, ir.OpUIToFP, ir.OpFPToSI, ir.OpFPToUI, ir.OpFPExt, ir.OpFPTrunc:
		if !c.variant.hasFP() {
			return &codegen.ErrUnsupportedOp{Target: "riscv64", Op: inst.Op}
		}
		return c.lowerFPCast(inst)

	case ir.OpSExt, ir.OpZExt, ir.OpTrunc, ir.OpBitcast, ir.OpPtrToInt, ir.OpIntToPtr:
		return c.lowerIntCast(inst)

	case ir.OpCall:
		return c.lowerCall(inst)

	case ir.OpRet:
		return c.lowerRet(inst)
	case ir.OpRetVoid:
		if c.raSaved {
			c.emit(addi(RA, S1, 0))
		}
		c.emit(ret())
		return nil

	default:
		return &codegen.ErrUnsupportedOp{Target: "riscv64", Op: inst.Op}
	}
}

func (c *Compiler) lowerIntBinOp(inst *ir.Inst) error {
	r1, err := c.regOf(inst.Ops[0])
	if err != nil {
		return err
	}
	r2, err := c.regOf(inst.Ops[1])
	if err != nil {
		return err
	}
	rd := c.assignReg(inst.Dest)
	switch inst.Op {
	case ir.OpAdd:
		c.emit(addReg(rd, r1, r2))
	case ir.OpSub:
		c.emit(subReg(rd, r1, r2))
	case ir.OpMul:
		c.emit(mulReg(rd, r1, r2))
	case ir.OpAnd:
		c.emit(andReg(rd, r1, r2))
	case ir.OpOr:
		c.emit(orReg(rd, r1, r2))
	case ir.OpXor:
		c.emit(xorReg(rd, r1, r2))
	case ir.OpShl:
		c.emit(sllReg(rd, r1, r2))
	case ir.OpLShr:
		c.emit(srlReg(rd, r1, r2))
	case ir.OpAShr:
		c.emit(sraReg(rd, r1, r2))
	case ir.OpSDiv:
		c.emit(divReg(rd, r1, r2))
	case ir.OpSRem:
		c.emit(remReg(rd, r1, r2))
	case ir.OpUDiv:
		c.emit(divuReg(rd, r1, r2))
	case ir.OpURem:
		c.emit(remuReg(rd, r1, r2))
	}
	return nil
}

func (c *Compiler) lowerFPOp(inst *ir.Inst) error {
	f1, err := c.fregOf(inst.Ops[0])
	if err != nil {
		return err
	}
	isD := isDoubleType(inst.Type)
	fd := c.assignFReg(inst.Dest)
	if inst.Op == ir.OpFNeg {
		c.emit(fneg(isD, fd, f1))
		return nil
	}
	f2, err := c.fregOf(inst.Ops[1])
	if err != nil {
		return err
	}
	switch inst.Op {
	case ir.OpFAdd:
		c.emit(fadd(isD, fd, f1, f2))
	case ir.OpFSub:
		c.emit(fsub(isD, fd, f1, f2))
	case ir.OpFMul:
		c.emit(fmul(isD, fd, f1, f2))
	case ir.OpFDiv:
		c.emit(fdiv(isD, fd, f1, f2))
	}
	return nil
}

func (c *Compiler) lowerFPCast(inst *ir.Inst) error {
	switch inst.Op {
	case ir.OpSIToFP, ir.OpUIToFP:
		r1, err := c.regOf(inst.Ops[0])
		if err != nil {
			return err
		}
		fd := c.assignFReg(inst.Dest)
		c.emit(fcvtFromInt(isDoubleType(inst.Type), fd, r1, inst.Op == ir.OpUIToFP))
	case ir.OpFPToSI, ir.OpFPToUI:
		f1, err := c.fregOf(inst.Ops[0])
		if err != nil {
			return err
		}
		rd := c.assignReg(inst.Dest)
		c.emit(fcvtToInt(isDoubleType(inst.Ops[0].Type), rd, f1, inst.Op == ir.OpFPToUI))
	case ir.OpFPExt:
		f1, err := c.fregOf(inst.Ops[0])
		if err != nil {
			return err
		}
		fd := c.assignFReg(inst.Dest)
		c.emit(fcvtDS(true, fd, f1))
	case ir.OpFPTrunc:
		f1, err := c.fregOf(inst.Ops[0])
		if err != nil {
			return err
		}
		fd := c.assignFReg(inst.Dest)
		c.emit(fcvtDS(false, fd, f1))
	}
	return nil
}

// lowerIntCast handles every simple integer cast as a plain register
// move: every value on this path already lives in a full 64-bit
// register regardless of its IR width.
func (c *Compiler) lowerIntCast(inst *ir.Inst) error {
	r1, err := c.regOf(inst.Ops[0])
	if err != nil {
		return err
	}
	rd := c.assignReg(inst.Dest)
	c.emit(addi(rd, r1, 0))
	return nil
}

// lowerCall marshals integer and FP arguments into their respective
// AAPCS-equivalent register banks independently, saving ra into s1
// before the first call so the function can still return through it
// (spec.md §4.8).
func (c *Compiler) lowerCall(inst *ir.Inst) error {
	callee := inst.Ops[0]
	args := inst.Ops[1:]

	intIdx, fpIdx := 0, 0
	for _, a := range args {
		if c.variant.hasFP() && isFloatType(a.Type) {
			if fpIdx >= len(ArgFRegs) {
				return fmt.Errorf("riscv64: streaming path does not spill stack-passed FP call arguments")
			}
			f, err := c.fregOf(a)
			if err != nil {
				return err
			}
			c.emit(fmv(isDoubleType(a.Type), ArgFRegs[fpIdx], f))
			fpIdx++
		} else {
			if intIdx >= len(ArgRegs) {
				return fmt.Errorf("riscv64: streaming path does not spill stack-passed call arguments")
			}
			r, err := c.regOf(a)
			if err != nil {
				return err
			}
			c.emit(addi(ArgRegs[intIdx], r, 0))
			intIdx++
		}
	}

	calleeReg, err := c.regOf(callee)
	if err != nil {
		return err
	}
	if !c.raSaved {
		c.emit(addi(S1, RA, 0))
		c.raSaved = true
	}
	c.emit(jalr(RA, calleeReg, 0))

	if inst.Dest != ir.VRegNone {
		if c.variant.hasFP() && isFloatType(inst.Type) {
			fd := c.assignFReg(inst.Dest)
			c.emit(fmv(isDoubleType(inst.Type), fd, FA0))
		} else {
			rd := c.assignReg(inst.Dest)
			c.emit(addi(rd, A0, 0))
		}
	}
	return nil
}

func (c *Compiler) lowerRet(inst *ir.Inst) error {
	if c.variant.hasFP() && isFloatType(inst.Type) {
		f, err := c.fregOf(inst.Ops[0])
		if err != nil {
			return err
		}
		c.emit(fmv(isDoubleType(inst.Type), FA0, f))
	} else {
		r, err := c.regOf(inst.Ops[0])
		if err != nil {
			return err
		}
		c.emit(addi(A0, r, 0))
	}
	if c.raSaved {
		c.emit(addi(RA, S1, 0))
	}
	c.emit(ret())
	return nil
}

// CompileFunction drives the compile_begin/compile_emit/compile_end
// sequence over fn's single block, the convenience entry point
// internal/codegen.Target wraps for this backend.
func CompileFunction(fn *ir.Function, variant Variant) ([]byte, error) {
	if fn.IsDecl {
		return nil, fmt.Errorf("riscv64: cannot stream-compile a declaration-only function %q", fn.Name)
	}
	blocks := fn.BlockArray()
	if len(blocks) != 1 {
		return nil, fmt.Errorf("riscv64: streaming path only supports single-block functions")
	}
	c := CompileBegin(fn.Name, variant)
	b := blocks[0]
	c.CompileSetBlock(b.ID)
	var emitErr error
	b.Insts(func(inst *ir.Inst) bool {
		emitErr = c.CompileEmit(inst)
		return emitErr == nil
	})
	if emitErr != nil {
		return nil, emitErr
	}
	if len(b.PhiCopies) > 0 {
		if err := c.CompileAddPhiCopy(b.PhiCopies[0]); err != nil {
			return nil, err
		}
	}
	return c.CompileEnd()
}
