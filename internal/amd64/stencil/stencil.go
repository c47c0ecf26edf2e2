// Package stencil implements the x86_64 copy-and-patch fast path
// (spec.md §4.9): a small set of functions pre-assembled once at init
// with sentinel placeholder displacements, copied and patched per
// compiled function instead of running full instruction selection.
// Applicable rejects anything outside its narrow supported shape; the
// caller falls back to amd64.Select/Encode whenever it does.
package stencil

import (
	"encoding/binary"
	"errors"

	"github.com/krystophny/liric/internal/amd64"
	"github.com/krystophny/liric/internal/codegen"
	"github.com/krystophny/liric/internal/ir"
)

// Sentinel displacement values scanned for once per template at init
// (spec.md §4.9). None of these ever reach emitted code: every
// occurrence found in a template is a hole Compile patches with a
// real frame-relative offset.
const (
	SentinelSrc0 int32 = 0x11111111
	SentinelSrc1 int32 = 0x22222222
	SentinelDst  int32 = 0x33333333
	SentinelImm  int32 = 0x44444444
)

// ErrNotApplicable is returned by Compile when fn falls outside the
// narrow shape this package handles; callers fall back to full ISel.
var ErrNotApplicable = errors.New("stencil: function not eligible for copy-and-patch")

type key struct {
	op    ir.Opcode
	width uint8
}

// template is one pre-assembled byte sequence plus the byte offsets
// within it where each sentinel was found.
type template struct {
	code []byte
	src0 []int
	src1 []int
	dst  []int
	imm  []int
}

var (
	binTable      = map[key]*template{}
	fusedTable    = map[key]*template{}
	retTable      = map[uint8]*template{}
	retVoid       *template
	prologueTable [7]*template // indexed by parameter count, 0-6 (spec.md §4.9 applicability cap)
)

var binOps = [...]struct {
	op  ir.Opcode
	mop amd64.MOp
}{
	{ir.OpAdd, amd64.MAdd},
	{ir.OpSub, amd64.MSub},
	{ir.OpAnd, amd64.MAnd},
	{ir.OpOr, amd64.MOr},
	{ir.OpXor, amd64.MXor},
}

func init() {
	for _, w := range [...]uint8{4, 8} {
		for _, bo := range binOps {
			registerBin(bo.op, w, bo.mop)
			registerFused(bo.op, w, bo.mop)
		}
		registerRet(w)
	}
	registerRetVoid()
	for n := range prologueTable {
		registerPrologue(n)
	}
}

// registerPrologue builds the push-rbp/mov-rbp-rsp/sub-rsp/param-store
// prologue for a function taking n integer-or-pointer-sized
// parameters, with the frame size left as a SentinelImm hole (spec.md
// §4.9: "0x44444444 -> i32 immediate or frame size") patched per call
// with the function's actual local-slot footprint.
func registerPrologue(n int) {
	insts := []amd64.MInst{
		{Op: amd64.MPush, Dst: amd64.RegOp(amd64.RBP)},
		{Op: amd64.MMov, Dst: amd64.RegOp(amd64.RBP), Src: amd64.RegOp(amd64.RSP), Size: 8},
		{Op: amd64.MSubRSP, Src: amd64.ImmOp(int64(SentinelImm))},
	}
	for i := 0; i < n; i++ {
		disp := int32(-8 * (i + 1))
		insts = append(insts, amd64.MInst{Op: amd64.MMov, Dst: amd64.MemOp(amd64.RBP, disp), Src: amd64.RegOp(amd64.ArgRegs[i]), Size: 8})
	}
	code := mustEncode(insts)
	prologueTable[n] = &template{code: code, imm: scan(code, SentinelImm)}
}

func registerBin(op ir.Opcode, width uint8, mop amd64.MOp) {
	code := mustEncode([]amd64.MInst{
		{Op: amd64.MMov, Dst: amd64.RegOp(amd64.Acc), Src: amd64.MemOp(amd64.RBP, SentinelSrc0), Size: width},
		{Op: amd64.MMov, Dst: amd64.RegOp(amd64.Sec), Src: amd64.MemOp(amd64.RBP, SentinelSrc1), Size: width},
		{Op: mop, Dst: amd64.RegOp(amd64.Acc), Src: amd64.RegOp(amd64.Sec), Size: width},
		{Op: amd64.MMov, Dst: amd64.MemOp(amd64.RBP, SentinelDst), Src: amd64.RegOp(amd64.Acc), Size: width},
	})
	binTable[key{op, width}] = &template{
		code: code,
		src0: scan(code, SentinelSrc0),
		src1: scan(code, SentinelSrc1),
		dst:  scan(code, SentinelDst),
	}
}

// registerFused builds the "op then ret" super-stencil (spec.md §4.9):
// the binary op's result never touches memory, it stays in rax through
// the leave/ret tail.
func registerFused(op ir.Opcode, width uint8, mop amd64.MOp) {
	code := mustEncode([]amd64.MInst{
		{Op: amd64.MMov, Dst: amd64.RegOp(amd64.Acc), Src: amd64.MemOp(amd64.RBP, SentinelSrc0), Size: width},
		{Op: amd64.MMov, Dst: amd64.RegOp(amd64.Sec), Src: amd64.MemOp(amd64.RBP, SentinelSrc1), Size: width},
		{Op: mop, Dst: amd64.RegOp(amd64.Acc), Src: amd64.RegOp(amd64.Sec), Size: width},
		{Op: amd64.MLeave},
		{Op: amd64.MRet},
	})
	fusedTable[key{op, width}] = &template{
		code: code,
		src0: scan(code, SentinelSrc0),
		src1: scan(code, SentinelSrc1),
	}
}

func registerRet(width uint8) {
	code := mustEncode([]amd64.MInst{
		{Op: amd64.MMov, Dst: amd64.RegOp(amd64.RAX), Src: amd64.MemOp(amd64.RBP, SentinelSrc0), Size: width},
		{Op: amd64.MLeave},
		{Op: amd64.MRet},
	})
	retTable[width] = &template{code: code, src0: scan(code, SentinelSrc0)}
}

func registerRetVoid() {
	code := mustEncode([]amd64.MInst{{Op: amd64.MLeave}, {Op: amd64.MRet}})
	retVoid = &template{code: code}
}

func mustEncode(insts []amd64.MInst) []byte {
	code, err := amd64.EncodeSequence(insts)
	if err != nil {
		panic("stencil: " + err.Error())
	}
	return code
}

func scan(code []byte, v int32) []int {
	want := uint32(v)
	var out []int
	for i := 0; i+4 <= len(code); i++ {
		if binary.LittleEndian.Uint32(code[i:i+4]) == want {
			out = append(out, i)
		}
	}
	return out
}

func patchAt(code []byte, offsets []int, v int32) {
	for _, off := range offsets {
		binary.LittleEndian.PutUint32(code[off:off+4], uint32(v))
	}
}

func instantiate(t *template, src0, src1, dst int32) []byte {
	out := make([]byte, len(t.code))
	copy(out, t.code)
	patchAt(out, t.src0, src0)
	patchAt(out, t.src1, src1)
	patchAt(out, t.dst, dst)
	return out
}

func widthOf(t *ir.Type) uint8 {
	if t == nil {
		return 0
	}
	switch t.Kind {
	case ir.KindI32:
		return 4
	case ir.KindI64:
		return 8
	default:
		return 0
	}
}

func isSupportedType(t *ir.Type) bool { return widthOf(t) != 0 }

func supportedOperand(op ir.Operand) bool {
	switch op.Kind {
	case ir.ValVReg, ir.ValImmI64:
		return true
	default:
		return false
	}
}

// Applicable reports whether fn meets every criterion the stencil
// fast path requires (spec.md §4.9): a single block, no vararg, at
// most six parameters, only the restricted opcode/type set below, and
// only vreg or i64-immediate operands. fn must already be finalized.
func Applicable(fn *ir.Function) bool {
	if fn.IsDecl || fn.Vararg {
		return false
	}
	if len(fn.ParamVRegs) > 6 {
		return false
	}
	for _, t := range fn.ParamTypes {
		if !isSupportedType(t) {
			return false
		}
	}
	if !fn.RetType.IsVoid() && !isSupportedType(fn.RetType) {
		return false
	}
	blocks := fn.BlockArray()
	if len(blocks) != 1 {
		return false
	}
	applicable := true
	blocks[0].Insts(func(inst *ir.Inst) bool {
		if !applicableInst(inst) {
			applicable = false
			return false
		}
		return true
	})
	return applicable
}

func applicableInst(inst *ir.Inst) bool {
	switch inst.Op {
	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
		if widthOf(inst.Type) == 0 {
			return false
		}
		for _, op := range inst.Ops {
			if !supportedOperand(op) {
				return false
			}
		}
		return true
	case ir.OpRet:
		return widthOf(inst.Type) != 0 && supportedOperand(inst.Ops[0])
	case ir.OpRetVoid:
		return true
	default:
		return false
	}
}

// operandFrag resolves op to a frame displacement, materializing
// immediates into a fresh scratch slot first since the binary-op
// templates only ever read their operands from memory.
func operandFrag(op ir.Operand, alloc *codegen.StackAllocator) ([]byte, int32, error) {
	switch op.Kind {
	case ir.ValVReg:
		return nil, alloc.Slot(op.VReg), nil
	case ir.ValImmI64:
		disp := alloc.ReserveExtra(8)
		frag, err := amd64.EncodeSequence([]amd64.MInst{
			{Op: amd64.MMovImm, Dst: amd64.RegOp(amd64.Acc), Src: amd64.ImmOp(op.ImmI64)},
			{Op: amd64.MMov, Dst: amd64.MemOp(amd64.RBP, disp), Src: amd64.RegOp(amd64.Acc), Size: 8},
		})
		return frag, disp, err
	default:
		return nil, 0, ErrNotApplicable
	}
}

// prologueCode copies fn's pre-assembled prologue template and patches
// its frame-size sentinel with frame, the only per-call variation a
// fixed parameter-count prologue needs.
func prologueCode(fn *ir.Function, frame uint32) ([]byte, error) {
	n := len(fn.ParamVRegs)
	if n >= len(prologueTable) {
		return nil, ErrNotApplicable
	}
	tmpl := prologueTable[n]
	out := make([]byte, len(tmpl.code))
	copy(out, tmpl.code)
	patchAt(out, tmpl.imm, int32(frame))
	return out, nil
}

// Compile copies and patches the stencil templates matching fn's
// instructions, or returns ErrNotApplicable if fn isn't eligible. fn
// must already be finalized (package finalize).
func Compile(fn *ir.Function) ([]byte, error) {
	if !Applicable(fn) {
		return nil, ErrNotApplicable
	}
	alloc := codegen.NewStackAllocator()
	for _, v := range fn.ParamVRegs {
		alloc.Slot(v)
	}

	var insts []*ir.Inst
	for inst := range fn.BlockArray()[0].Insts {
		insts = append(insts, inst)
	}

	if len(insts) == 2 {
		if code, ok := tryFusedOpRet(insts[0], insts[1], fn, alloc); ok {
			return code, nil
		}
	}

	var body []byte
	for _, inst := range insts {
		switch inst.Op {
		case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
			width := widthOf(inst.Type)
			tmpl, ok := binTable[key{inst.Op, width}]
			if !ok {
				return nil, ErrNotApplicable
			}
			f0, d0, err := operandFrag(inst.Ops[0], alloc)
			if err != nil {
				return nil, err
			}
			f1, d1, err := operandFrag(inst.Ops[1], alloc)
			if err != nil {
				return nil, err
			}
			dst := alloc.Slot(inst.Dest)
			body = append(body, f0...)
			body = append(body, f1...)
			body = append(body, instantiate(tmpl, d0, d1, dst)...)
		case ir.OpRet:
			tmpl, ok := retTable[widthOf(inst.Type)]
			if !ok {
				return nil, ErrNotApplicable
			}
			f0, d0, err := operandFrag(inst.Ops[0], alloc)
			if err != nil {
				return nil, err
			}
			body = append(body, f0...)
			body = append(body, instantiate(tmpl, d0, 0, 0)...)
		case ir.OpRetVoid:
			body = append(body, retVoid.code...)
		default:
			return nil, ErrNotApplicable
		}
	}

	prologue, err := prologueCode(fn, alloc.FrameSize())
	if err != nil {
		return nil, err
	}
	return append(prologue, body...), nil
}

// tryFusedOpRet detects the "dest = binop a, b; ret dest" two-
// instruction shape and emits the super-stencil that keeps the result
// in rax instead of round-tripping it through a stack slot.
func tryFusedOpRet(first, second *ir.Inst, fn *ir.Function, alloc *codegen.StackAllocator) ([]byte, bool) {
	if second.Op != ir.OpRet {
		return nil, false
	}
	if len(second.Ops) != 1 || second.Ops[0].Kind != ir.ValVReg || second.Ops[0].VReg != first.Dest {
		return nil, false
	}
	width := widthOf(first.Type)
	tmpl, ok := fusedTable[key{first.Op, width}]
	if !ok {
		return nil, false
	}
	f0, d0, err := operandFrag(first.Ops[0], alloc)
	if err != nil {
		return nil, false
	}
	f1, d1, err := operandFrag(first.Ops[1], alloc)
	if err != nil {
		return nil, false
	}
	prologue, err := prologueCode(fn, alloc.FrameSize())
	if err != nil {
		return nil, false
	}
	code := append(prologue, f0...)
	code = append(code, f1...)
	code = append(code, instantiate(tmpl, d0, d1, 0)...)
	return code, true
}

// MaxSentinelOccurrences bounds how many holes any one template may
// contain; Design Notes §9 calls for a unit test that guards this
// never silently grows past what Compile's patch loop expects.
const MaxSentinelOccurrences = 4

// SentinelCounts reports every occurrence count recorded in every
// registered template's src0/src1/dst/imm slices, for the guard test.
func SentinelCounts() []int {
	var counts []int
	collect := func(t *template) {
		counts = append(counts, len(t.src0), len(t.src1), len(t.dst), len(t.imm))
	}
	for _, t := range binTable {
		collect(t)
	}
	for _, t := range fusedTable {
		collect(t)
	}
	for _, t := range retTable {
		collect(t)
	}
	for _, t := range prologueTable {
		collect(t)
	}
	return counts
}
