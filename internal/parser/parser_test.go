package parser

import (
	"bytes"
	"strings"
	"testing"

	"github.com/krystophny/liric/internal/arena"
	"github.com/krystophny/liric/internal/ir"
)

func parseSrc(t *testing.T, src string) *ir.Module {
	t.Helper()
	a := arena.Create(0)
	m, err := Parse(src, a)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return m
}

func TestParseRetI32(t *testing.T) {
	src := "define i32 @f() {\nentry:\n  ret i32 42\n}\n"
	m := parseSrc(t, src)

	f := m.FindFunction("f")
	if f == nil {
		t.Fatal("function f not found")
	}
	if f.IsDecl {
		t.Fatal("f should not be a declaration")
	}
	if f.RetType.Kind != ir.KindI32 {
		t.Fatalf("expected i32 return type, got %v", f.RetType.Kind)
	}

	var first *ir.Inst
	f.Blocks(func(b *ir.Block) bool {
		first = b.First()
		return false
	})
	if first == nil || first.Op != ir.OpRet {
		t.Fatalf("expected ret as first instruction, got %v", first)
	}
	if first.Ops[0].Kind != ir.ValImmI64 || first.Ops[0].ImmI64 != 42 {
		t.Fatalf("expected immediate 42, got %+v", first.Ops[0])
	}
}

func TestParseFunctionDecl(t *testing.T) {
	m := parseSrc(t, "declare i32 @puts(ptr)\n")
	f := m.FindFunction("puts")
	if f == nil || !f.IsDecl {
		t.Fatal("puts should be a declaration")
	}
	if len(f.ParamTypes) != 1 || f.ParamTypes[0].Kind != ir.KindPtr {
		t.Fatalf("expected one ptr param, got %+v", f.ParamTypes)
	}
}

func TestParseTypedPointerDeclParams(t *testing.T) {
	src := "declare i32 @puts(i8*)\n" +
		"declare void @take_pp(i8**)\n" +
		"declare void @take_arr_ptr([4 x i8]*)\n"
	m := parseSrc(t, src)

	for _, name := range []string{"puts", "take_pp", "take_arr_ptr"} {
		f := m.FindFunction(name)
		if f == nil {
			t.Fatalf("%s not found", name)
		}
		if f.ParamTypes[0].Kind != ir.KindPtr {
			t.Fatalf("%s: expected ptr param, got %v", name, f.ParamTypes[0].Kind)
		}
	}
}

func TestParseAdd(t *testing.T) {
	src := "define i32 @add(i32 %a, i32 %b) {\n" +
		"entry:\n" +
		"  %c = add i32 %a, %b\n" +
		"  ret i32 %c\n" +
		"}\n"
	m := parseSrc(t, src)
	f := m.FindFunction("add")
	if f == nil || len(f.ParamTypes) != 2 {
		t.Fatal("expected add/2 params")
	}

	var insts []*ir.Inst
	f.Blocks(func(b *ir.Block) bool {
		b.Insts(func(inst *ir.Inst) bool {
			insts = append(insts, inst)
			return true
		})
		return true
	})
	if len(insts) != 2 || insts[0].Op != ir.OpAdd || insts[1].Op != ir.OpRet {
		t.Fatalf("unexpected instruction sequence: %+v", insts)
	}
}

func TestParseDotLabelAndCall(t *testing.T) {
	src := "declare i32 @g(i32)\n" +
		"define i32 @f() {\n" +
		".entry:\n" +
		"  %0 = call i32 (i32) @g(i32 41)\n" +
		"  %1 = add i32 %0, 1\n" +
		"  ret i32 %1\n" +
		"}\n"
	m := parseSrc(t, src)
	f := m.FindFunction("f")
	if f == nil {
		t.Fatal("f not found")
	}
	var ops []ir.Opcode
	f.Blocks(func(b *ir.Block) bool {
		if b.Name != ".entry" {
			t.Fatalf("expected block named .entry, got %q", b.Name)
		}
		b.Insts(func(inst *ir.Inst) bool {
			ops = append(ops, inst.Op)
			return true
		})
		return true
	})
	if len(ops) != 3 || ops[0] != ir.OpCall || ops[1] != ir.OpAdd || ops[2] != ir.OpRet {
		t.Fatalf("unexpected ops: %v", ops)
	}
}

// Spec's resolved udiv/urem Open Question requires distinct opcodes —
// a deliberate correction of the original parser's urem->srem mapping
// (see DESIGN.md).
func TestParseUDivURemDistinctFromSigned(t *testing.T) {
	src := "define i32 @f(i32 %a, i32 %b) {\n" +
		"entry:\n" +
		"  %r = urem i32 %a, %b\n" +
		"  %q = udiv i32 %a, %b\n" +
		"  ret i32 %r\n" +
		"}\n"
	m := parseSrc(t, src)
	f := m.FindFunction("f")
	var ops []ir.Opcode
	f.Blocks(func(b *ir.Block) bool {
		b.Insts(func(inst *ir.Inst) bool {
			ops = append(ops, inst.Op)
			return true
		})
		return true
	})
	if ops[0] != ir.OpURem {
		t.Fatalf("expected urem to parse as OpURem, got %v", ops[0])
	}
	if ops[1] != ir.OpUDiv {
		t.Fatalf("expected udiv to parse as OpUDiv, got %v", ops[1])
	}
}

func TestParseCanonicalPhiPairs(t *testing.T) {
	src := "define i32 @f(i1 %cond) {\n" +
		"entry:\n" +
		"  br i1 %cond, label %if.true, label %if.false\n" +
		"if.true:\n" +
		"  br label %merge\n" +
		"if.false:\n" +
		"  br label %merge\n" +
		"merge:\n" +
		"  %x = phi i32 [42, %if.true], [7, %if.false]\n" +
		"  ret i32 %x\n" +
		"}\n"
	m := parseSrc(t, src)
	f := m.FindFunction("f")
	if f == nil {
		t.Fatal("f not found")
	}
	if f.NumBlocks() != 4 {
		t.Fatalf("expected 4 blocks, got %d", f.NumBlocks())
	}

	var mergeBlock *ir.Block
	f.Blocks(func(b *ir.Block) bool {
		if b.Name == "merge" {
			mergeBlock = b
		}
		return true
	})
	if mergeBlock == nil {
		t.Fatal("merge block not found")
	}
	phi := mergeBlock.First()
	if phi == nil || phi.Op != ir.OpPhi {
		t.Fatalf("expected phi as first inst of merge, got %v", phi)
	}
	if len(phi.Ops) != 4 {
		t.Fatalf("expected 2 phi pairs (4 operands), got %d", len(phi.Ops))
	}
}

func TestParseQuotedBlockLabels(t *testing.T) {
	src := "define i32 @main() {\n" +
		"\"entry block\":\n" +
		"  br label %\"exit block\"\n" +
		"\"exit block\":\n" +
		"  ret i32 42\n" +
		"}\n"
	m := parseSrc(t, src)
	f := m.FindFunction("main")
	if f == nil {
		t.Fatal("main not found")
	}
	var names []string
	f.Blocks(func(b *ir.Block) bool {
		names = append(names, b.Name)
		return true
	})
	if len(names) != 2 || names[0] != "entry block" || names[1] != "exit block" {
		t.Fatalf("unexpected block names: %v", names)
	}
}

func TestParseBooleanLiteralsAndAlign(t *testing.T) {
	src := "define void @test_store() {\n" +
		"entry:\n" +
		"  %ptr = alloca i1\n" +
		"  store i1 false, ptr %ptr, align 1\n" +
		"  ret void\n" +
		"}\n"
	m := parseSrc(t, src)
	f := m.FindFunction("test_store")
	if f == nil {
		t.Fatal("test_store not found")
	}
	var ops []ir.Opcode
	f.Blocks(func(b *ir.Block) bool {
		b.Insts(func(inst *ir.Inst) bool {
			ops = append(ops, inst.Op)
			return true
		})
		return true
	})
	if len(ops) != 3 || ops[0] != ir.OpAlloca || ops[1] != ir.OpStore || ops[2] != ir.OpRetVoid {
		t.Fatalf("unexpected ops: %v", ops)
	}
}

func TestParseGlobalScalarInit(t *testing.T) {
	m := parseSrc(t, "@count = global i32 42\n")
	g := m.FindGlobal("count")
	if g == nil {
		t.Fatal("count global not found")
	}
	if len(g.InitData) != 4 {
		t.Fatalf("expected 4 init bytes, got %d", len(g.InitData))
	}
	got := uint32(g.InitData[0]) | uint32(g.InitData[1])<<8 | uint32(g.InitData[2])<<16 | uint32(g.InitData[3])<<24
	if got != 42 {
		t.Fatalf("expected 42 little-endian, got %d", got)
	}
}

func TestParseGlobalPointerReloc(t *testing.T) {
	src := "@msg = constant [4 x i8] c\"hi\\00\\00\"\n" +
		"@msgptr = global ptr @msg\n"
	m := parseSrc(t, src)
	g := m.FindGlobal("msgptr")
	if g == nil {
		t.Fatal("msgptr not found")
	}
	if len(g.Relocs) != 1 || g.Relocs[0].SymbolName != "msg" {
		t.Fatalf("expected one reloc against msg, got %+v", g.Relocs)
	}
}

func TestParseExternalGlobalNoInit(t *testing.T) {
	m := parseSrc(t, "@buf = external global i32\n")
	g := m.FindGlobal("buf")
	if g == nil || !g.IsExternal {
		t.Fatal("expected external global buf")
	}
	if len(g.InitData) != 0 {
		t.Fatalf("external global should carry no initializer bytes, got %d", len(g.InitData))
	}
}

// Dump-then-reparse should reconstruct equivalent control flow (ret
// opcode, operand count, and branch targets by name).
func TestDumpReparseRoundTrip(t *testing.T) {
	src := "define i32 @f(i1 %cond) {\n" +
		"entry:\n" +
		"  br i1 %cond, label %t, label %f\n" +
		"t:\n" +
		"  ret i32 1\n" +
		"f:\n" +
		"  ret i32 0\n" +
		"}\n"
	m := parseSrc(t, src)

	var buf bytes.Buffer
	m.Dump(&buf)
	dumped := buf.String()
	if !strings.Contains(dumped, "label %t") || !strings.Contains(dumped, "label %f") {
		t.Fatalf("dump missing expected branch targets:\n%s", dumped)
	}

	a2 := arena.Create(0)
	m2, err := Parse(dumped, a2)
	if err != nil {
		t.Fatalf("reparse error: %v\ndump was:\n%s", err, dumped)
	}
	f2 := m2.FindFunction("f")
	if f2 == nil {
		t.Fatal("reparsed function f not found")
	}
	if f2.NumBlocks() != 3 {
		t.Fatalf("expected 3 blocks after reparse, got %d", f2.NumBlocks())
	}
}
