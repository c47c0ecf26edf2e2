package codegen

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble decodes buf as a stream of x86_64 instructions starting
// at pc, returning one GNU-syntax mnemonic line per instruction. It is
// a debug helper for the x86_64 encoder (SPEC_FULL.md §4.5); together
// with FirstDivergingInstruction it lets two code buffers be compared
// by "first diverging instruction" instead of "byte N differs". No
// test in this module calls either helper.
func Disassemble(buf []byte, pc uint64) ([]string, error) {
	var lines []string
	off := 0
	for off < len(buf) {
		inst, err := x86asm.Decode(buf[off:], 64)
		if err != nil {
			return lines, fmt.Errorf("disassemble at offset %d: %w", off, err)
		}
		lines = append(lines, x86asm.GNUSyntax(inst, pc+uint64(off), nil))
		if inst.Len == 0 {
			break
		}
		off += inst.Len
	}
	return lines, nil
}

// FirstDivergingInstruction compares two decoded instruction streams
// and returns the index of the first line that differs, or -1 if they
// are identical (one streams longer than the other counts as
// diverging at the shorter length).
func FirstDivergingInstruction(a, b []byte) (int, string, string, error) {
	la, err := Disassemble(a, 0)
	if err != nil {
		return -1, "", "", err
	}
	lb, err := Disassemble(b, 0)
	if err != nil {
		return -1, "", "", err
	}
	n := len(la)
	if len(lb) < n {
		n = len(lb)
	}
	for i := 0; i < n; i++ {
		if la[i] != lb[i] {
			return i, la[i], lb[i], nil
		}
	}
	if len(la) != len(lb) {
		return n, strings.Join(la[n:], "; "), strings.Join(lb[n:], "; "), nil
	}
	return -1, "", "", nil
}
