package arena

import (
	"testing"
	"unsafe"
)

func TestAllocZeroesAndAligns(t *testing.T) {
	a := Create(64)
	b := a.Alloc(8, 8)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, v)
		}
	}
	if uintptr(unsafe.Pointer(&b[0]))%8 != 0 {
		t.Fatalf("allocation not 8-byte aligned")
	}
}

func TestAllocGrowsChunkForLargeRequest(t *testing.T) {
	a := Create(16)
	b := a.Alloc(1024, 8)
	if len(b) != 1024 {
		t.Fatalf("got len %d, want 1024", len(b))
	}
}

func TestAllocPointerStability(t *testing.T) {
	a := Create(32)
	first := a.Alloc(8, 8)
	first[0] = 0xAB
	// Force a new chunk.
	_ = a.Alloc(64, 8)
	if first[0] != 0xAB {
		t.Fatalf("earlier allocation was mutated by a later one")
	}
}

func TestStrdup(t *testing.T) {
	a := Create(64)
	s := a.Strdup("hello")
	if s != "hello" {
		t.Fatalf("got %q", s)
	}
}

func TestNewAndNewSlice(t *testing.T) {
	a := Create(64)
	type pair struct{ X, Y int64 }
	p := New[pair](a)
	p.X, p.Y = 1, 2
	sl := NewSlice[pair](a, 3)
	if len(sl) != 3 {
		t.Fatalf("got len %d, want 3", len(sl))
	}
	sl[1].X = 7
	if sl[0].X != 0 || sl[2].X != 0 {
		t.Fatalf("NewSlice elements not independent/zeroed")
	}
}

func TestReleasePanicsOnReuse(t *testing.T) {
	a := Create(64)
	a.Release()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on use-after-release")
		}
	}()
	a.Alloc(1, 1)
}
