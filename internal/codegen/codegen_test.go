package codegen

import "testing"

func TestStackAllocatorAssignsDistinctSlots(t *testing.T) {
	a := NewStackAllocator()
	s0 := a.Slot(1)
	s1 := a.Slot(2)
	s0Again := a.Slot(1)

	if s0 == s1 {
		t.Fatalf("expected distinct slots, got %d and %d", s0, s1)
	}
	if s0 != s0Again {
		t.Fatalf("expected stable slot on repeat lookup, got %d then %d", s0, s0Again)
	}
	if s0%8 != 0 || s1%8 != 0 {
		t.Fatalf("expected 8-byte-aligned slots, got %d, %d", s0, s1)
	}
}

func TestFrameSizeRoundsUpTo16(t *testing.T) {
	a := NewStackAllocator()
	a.Slot(1)
	if fs := a.FrameSize(); fs != 16 {
		t.Fatalf("expected one slot to round up to 16, got %d", fs)
	}
	a.Slot(2)
	a.Slot(3)
	if fs := a.FrameSize(); fs != 32 {
		t.Fatalf("expected three slots (24 bytes) to round up to 32, got %d", fs)
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	want := &Target{Name: "fake64", PointerSize: 8}
	r.Register(want)

	got, ok := r.Lookup("fake64")
	if !ok || got != want {
		t.Fatalf("expected to find registered target, got %v, %v", got, ok)
	}
	if _, ok := r.Lookup("nonexistent"); ok {
		t.Fatal("expected lookup miss for unregistered name")
	}
}

func TestFixupTableAccumulates(t *testing.T) {
	var ft FixupTable
	ft.Add(10, 2, FixupRel32)
	ft.Add(20, 3, FixupRel26)
	entries := ft.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 fixups, got %d", len(entries))
	}
	if entries[0].Kind != FixupRel32 || entries[1].Kind != FixupRel26 {
		t.Fatalf("unexpected fixup kinds: %+v", entries)
	}
}
