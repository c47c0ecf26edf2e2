// Package arena implements a chunked bump allocator for LIRIC's IR.
//
// Every entity belonging to one IR module is allocated from the same
// Arena and shares its lifetime: nothing is freed individually, and the
// arena is released as a whole when the owning module is torn down.
// This keeps IR references pointer-stable for the life of the module
// and makes cloning substructures a matter of copying bytes rather than
// walking an ownership graph.
package arena

import (
	"unsafe"
)

// DefaultChunkSize is used when Create is called with size <= 0.
const DefaultChunkSize = 64 * 1024

type chunk struct {
	buf  []byte
	used int
	next *chunk
}

// Arena is a bump allocator backed by a linked list of byte chunks.
// It is not safe for concurrent use; a LIRIC session is single-threaded
// by design (spec §5) and so is every arena it owns.
type Arena struct {
	head             *chunk
	defaultChunkSize int
	released         bool
}

// Create returns a new Arena whose chunks default to size bytes
// (DefaultChunkSize if size <= 0).
func Create(size int) *Arena {
	if size <= 0 {
		size = DefaultChunkSize
	}
	a := &Arena{defaultChunkSize: size}
	a.head = newChunk(size)
	return a
}

func newChunk(size int) *chunk {
	return &chunk{buf: make([]byte, size)}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// Alloc returns size bytes aligned to align, zero-initialized.
// The returned slice is valid until Release. Allocations larger than
// the arena's default chunk size grow the next chunk to fit, matching
// the C implementation's large-allocation handling.
func (a *Arena) Alloc(size, align int) []byte {
	return a.alloc(size, align)
}

// AllocUninit is present for API parity with the original C arena's
// "skip the memset" hot path. Go always zero-initializes freshly
// allocated memory, so this is identical to Alloc; it exists so callers
// translated from the original C sources keep their call sites
// unchanged and so the intent (this allocation does not need its
// previous contents) stays documented at the call site.
func (a *Arena) AllocUninit(size, align int) []byte {
	return a.alloc(size, align)
}

func (a *Arena) alloc(size, align int) []byte {
	if a.released {
		panic("arena: use after Release")
	}
	if align <= 0 {
		align = 1
	}
	c := a.head
	offset := alignUp(c.used, align)
	if offset+size <= len(c.buf) {
		c.used = offset + size
		return c.buf[offset : offset+size : offset+size]
	}

	need := size + align
	chunkSize := a.defaultChunkSize
	if need > chunkSize {
		chunkSize = need
	}
	nc := newChunk(chunkSize)
	nc.next = a.head
	a.head = nc

	off2 := alignUp(nc.used, align)
	nc.used = off2 + size
	return nc.buf[off2 : off2+size : off2+size]
}

// Strdup copies s into arena-owned storage and returns it as a Go
// string. Go strings are immutable and independently tracked by the
// garbage collector, so unlike the C original this does not make the
// bytes reachable only through the arena — it exists for call-site
// parity with lr_arena_strdup and because some callers (symbol
// interning) want a copy decoupled from a caller-owned buffer that may
// be reused.
func (a *Arena) Strdup(s string) string {
	b := a.alloc(len(s), 1)
	copy(b, s)
	return string(b)
}

// Release drops the arena's chunks. After Release, Alloc/AllocUninit
// panic; any use-after-release is a programming error in the library
// itself (spec §5: ownership is exclusive and cascades from module to
// arena), not a recoverable runtime condition.
func (a *Arena) Release() {
	a.head = nil
	a.released = true
}

// New bump-allocates a zero-valued T from a and returns a pointer to it.
// The pointer is valid until Release.
func New[T any](a *Arena) *T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))
	b := a.alloc(size, align)
	return (*T)(unsafe.Pointer(&b[0]))
}

// NewSlice bump-allocates a zero-valued [n]T from a and returns it as a
// slice with len == cap == n.
func NewSlice[T any](a *Arena, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))
	b := a.alloc(elemSize*n, align)
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}
