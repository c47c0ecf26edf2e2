package jit

import (
	"unsafe"

	"github.com/krystophny/liric/internal/errs"
)

// regionSize is the single executable region's fixed capacity. A
// production embedding would grow this on demand (or allocate a chain
// of regions); a fixed size keeps the bump allocator here a single
// offset, matching the teacher's arena (internal/arena) shape applied
// to executable memory instead of arbitrary objects.
const regionSize = 1 << 20

// region is the JIT's single W^X memory region: mmap/VirtualAlloc'ed
// once at create() time, bump-allocated, and toggled between
// writable and executable around each emission batch (spec.md §4.10).
type region struct {
	mem    []byte
	offset int
	exec   bool
}

func newRegion() (*region, error) {
	mem, err := mapRW(regionSize)
	if err != nil {
		return nil, errs.New(errs.Backend, "mapping JIT region: %v", err)
	}
	return &region{mem: mem}, nil
}

// alloc reserves n 16-byte-aligned bytes and returns their offset
// within the region.
func (r *region) alloc(n int) (int, error) {
	aligned := (r.offset + 15) &^ 15
	if aligned+n > len(r.mem) {
		return 0, errs.New(errs.Backend, "JIT region exhausted: %d bytes requested, %d free", n, len(r.mem)-aligned)
	}
	r.offset = aligned + n
	return aligned, nil
}

// write copies code into the region at off. The caller must have
// called makeWritable first.
func (r *region) write(off int, code []byte) {
	copy(r.mem[off:], code)
}

// base returns the region's start address, used to turn a bump offset
// into an absolute address for symbol resolution and get_function.
func (r *region) base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

func (r *region) addrOf(off int) uintptr { return r.base() + uintptr(off) }

// makeWritable flips the region R/W, undoing a prior makeExecutable.
// A freshly mapped region is already writable, so this is a no-op
// until the first makeExecutable call.
func (r *region) makeWritable() error {
	if !r.exec {
		return nil
	}
	if err := protectRW(r.mem); err != nil {
		return errs.New(errs.Backend, "unprotecting JIT region: %v", err)
	}
	r.exec = false
	return nil
}

// makeExecutable flips the region R/X, satisfying the W^X rule
// platforms like Apple aarch64 enforce (spec.md §4.10), and then calls
// invalidateICache over the whole region; that call performs no cache
// flush (see icache.go).
func (r *region) makeExecutable() error {
	if err := protectRX(r.mem); err != nil {
		return errs.New(errs.Backend, "protecting JIT region executable: %v", err)
	}
	invalidateICache(r.mem)
	r.exec = true
	return nil
}

func (r *region) release() error {
	if r.mem == nil {
		return nil
	}
	err := unmap(r.mem)
	r.mem = nil
	return err
}
