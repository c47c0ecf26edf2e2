//go:build unix

package jit

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/krystophny/liric/internal/errs"
)

// library wraps a dlopen handle, the one legitimate cgo boundary in
// this module: POSIX has no pure-Go dynamic-loader API (DESIGN.md).
type library struct {
	handle unsafe.Pointer
	path   string
}

func loadLibrary(path string) (*library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	h := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_GLOBAL)
	if h == nil {
		return nil, errs.New(errs.Backend, "dlopen %s: %s", path, C.GoString(C.dlerror()))
	}
	return &library{handle: h, path: path}, nil
}

func (l *library) lookup(name string) (uintptr, bool) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	sym := C.dlsym(l.handle, cname)
	if sym == nil {
		return 0, false
	}
	return uintptr(sym), true
}

func (l *library) close() error {
	if l.handle == nil {
		return nil
	}
	if C.dlclose(l.handle) != 0 {
		return errs.New(errs.Backend, "dlclose %s: %s", l.path, C.GoString(C.dlerror()))
	}
	l.handle = nil
	return nil
}

// lookupProcessSymbol searches the global process symbol table
// (dlsym(RTLD_DEFAULT, name) in spec.md §4.10's resolution order),
// the last-resort step after explicit add_symbol entries and loaded
// libraries.
func lookupProcessSymbol(name string) (uintptr, bool) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	sym := C.dlsym(C.RTLD_DEFAULT, cname)
	if sym == nil {
		return 0, false
	}
	return uintptr(sym), true
}
