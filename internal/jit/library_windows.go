//go:build windows

package jit

import (
	"github.com/krystophny/liric/internal/errs"
	"golang.org/x/sys/windows"
)

// library wraps a LoadLibrary handle.
type library struct {
	handle windows.Handle
	path   string
}

func loadLibrary(path string) (*library, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, errs.New(errs.Backend, "LoadLibrary %s: %v", path, err)
	}
	return &library{handle: h, path: path}, nil
}

func (l *library) lookup(name string) (uintptr, bool) {
	addr, err := windows.GetProcAddress(l.handle, name)
	if err != nil {
		return 0, false
	}
	return addr, true
}

func (l *library) close() error {
	if l.handle == 0 {
		return nil
	}
	err := windows.FreeLibrary(l.handle)
	l.handle = 0
	return err
}

// lookupProcessSymbol has no exact RTLD_DEFAULT equivalent on
// Windows; it searches the main executable's own export table, which
// covers the common case of a host process exposing callback symbols.
func lookupProcessSymbol(name string) (uintptr, bool) {
	h, err := windows.GetModuleHandle("")
	if err != nil {
		return 0, false
	}
	addr, err := windows.GetProcAddress(h, name)
	if err != nil {
		return 0, false
	}
	return addr, true
}
