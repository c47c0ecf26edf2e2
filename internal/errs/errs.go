// Package errs collects the small error-class sum type shared by the
// session facade, the JIT runtime, and configuration parsing
// (spec.md §7): every user-visible failure outside the parser (which
// keeps its own line:col ParseError) is one of these classes plus a
// single-line diagnostic.
package errs

import "fmt"

// Class tags why an operation failed, mirroring spec.md §7's taxonomy.
type Class uint8

const (
	// Argument: caller violated a precondition (null, empty, out of range).
	Argument Class = iota
	// State: a sequencing rule was broken (emit without a current block,
	// func_end without every block terminated, nested func_begin).
	State
	// Mode: operation incompatible with the session's current mode.
	Mode
	// NotFound: symbol lookup missed after every resolution step.
	NotFound
	// Backend: ISel/encoder/JIT page/library-load failure, including
	// "target does not support this opcode".
	Backend
)

func (c Class) String() string {
	switch c {
	case Argument:
		return "argument"
	case State:
		return "state"
	case Mode:
		return "mode"
	case NotFound:
		return "not found"
	case Backend:
		return "backend"
	default:
		return "unknown"
	}
}

// Error is the error value every public entry point returns on
// failure: a class plus a single-line message, never an exception.
type Error struct {
	Class Class
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

// Kind returns e's class, for errors.As-style call sites that want to
// branch on the failure taxonomy without a type switch on fields.
func (e *Error) Kind() Class { return e.Class }

// New constructs an *Error with a formatted message.
func New(c Class, format string, args ...any) *Error {
	return &Error{Class: c, Msg: fmt.Sprintf(format, args...)}
}
