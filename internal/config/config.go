// Package config parses the LIRIC_COMPILE_MODE environment variable
// and resolves a session's backend choice, adapted from the original
// compile_mode.c/.h's three-mode enum and from-env lookup (spec.md §6).
package config

import (
	"os"

	"github.com/krystophny/liric/internal/errs"
	"golang.org/x/mod/semver"
)

// Mode selects which code-generation strategy a session uses.
type Mode uint8

const (
	// ModeISel is the default: full instruction selection through a
	// target's codegen.Target descriptor.
	ModeISel Mode = iota
	// ModeCopyPatch is the copy-and-patch stencil fast path (x86_64
	// only, spec.md §4.9). "stencil" is accepted as an alias.
	ModeCopyPatch
	// ModeLLVM defers to an external collaborator; absent one, any
	// operation requesting it fails with a Backend error.
	ModeLLVM
)

func (m Mode) String() string {
	switch m {
	case ModeISel:
		return "isel"
	case ModeCopyPatch:
		return "copy_patch"
	case ModeLLVM:
		return "llvm"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode name to a Mode, accepting "stencil" as an
// alias for copy_patch the same way the original parser folds it into
// LR_COMPILE_COPY_PATCH.
func ParseMode(text string) (Mode, error) {
	switch text {
	case "isel":
		return ModeISel, nil
	case "copy_patch", "stencil":
		return ModeCopyPatch, nil
	case "llvm":
		return ModeLLVM, nil
	default:
		return 0, errs.New(errs.Argument, "unknown compile mode %q", text)
	}
}

// EnvVar is the environment variable spec.md §6 names for the
// process-wide default compile mode.
const EnvVar = "LIRIC_COMPILE_MODE"

// ModeFromEnv reads EnvVar and parses it, falling back to ModeISel
// when the variable is unset or unparsable — matching
// lr_compile_mode_from_env's "best effort, default on failure"
// behavior.
func ModeFromEnv() Mode {
	env, ok := os.LookupEnv(EnvVar)
	if !ok {
		return ModeISel
	}
	mode, err := ParseMode(env)
	if err != nil {
		return ModeISel
	}
	return mode
}

// Config bundles a session's resolved compile mode: a session-level
// choice, when set, overrides the environment variable (spec.md §6).
type Config struct {
	Mode      Mode
	modeIsSet bool
}

// Default builds a Config seeded from the environment.
func Default() *Config {
	return &Config{Mode: ModeFromEnv()}
}

// WithBackend overrides c's mode for the rest of the session's
// lifetime, regardless of what LIRIC_COMPILE_MODE says.
func (c *Config) WithBackend(name string) error {
	mode, err := ParseMode(name)
	if err != nil {
		return err
	}
	c.Mode = mode
	c.modeIsSet = true
	return nil
}

// CheckToolVersion rejects combining modules stamped with an
// incompatible major ToolVersion, using semver's major-version
// comparison (spec.md §3's module ToolVersion field, consulted by
// jit.AddModule before linking modules from different builds).
func CheckToolVersion(want, got string) error {
	w, g := normalizeSemver(want), normalizeSemver(got)
	if !semver.IsValid(w) || !semver.IsValid(g) {
		// Non-semver tool versions (e.g. a dev build stamp) are
		// accepted as-is; only a recognizable major-version mismatch
		// is rejected.
		return nil
	}
	if semver.Major(w) != semver.Major(g) {
		return errs.New(errs.Backend, "incompatible module tool version: want major %s, got %s", semver.Major(w), semver.Major(g))
	}
	return nil
}

// normalizeSemver prefixes a bare "0.1.0"-shaped string with "v" if
// missing, since x/mod/semver requires the leading "v".
func normalizeSemver(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}
