package config

import "testing"

func TestParseModeAcceptsStencilAlias(t *testing.T) {
	m, err := ParseMode("stencil")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != ModeCopyPatch {
		t.Fatalf("expected ModeCopyPatch, got %v", m)
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("expected an error for an unknown mode name")
	}
}

func TestModeFromEnvDefaultsToISel(t *testing.T) {
	t.Setenv(EnvVar, "")
	if got := ModeFromEnv(); got != ModeISel {
		t.Fatalf("expected ModeISel, got %v", got)
	}
}

func TestModeFromEnvParsesValidValue(t *testing.T) {
	t.Setenv(EnvVar, "copy_patch")
	if got := ModeFromEnv(); got != ModeCopyPatch {
		t.Fatalf("expected ModeCopyPatch, got %v", got)
	}
}

func TestWithBackendOverridesEnv(t *testing.T) {
	t.Setenv(EnvVar, "isel")
	c := Default()
	if err := c.WithBackend("llvm"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Mode != ModeLLVM {
		t.Fatalf("expected ModeLLVM after override, got %v", c.Mode)
	}
}

func TestCheckToolVersionAcceptsSameMajor(t *testing.T) {
	if err := CheckToolVersion("v0.1.0", "v0.1.3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckToolVersionRejectsDifferentMajor(t *testing.T) {
	if err := CheckToolVersion("v1.0.0", "v2.0.0"); err == nil {
		t.Fatal("expected an error for differing major versions")
	}
}
