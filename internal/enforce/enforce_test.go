package enforce

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/runforge/runforge/internal/runctx"
)

func clearContextEnv(t *testing.T) {
	t.Helper()
	t.Setenv(runctx.EnvRunID, "")
	t.Setenv(runctx.EnvRunToken, "")
	t.Setenv(GovernedEnvKey, "")
	os.Unsetenv(runctx.EnvRunID)
	os.Unsetenv(runctx.EnvRunToken)
	os.Unsetenv(GovernedEnvKey)
}

func TestValidateRunContext(t *testing.T) {
	clearContextEnv(t)
	if ValidateRunContext() {
		t.Error("ValidateRunContext() = true with no context variables")
	}

	t.Setenv(runctx.EnvRunID, "20260101_000000_test_X")
	if ValidateRunContext() {
		t.Error("ValidateRunContext() = true with run token missing")
	}

	t.Setenv(runctx.EnvRunToken, "rf_deadbeef")
	if !ValidateRunContext() {
		t.Error("ValidateRunContext() = false with full context")
	}
}

func TestValidateRunContext_GovernedChild(t *testing.T) {
	clearContextEnv(t)
	t.Setenv(GovernedEnvKey, "1")
	if !ValidateRunContext() {
		t.Error("ValidateRunContext() = false for governed child")
	}
}

func TestGuard_PathAllowed(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard([]string{dir}, func(string, ...any) {})

	if !g.PathAllowed(filepath.Join(dir, "nested", "file.txt")) {
		t.Error("nested path under allowlist rejected")
	}
	if g.PathAllowed("/etc/passwd") {
		t.Error("path outside allowlist accepted")
	}

	open := NewGuard(nil, func(string, ...any) {})
	if !open.PathAllowed("/anywhere") {
		t.Error("empty allowlist should allow everything")
	}
}

func TestGuard_OpenFileLogsButDoesNotBlock(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "data.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var logged []string
	g := NewGuard([]string{allowed}, func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})

	f, err := g.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v, guard must not block", err)
	}
	f.Close()

	if len(logged) != 1 {
		t.Fatalf("logged %d advisories, want 1", len(logged))
	}
}

func TestGuard_CommandAdvisory(t *testing.T) {
	var logged []string
	g := NewGuard(nil, func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})

	g.Command("python3", "analysis.py")
	if len(logged) == 0 {
		t.Error("raw interpreter invocation produced no advisory")
	}

	logged = nil
	g.Command("git", "status")
	if len(logged) != 0 {
		t.Errorf("non-interpreter command logged advisories: %v", logged)
	}

	logged = nil
	g.Command("python3", "-m", "runforge", "run")
	if len(logged) != 0 {
		t.Errorf("governed entry point logged advisories: %v", logged)
	}
}

func TestMonitor_InstallIdempotent(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard([]string{dir}, func(string, ...any) {})
	m := NewMonitor([]string{dir}, g, nil)

	if err := m.Install(); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := m.Install(); err != nil {
		t.Errorf("second Install() error = %v, want nil", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() on closed monitor error = %v", err)
	}
}

func TestCheckThrowawayPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	src := "import os\nprint('debug')\n# TODO fix this\nx = eval(expr)\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	findings := CheckThrowawayPatterns(path)
	if len(findings) != 3 {
		t.Fatalf("findings = %d, want 3: %+v", len(findings), findings)
	}
	if findings[0].Line != 2 {
		t.Errorf("first finding line = %d, want 2", findings[0].Line)
	}
}

func TestCheckThrowawayPatterns_MissingFile(t *testing.T) {
	if findings := CheckThrowawayPatterns("/no/such/script.py"); findings != nil {
		t.Errorf("findings = %v, want nil for missing file", findings)
	}
}

func TestHasLicenseHeader(t *testing.T) {
	dir := t.TempDir()

	with := filepath.Join(dir, "with.py")
	os.WriteFile(with, []byte("# Copyright 2026 Example Org\n"), 0644)
	if !HasLicenseHeader(with) {
		t.Error("HasLicenseHeader = false for file with Copyright line")
	}

	without := filepath.Join(dir, "without.py")
	os.WriteFile(without, []byte("x = 1\n"), 0644)
	if HasLicenseHeader(without) {
		t.Error("HasLicenseHeader = true for bare file")
	}

	if HasLicenseHeader(filepath.Join(dir, "missing.py")) {
		t.Error("HasLicenseHeader = true for missing file")
	}
}

func TestHasTest(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "check_totals.py")
	os.WriteFile(script, []byte(""), 0644)

	if HasTest(script) {
		t.Error("HasTest = true with no companion test")
	}

	os.WriteFile(filepath.Join(dir, "test_check_totals.py"), []byte(""), 0644)
	if !HasTest(script) {
		t.Error("HasTest = false with test_ companion present")
	}
}

func TestHasPipelineStage(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "export.py")
	os.WriteFile(script, []byte(""), 0644)

	if HasPipelineStage(script) {
		t.Error("HasPipelineStage = true with no pipeline files")
	}

	os.WriteFile(filepath.Join(dir, "dvc.yaml"), []byte("stages: {}\n"), 0644)
	if !HasPipelineStage(script) {
		t.Error("HasPipelineStage = false with dvc.yaml present")
	}
}
