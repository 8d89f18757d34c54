package runctx

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/runforge/runforge/internal/hashing"
	"github.com/runforge/runforge/pkg/models"
)

// fakeRunner serves canned revision lookups without spawning processes.
type fakeRunner struct {
	known   map[string]string
	failAll bool
}

func (f *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return f.Output(ctx, workDir, name, args...)
}

func (f *fakeRunner) Output(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	if f.failAll {
		return nil, errors.New("command failed")
	}
	out, ok := f.known[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(out + "\n"), nil
}

func (f *fakeRunner) LookPath(name string) bool {
	_, ok := f.known[name]
	return ok
}

func newTestContext(t *testing.T, opts Options) *Context {
	t.Helper()
	if opts.Runner == nil {
		opts.Runner = &fakeRunner{known: map[string]string{"git": "abc123"}}
	}
	if opts.EvidenceDir == "" {
		opts.EvidenceDir = t.TempDir()
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RunIDFormat(t *testing.T) {
	c := newTestContext(t, Options{DiagLevel: 3, Env: models.EnvLab})

	parts := strings.Split(c.RunID(), "_")
	if len(parts) != 4 {
		t.Fatalf("RunID = %q, want 4 underscore-separated parts", c.RunID())
	}
	if len(parts[0]) != 8 || len(parts[1]) != 6 {
		t.Errorf("timestamp prefix = %s_%s, want yyyymmdd_hhmmss", parts[0], parts[1])
	}
	if parts[2] != "lab" {
		t.Errorf("environment tag = %q, want lab", parts[2])
	}
	if len(parts[3]) != 26 {
		t.Errorf("suffix = %q, want 26-char ULID", parts[3])
	}
}

func TestNew_RunToken(t *testing.T) {
	c := newTestContext(t, Options{})

	if !strings.HasPrefix(c.RunToken(), "rf_") {
		t.Errorf("RunToken = %q, want rf_ prefix", c.RunToken())
	}
	if len(c.RunToken()) != len("rf_")+16 {
		t.Errorf("RunToken length = %d", len(c.RunToken()))
	}

	other := newTestContext(t, Options{})
	if c.RunToken() == other.RunToken() {
		t.Error("two contexts produced the same token")
	}
}

func TestNew_InvalidDiagLevel(t *testing.T) {
	for _, level := range []int{-1, 10} {
		if _, err := New(Options{DiagLevel: level}); !errors.Is(err, ErrDiagLevel) {
			t.Errorf("New(DiagLevel: %d) error = %v, want ErrDiagLevel", level, err)
		}
	}
}

func TestNew_ExportsEnvironment(t *testing.T) {
	c := newTestContext(t, Options{DiagLevel: 5, Ruleset: "v2"})

	if got := os.Getenv(EnvRunID); got != c.RunID() {
		t.Errorf("%s = %q, want %q", EnvRunID, got, c.RunID())
	}
	if got := os.Getenv(EnvRunToken); got != c.RunToken() {
		t.Errorf("%s = %q", EnvRunToken, got)
	}
	if got := os.Getenv(EnvDiag); got != "5" {
		t.Errorf("%s = %q, want 5", EnvDiag, got)
	}
	if got := os.Getenv(EnvRuleset); got != "v2" {
		t.Errorf("%s = %q, want v2", EnvRuleset, got)
	}
	if got := os.Getenv(EnvGitSHA); got != "abc123" {
		t.Errorf("%s = %q, want abc123", EnvGitSHA, got)
	}
	// dvc is absent from the fake runner's PATH.
	if got := os.Getenv(EnvDVCRev); got != "unknown" {
		t.Errorf("%s = %q, want unknown", EnvDVCRev, got)
	}
}

func TestNew_RevisionFailureNonFatal(t *testing.T) {
	c := newTestContext(t, Options{
		Runner: &fakeRunner{known: map[string]string{"git": ""}, failAll: true},
	})

	contract := c.EnvContract()
	if contract[EnvGitSHA] != "unknown" {
		t.Errorf("GitSHA = %q, want unknown on lookup failure", contract[EnvGitSHA])
	}
}

func TestRegisterArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.txt")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestContext(t, Options{})
	hash, err := c.RegisterArtifact(path, "report", map[string]any{"stage": "export"})
	if err != nil {
		t.Fatalf("RegisterArtifact() error = %v", err)
	}
	if len(hash) != 64 {
		t.Errorf("hash = %q, want 64-char digest", hash)
	}

	summary, err := c.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(summary.Artifacts) != 1 {
		t.Fatalf("Artifacts = %d, want 1", len(summary.Artifacts))
	}
	if summary.Artifacts[0].Hash != hash || summary.Artifacts[0].Type != "report" {
		t.Errorf("artifact record = %+v", summary.Artifacts[0])
	}
	// Registration also leaves an audit entry.
	if len(summary.AuditLog) != 1 || summary.AuditLog[0].Action != "artifact_created" {
		t.Errorf("audit log = %+v", summary.AuditLog)
	}
}

func TestRegisterArtifact_Missing(t *testing.T) {
	c := newTestContext(t, Options{})
	if _, err := c.RegisterArtifact("/no/such/artifact", "file", nil); !errors.Is(err, hashing.ErrNotFound) {
		t.Errorf("error = %v, want hashing.ErrNotFound", err)
	}
}

func TestFinalize_WritesEvidence(t *testing.T) {
	evidence := t.TempDir()
	c := newTestContext(t, Options{EvidenceDir: evidence})

	if err := c.LogOperation("table_export", map[string]any{"table": "facts"}); err != nil {
		t.Fatalf("LogOperation() error = %v", err)
	}

	summary, err := c.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if summary.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %g", summary.DurationSeconds)
	}

	runDir := filepath.Join(evidence, c.RunID())
	for _, name := range []string{"run_summary.json", "artifact_manifest.json", "audit_log.json"} {
		data, err := os.ReadFile(filepath.Join(runDir, name))
		if err != nil {
			t.Fatalf("evidence file %s: %v", name, err)
		}
		if !json.Valid(data) {
			t.Errorf("%s is not valid JSON", name)
		}
	}

	var persisted Summary
	data, _ := os.ReadFile(filepath.Join(runDir, "run_summary.json"))
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal run summary: %v", err)
	}
	if persisted.RunID != c.RunID() {
		t.Errorf("persisted RunID = %q, want %q", persisted.RunID, c.RunID())
	}
	if len(persisted.AuditLog) != 1 || persisted.AuditLog[0].Action != "table_export" {
		t.Errorf("persisted audit log = %+v", persisted.AuditLog)
	}
}

func TestFinalize_ExactlyOnce(t *testing.T) {
	c := newTestContext(t, Options{})

	if _, err := c.Finalize(); err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}
	if _, err := c.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize() error = %v, want ErrFinalized", err)
	}
	if err := c.LogOperation("late", nil); !errors.Is(err, ErrFinalized) {
		t.Errorf("LogOperation after finalize = %v, want ErrFinalized", err)
	}
	if _, err := c.RegisterArtifact(os.Args[0], "binary", nil); !errors.Is(err, ErrFinalized) {
		t.Errorf("RegisterArtifact after finalize = %v, want ErrFinalized", err)
	}
}
