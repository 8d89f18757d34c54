// Package runctx manages governed run contexts: run identity, the
// environment contract inherited by child processes, artifact registration
// with content hashes, the audit trail, and evidence persistence on
// finalization.
package runctx

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/runforge/runforge/internal/exec"
	"github.com/runforge/runforge/internal/hashing"
	"github.com/runforge/runforge/pkg/models"
)

// Environment contract keys exported for child processes.
const (
	EnvRunID    = "RUNFORGE_RUN_ID"
	EnvRunToken = "RUNFORGE_RUN_TOKEN"
	EnvDiag     = "RUNFORGE_DIAG"
	EnvRuleset  = "RUNFORGE_RULESET"
	EnvGitSHA   = "GIT_SHA"
	EnvDVCRev   = "DVC_REV"
)

// DefaultEvidenceDir is where run evidence lands unless overridden.
const DefaultEvidenceDir = "logs/runs"

// revisionTimeout bounds the best-effort git/dvc revision lookups.
const revisionTimeout = 5 * time.Second

var (
	// ErrFinalized indicates the context has reached its terminal state.
	ErrFinalized = errors.New("run context already finalized")
	// ErrDiagLevel indicates a diagnostics level outside 0-9.
	ErrDiagLevel = errors.New("diagnostics level must be between 0 and 9")
)

// ArtifactRecord describes one artifact registered during a run.
type ArtifactRecord struct {
	Path      string         `json:"path"`
	Type      string         `json:"type"`
	Hash      string         `json:"hash"`
	SizeBytes int64          `json:"size_bytes"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditEntry is one event in the run's audit trail.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// Summary is the persisted record of a finalized run.
type Summary struct {
	RunID           string             `json:"run_id"`
	DiagLevel       int                `json:"diag_level"`
	Ruleset         string             `json:"ruleset"`
	Env             models.Environment `json:"env"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time"`
	DurationSeconds float64            `json:"duration_seconds"`
	GitSHA          string             `json:"git_sha"`
	DVCRev          string             `json:"dvc_rev"`
	Artifacts       []ArtifactRecord   `json:"artifacts"`
	AuditLog        []AuditEntry       `json:"audit_log"`
}

// Options configure a new run context. Zero values get sensible defaults;
// Runner defaults to the real process runner.
type Options struct {
	// RunID overrides the generated id (used to resume evidence paths in
	// tests and replays).
	RunID string
	// DiagLevel is the diagnostics level, 0-9.
	DiagLevel int
	// Ruleset is the ruleset version identifier. Defaults to "default".
	Ruleset string
	// Env is the target environment. Defaults to test.
	Env models.Environment
	// EvidenceDir is the root under which run evidence is written.
	EvidenceDir string
	// Runner executes the revision lookups.
	Runner exec.CommandRunner
}

// Context tracks one governed run from creation to finalization.
// Created contexts are immediately active; artifacts and audit entries
// accumulate until Finalize, after which the context is terminal.
type Context struct {
	mu sync.Mutex

	runID     string
	runToken  string
	diagLevel int
	ruleset   string
	env       models.Environment

	evidenceDir string
	startTime   time.Time
	gitSHA      string
	dvcRev      string

	artifacts []ArtifactRecord
	auditLog  []AuditEntry
	finalized bool
}

// New creates a run context, generates identity, captures best-effort
// version-control revisions, and exports the environment contract so child
// processes inherit it.
func New(opts Options) (*Context, error) {
	if opts.DiagLevel < 0 || opts.DiagLevel > 9 {
		return nil, fmt.Errorf("%w: %d", ErrDiagLevel, opts.DiagLevel)
	}
	if opts.Ruleset == "" {
		opts.Ruleset = "default"
	}
	if opts.Env == "" {
		opts.Env = models.EnvTest
	}
	if !opts.Env.Valid() {
		return nil, fmt.Errorf("invalid environment %q", opts.Env)
	}
	if opts.EvidenceDir == "" {
		opts.EvidenceDir = DefaultEvidenceDir
	}
	if opts.Runner == nil {
		opts.Runner = exec.NewRunner()
	}

	c := &Context{
		diagLevel:   opts.DiagLevel,
		ruleset:     opts.Ruleset,
		env:         opts.Env,
		evidenceDir: opts.EvidenceDir,
		startTime:   time.Now().UTC(),
	}

	c.runID = opts.RunID
	if c.runID == "" {
		c.runID = generateRunID(c.env)
	}
	c.runToken = generateRunToken()
	c.gitSHA = revision(opts.Runner, "git", "rev-parse", "HEAD")
	c.dvcRev = revision(opts.Runner, "dvc", "rev-parse", "HEAD")

	c.exportEnvironment()
	return c, nil
}

// generateRunID builds a time-ordered, collision-resistant run id:
// sortable timestamp prefix, environment tag, ULID suffix.
func generateRunID(env models.Environment) string {
	ts := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s", ts, env, ulid.Make().String())
}

// generateRunToken builds a short-lived opaque token. It is random and
// not derivable from any secret.
func generateRunToken() string {
	u := uuid.New()
	return "rf_" + hex.EncodeToString(u[:])[:16]
}

// revision runs a version-control query and returns "unknown" on any
// failure. Revision capture is best-effort and never blocks a run.
func revision(runner exec.CommandRunner, name string, args ...string) string {
	if !runner.LookPath(name) {
		return "unknown"
	}

	ctx, cancel := context.WithTimeout(context.Background(), revisionTimeout)
	defer cancel()

	out, err := runner.Output(ctx, "", name, args...)
	if err != nil {
		return "unknown"
	}
	rev := strings.TrimSpace(string(out))
	if rev == "" {
		return "unknown"
	}
	return rev
}

func (c *Context) exportEnvironment() {
	os.Setenv(EnvRunID, c.runID)
	os.Setenv(EnvRunToken, c.runToken)
	os.Setenv(EnvDiag, strconv.Itoa(c.diagLevel))
	os.Setenv(EnvRuleset, c.ruleset)
	os.Setenv(EnvGitSHA, c.gitSHA)
	os.Setenv(EnvDVCRev, c.dvcRev)
}

// RunID returns the run identifier.
func (c *Context) RunID() string { return c.runID }

// RunToken returns the opaque run token.
func (c *Context) RunToken() string { return c.runToken }

// Env returns the target environment.
func (c *Context) Env() models.Environment { return c.env }

// EvidenceDir returns the run-scoped evidence directory.
func (c *Context) EvidenceDir() string {
	return filepath.Join(c.evidenceDir, c.runID)
}

// EnvContract returns the contract variables as a map, suitable for
// extending a child process environment.
func (c *Context) EnvContract() map[string]string {
	return map[string]string{
		EnvRunID:    c.runID,
		EnvRunToken: c.runToken,
		EnvDiag:     strconv.Itoa(c.diagLevel),
		EnvRuleset:  c.ruleset,
		EnvGitSHA:   c.gitSHA,
		EnvDVCRev:   c.dvcRev,
	}
}

// RegisterArtifact records an artifact produced by the run, returning its
// content hash. Fails with hashing.ErrNotFound when the path does not
// exist and ErrFinalized after finalization.
func (c *Context) RegisterArtifact(path, artifactType string, metadata map[string]any) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", hashing.ErrNotFound, path)
	}

	hash, err := hashing.FileSHA256(path)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return "", ErrFinalized
	}

	now := time.Now().UTC()
	c.artifacts = append(c.artifacts, ArtifactRecord{
		Path:      path,
		Type:      artifactType,
		Hash:      hash,
		SizeBytes: st.Size(),
		CreatedAt: now,
		Metadata:  metadata,
	})
	c.auditLog = append(c.auditLog, AuditEntry{
		Timestamp: now,
		Action:    "artifact_created",
		Details: map[string]any{
			"artifact_path": path,
			"artifact_hash": hash,
			"artifact_type": artifactType,
		},
	})
	return hash, nil
}

// LogOperation appends an audit entry. Fails only after finalization.
func (c *Context) LogOperation(action string, details map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return ErrFinalized
	}

	c.auditLog = append(c.auditLog, AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Details:   details,
	})
	return nil
}

// Finalize moves the context to its terminal state and persists run
// evidence: run_summary.json, artifact_manifest.json, and audit_log.json
// under the run-scoped evidence directory. A second call returns
// ErrFinalized; evidence is written exactly once per run.
func (c *Context) Finalize() (*Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return nil, ErrFinalized
	}

	end := time.Now().UTC()
	summary := &Summary{
		RunID:           c.runID,
		DiagLevel:       c.diagLevel,
		Ruleset:         c.ruleset,
		Env:             c.env,
		StartTime:       c.startTime,
		EndTime:         end,
		DurationSeconds: end.Sub(c.startTime).Seconds(),
		GitSHA:          c.gitSHA,
		DVCRev:          c.dvcRev,
		Artifacts:       append([]ArtifactRecord{}, c.artifacts...),
		AuditLog:        append([]AuditEntry{}, c.auditLog...),
	}

	dir := filepath.Join(c.evidenceDir, c.runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}

	files := map[string]any{
		"run_summary.json":       summary,
		"artifact_manifest.json": summary.Artifacts,
		"audit_log.json":         summary.AuditLog,
	}
	for name, payload := range files {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	c.finalized = true
	return summary, nil
}
