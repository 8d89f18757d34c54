// Package orchestrator discovers validation programs, runs them as
// governed child processes under declarative per-program policies, and
// classifies their outcomes.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/runforge/runforge/internal/enforce"
	"github.com/runforge/runforge/pkg/models"
)

// StatusTrailer is the structured trailer a program may print on its last
// lines to declare its own outcome. It wins over exit-code and output
// classification.
const StatusTrailer = "RUNFORGE-STATUS:"

const (
	defaultWorkers      = 4
	defaultTimeout      = 10 * time.Minute
	defaultSlowTimeout  = 20 * time.Minute
	defaultProbeTimeout = 5 * time.Second
)

// Outcome is the result of one validation program.
type Outcome struct {
	ID              string        `json:"id"`
	ProgramPath     string        `json:"program_path,omitempty"`
	Status          models.Status `json:"status"`
	ExitCode        int           `json:"exit_code"`
	DurationSeconds float64       `json:"duration"`
	Output          string        `json:"output,omitempty"`
	Note            string        `json:"note,omitempty"`
	Err             string        `json:"error,omitempty"`
}

// Summary aggregates the current result map.
type Summary struct {
	TotalCount           int     `json:"total_count"`
	SuccessCount         int     `json:"success_count"`
	WarningCount         int     `json:"warning_count"`
	ErrorCount           int     `json:"error_count"`
	TotalDurationSeconds float64 `json:"total_duration"`
	SuccessRate          float64 `json:"success_rate"`
}

// Options configure an orchestrator. Zero values get defaults.
type Options struct {
	// Dir is the directory holding validation programs.
	Dir string
	// Env is the target environment tag injected via --env.
	Env models.Environment
	// DatamartPath is exported to children as DATAMART_PATH.
	DatamartPath string
	// Policies maps program id to its declarative policy.
	Policies map[string]Policy
	// Workers bounds concurrent program executions.
	Workers int
	// Timeout is the default per-program timeout; SlowTimeout applies to
	// programs whose id matches SlowPatterns.
	Timeout      time.Duration
	SlowTimeout  time.Duration
	SlowPatterns []string
	// ProbeTimeout bounds the --help probe.
	ProbeTimeout time.Duration
	// ExtraEnv is appended to each child's environment (the run context
	// contract).
	ExtraEnv map[string]string
}

// Orchestrator runs validation programs and accumulates outcomes keyed by
// program id. Re-running a program overwrites its prior outcome.
type Orchestrator struct {
	opts Options

	mu      sync.Mutex
	results map[string]*Outcome
}

// New creates an orchestrator, applying defaults for unset options.
func New(opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.SlowTimeout <= 0 {
		opts.SlowTimeout = defaultSlowTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.Env == "" {
		opts.Env = models.EnvTest
	}
	return &Orchestrator{
		opts:    opts,
		results: make(map[string]*Outcome),
	}
}

// Discover lists executable validation programs directly under the
// configured directory in path order, excluding package-init files and
// test-prefixed names. A missing directory yields an empty list.
func (o *Orchestrator) Discover() ([]string, error) {
	entries, err := os.ReadDir(o.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read validation directory: %w", err)
	}

	var programs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == "__init__.py" || strings.HasPrefix(name, "test_") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
			continue
		}
		programs = append(programs, filepath.Join(o.opts.Dir, name))
	}
	return programs, nil
}

// RunAll executes every discovered program through a bounded worker pool
// and returns the accumulated result map.
func (o *Orchestrator) RunAll(ctx context.Context) (map[string]*Outcome, error) {
	programs, err := o.Discover()
	if err != nil {
		return nil, err
	}
	o.runPrograms(ctx, programs)
	return o.Results(), nil
}

// RunSelected executes only the programs whose id is in ids. Ids that
// match no program are surfaced as warning outcomes rather than dropped.
func (o *Orchestrator) RunSelected(ctx context.Context, ids []string) (map[string]*Outcome, error) {
	programs, err := o.Discover()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]string, len(programs))
	for _, p := range programs {
		byID[programID(p)] = p
	}

	var selected []string
	for _, id := range ids {
		path, ok := byID[id]
		if !ok {
			o.record(&Outcome{
				ID:     id,
				Status: models.StatusWarning,
				Note:   "no validation program matches this id",
			})
			continue
		}
		selected = append(selected, path)
	}

	o.runPrograms(ctx, selected)
	return o.Results(), nil
}

// ProgramIDs lists the ids of discoverable programs.
func (o *Orchestrator) ProgramIDs() ([]string, error) {
	programs, err := o.Discover()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(programs))
	for i, p := range programs {
		ids[i] = programID(p)
	}
	return ids, nil
}

func (o *Orchestrator) runPrograms(ctx context.Context, programs []string) {
	sem := make(chan struct{}, o.opts.Workers)
	var wg sync.WaitGroup

	for _, program := range programs {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.record(o.runOne(ctx, path))
		}(program)
	}
	wg.Wait()
}

func (o *Orchestrator) record(out *Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[out.ID] = out
}

// Results returns a copy of the current result map.
func (o *Orchestrator) Results() map[string]*Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*Outcome, len(o.results))
	for id, res := range o.results {
		copied := *res
		out[id] = &copied
	}
	return out
}

// runOne applies skip and argument policy, executes the program with a
// per-program timeout, and classifies the result.
func (o *Orchestrator) runOne(ctx context.Context, path string) *Outcome {
	id := programID(path)
	policy := o.opts.Policies[id]

	if policy.Skip {
		note := policy.SkipReason
		if note == "" {
			note = "skipped by policy"
		}
		return &Outcome{
			ID:          id,
			ProgramPath: path,
			Status:      models.StatusSuccess,
			Note:        note,
			Output:      "skipped: " + note,
		}
	}

	args := policy.ExtraArgs
	if args == nil {
		args = o.probeArgs(ctx, path)
	}

	timeout := o.opts.Timeout
	if policy.TimeoutOverride > 0 {
		timeout = policy.TimeoutOverride
	} else if o.isSlow(id) {
		timeout = o.opts.SlowTimeout
	}

	start := time.Now()
	exitCode, output, timedOut, execErr := o.execute(ctx, path, args, timeout)
	duration := time.Since(start).Seconds()

	out := &Outcome{
		ID:              id,
		ProgramPath:     path,
		ExitCode:        exitCode,
		DurationSeconds: duration,
		Output:          output,
	}

	switch {
	case timedOut:
		out.Status = models.StatusError
		out.Err = fmt.Sprintf("timed out after %s", timeout)
		out.ExitCode = -1
	case execErr != nil:
		out.Status = models.StatusError
		out.Err = execErr.Error()
		out.ExitCode = -1
	default:
		out.Status = classify(exitCode, output)
	}
	return out
}

// probeArgs asks the program for --help within a bounded timeout and
// injects the environment flag only when advertised. Probe failure means
// no flags.
func (o *Orchestrator) probeArgs(ctx context.Context, path string) []string {
	probeCtx, cancel := context.WithTimeout(ctx, o.opts.ProbeTimeout)
	defer cancel()

	cmd := osexec.CommandContext(probeCtx, path, "--help")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil
	}
	if strings.Contains(string(out), "--env") {
		return []string{"--env", string(o.opts.Env)}
	}
	return nil
}

func (o *Orchestrator) isSlow(id string) bool {
	for _, pattern := range o.opts.SlowPatterns {
		if strings.Contains(id, pattern) {
			return true
		}
	}
	return false
}

// execute spawns the program in its own process group with the governed
// environment and kills the whole group on timeout.
func (o *Orchestrator) execute(ctx context.Context, path string, args []string, timeout time.Duration) (exitCode int, output string, timedOut bool, err error) {
	cmd := osexec.Command(path, args...)
	cmd.Env = o.childEnv()
	setProcessGroup(cmd)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if startErr := cmd.Start(); startErr != nil {
		return -1, "", false, fmt.Errorf("spawn %s: %w", path, startErr)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		output = buf.String()
		if waitErr == nil {
			return 0, output, false, nil
		}
		var exitErr *osexec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), output, false, nil
		}
		return -1, output, false, waitErr
	case <-timer.C:
		killProcessGroup(cmd)
		<-done
		return -1, buf.String(), true, nil
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return -1, buf.String(), false, ctx.Err()
	}
}

func (o *Orchestrator) childEnv() []string {
	env := os.Environ()
	env = append(env, enforce.GovernedEnv())
	env = append(env, "DATAMART_PATH="+o.opts.DatamartPath)
	env = append(env, "ENVIRONMENT="+string(o.opts.Env))
	for key, value := range o.opts.ExtraEnv {
		env = append(env, key+"="+value)
	}
	return env
}

// classify maps a completed execution to a status. A structured trailer
// wins outright; otherwise exit 0 is success, exit 1 is a warning unless
// the output is only an enforcer advisory with no traceback evidence, and
// any other code is an error.
func classify(exitCode int, output string) models.Status {
	if status, ok := trailerStatus(output); ok {
		return status
	}

	switch exitCode {
	case 0:
		return models.StatusSuccess
	case 1:
		lower := strings.ToLower(output)
		if strings.Contains(lower, strings.ToLower(enforce.AdvisorySuspiciousImport)) &&
			!strings.Contains(lower, "traceback") &&
			!strings.Contains(lower, "panic:") {
			return models.StatusSuccess
		}
		return models.StatusWarning
	default:
		return models.StatusError
	}
}

// trailerStatus scans the output from the end for a RUNFORGE-STATUS line.
func trailerStatus(output string) (models.Status, bool) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, StatusTrailer) {
			continue
		}
		status := models.Status(strings.TrimSpace(strings.TrimPrefix(line, StatusTrailer)))
		if status.Valid() {
			return status, true
		}
		return "", false
	}
	return "", false
}

// Summary recomputes aggregate counts from the current result map. It can
// be called at any time, not just after a full run.
func (o *Orchestrator) Summary() *Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := &Summary{}
	for _, res := range o.results {
		s.TotalCount++
		s.TotalDurationSeconds += res.DurationSeconds
		switch res.Status {
		case models.StatusSuccess:
			s.SuccessCount++
		case models.StatusWarning:
			s.WarningCount++
		case models.StatusError:
			s.ErrorCount++
		}
	}
	if s.TotalCount > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalCount) * 100
	}
	return s
}

// HasErrors reports whether any outcome classified as an error.
func (o *Orchestrator) HasErrors() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, res := range o.results {
		if res.Status == models.StatusError {
			return true
		}
	}
	return false
}

// FailedIDs returns the sorted ids of error outcomes.
func (o *Orchestrator) FailedIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []string
	for id, res := range o.results {
		if res.Status == models.StatusError {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SaveResults writes the result map and its summary as JSON.
func (o *Orchestrator) SaveResults(path string) error {
	payload := struct {
		Results map[string]*Outcome `json:"results"`
		Summary *Summary            `json:"_summary"`
	}{
		Results: o.Results(),
		Summary: o.Summary(),
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal validation results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write validation results: %w", err)
	}
	return nil
}

// programID is the file stem used to key results.
func programID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
