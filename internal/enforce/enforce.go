// Package enforce implements the execution policy: run-context validation,
// the one hard-stop path, and the advisory guard facade. Everything except
// EnforceOrExit logs and moves on; governance is evidence, not obstruction.
package enforce

import (
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/runforge/runforge/internal/runctx"
)

// GovernedEnvKey marks a process as a child of a governed orchestrator
// run. Its presence alone satisfies context validation.
const GovernedEnvKey = "RUNFORGE_GOVERNED"

// Advisory message prefixes. The orchestrator's output classification
// recognizes these, so they are part of the tool's contract.
const (
	AdvisorySuspiciousImport = "Suspicious import detected"
	AdvisoryPathOutside      = "File access outside allowed paths"
	AdvisoryRawInterpreter   = "Direct interpreter execution detected"
)

// ValidateRunContext reports whether the current process carries a valid
// run context: either the governed-child flag or both the run id and run
// token variables. On failure it emits a diagnostic and returns false;
// callers decide whether to abort.
func ValidateRunContext() bool {
	if os.Getenv(GovernedEnvKey) == "1" {
		return true
	}

	var missing []string
	for _, key := range []string{runctx.EnvRunID, runctx.EnvRunToken} {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		color.Red("ERROR: missing required run context variables: %s", strings.Join(missing, ", "))
		fmt.Fprintln(os.Stderr, "Use 'runforge run ...' to execute governed work.")
		return false
	}
	return true
}

// EnforceOrExit terminates the process when no valid run context is
// present. This is the only hard-stop path in the enforcer.
func EnforceOrExit() {
	if !ValidateRunContext() {
		os.Exit(1)
	}
}

// GovernedEnv returns the environment entry that marks a child process as
// governed.
func GovernedEnv() string {
	return GovernedEnvKey + "=1"
}

// Guard wraps file and command access with advisory policy checks. It
// never blocks an operation; findings go to the log function.
type Guard struct {
	allowlist []string
	logf      func(format string, args ...any)
}

// NewGuard creates a guard over the given allowed path prefixes. An empty
// allowlist means no path restrictions.
func NewGuard(allowlist []string, logf func(format string, args ...any)) *Guard {
	if logf == nil {
		logf = func(format string, args ...any) {
			color.Yellow(format, args...)
		}
	}
	resolved := make([]string, 0, len(allowlist))
	for _, p := range allowlist {
		if abs, err := filepath.Abs(p); err == nil {
			resolved = append(resolved, abs)
		}
	}
	return &Guard{allowlist: resolved, logf: logf}
}

// PathAllowed reports whether a path falls under the allowlist.
func (g *Guard) PathAllowed(path string) bool {
	if len(g.allowlist) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, prefix := range g.allowlist {
		if abs == prefix || strings.HasPrefix(abs, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// OpenFile opens a file, logging an advisory when the path falls outside
// the allowlist. The open itself always proceeds.
func (g *Guard) OpenFile(path string) (*os.File, error) {
	if !g.PathAllowed(path) {
		g.logf("%s: %s", AdvisoryPathOutside, path)
	}
	return os.Open(path)
}

// Command builds a command, logging an advisory when it looks like a raw
// interpreter invocation rather than the governed entry point.
func (g *Guard) Command(name string, args ...string) *osexec.Cmd {
	if rawInterpreter(name, args) {
		g.logf("%s: %s %s", AdvisoryRawInterpreter, name, strings.Join(args, " "))
		g.logf("Use 'runforge run ...' to execute governed work.")
	}
	return osexec.Command(name, args...)
}

// rawInterpreter reports whether the invocation bypasses the governed
// entry point by calling a script interpreter directly.
func rawInterpreter(name string, args []string) bool {
	base := filepath.Base(name)
	switch {
	case strings.HasPrefix(base, "python"), base == "sh", base == "bash":
	default:
		return false
	}
	for _, a := range args {
		if a == "runforge" {
			return false
		}
	}
	return true
}
