// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// Output executes a command and returns stdout only.
	// Used for commands whose stdout is parsed (e.g. revision lookups).
	Output(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// LookPath reports whether the named command is available in PATH.
	LookPath(name string) bool
}
