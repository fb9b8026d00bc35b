// Package executil provides shell execution utilities.
package executil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Executor runs external commands. It exists so adapters that shell out
// (the gh CLI fallback path) can be tested without a real binary.
type Executor interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
	// RunEnv executes a command with extra environment variables appended
	// to the current environment.
	RunEnv(ctx context.Context, env []string, cmd string, args ...string) ([]byte, error)
	// LookPath reports whether the command resolves on PATH.
	LookPath(cmd string) bool
}

// RealExecutor calls actual shell commands.
type RealExecutor struct{}

var _ Executor = (*RealExecutor)(nil)

// Run executes a command and returns its combined output.
func (e *RealExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", cmd, err)
	}
	return out, nil
}

// RunEnv executes a command with extra environment variables.
func (e *RealExecutor) RunEnv(ctx context.Context, env []string, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Env = append(os.Environ(), env...)
	out, err := c.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", cmd, err)
	}
	return out, nil
}

// LookPath reports whether the command resolves on PATH.
func (e *RealExecutor) LookPath(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
