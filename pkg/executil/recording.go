package executil

import (
	"context"
	"sync"
)

// RecordedCommand captures a command that was executed.
type RecordedCommand struct {
	Cmd  string
	Args []string
	Env  []string
}

// StepResult scripts one invocation of a RecordingExecutor.
type StepResult struct {
	Output []byte
	Err    error
}

// RecordingExecutor captures commands for testing. Results are consumed from
// Script in call order; once the script is exhausted, the zero result is
// returned.
type RecordingExecutor struct {
	mu       sync.Mutex
	Commands []RecordedCommand
	Script   []StepResult

	// Missing simulates a binary that is not on PATH.
	Missing bool

	next int
}

var _ Executor = (*RecordingExecutor)(nil)

// Run records the command and returns the next scripted result.
func (e *RecordingExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.record(nil, cmd, args...)
}

// RunEnv records the command with its environment and returns the next
// scripted result.
func (e *RecordingExecutor) RunEnv(ctx context.Context, env []string, cmd string, args ...string) ([]byte, error) {
	return e.record(env, cmd, args...)
}

// LookPath reports the configured availability.
func (e *RecordingExecutor) LookPath(cmd string) bool {
	return !e.Missing
}

func (e *RecordingExecutor) record(env []string, cmd string, args ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Commands = append(e.Commands, RecordedCommand{Cmd: cmd, Args: args, Env: env})

	if e.next < len(e.Script) {
		res := e.Script[e.next]
		e.next++
		return res.Output, res.Err
	}
	return nil, nil
}

// Reset clears recorded commands and rewinds the script.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Commands = nil
	e.next = 0
}
