package process

import (
	"context"
	"fmt"
	"strings"
)

// State is the lifecycle state of a started child process.
type State int

const (
	Running State = iota
	Succeeded
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Spec describes a child process to start.
type Spec struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the current environment.
	Env []string
	// IgnoreStderr keeps output on stderr from marking the run as failed.
	IgnoreStderr bool
}

func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Path
	}
	return s.Path + " " + strings.Join(s.Args, " ")
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExitError reports a process that exited non-zero or wrote to stderr.
type ExitError struct {
	Name   string
	Result Result
}

func (e *ExitError) Error() string {
	if e.Result.ExitCode != 0 {
		return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.Result.ExitCode, strings.TrimSpace(e.Result.Stderr))
	}
	return fmt.Sprintf("%s wrote to stderr: %s", e.Name, strings.TrimSpace(e.Result.Stderr))
}

// Handle controls a started process.
type Handle interface {
	// Name is the base name of the executable.
	Name() string
	// Wait blocks until the process exits or ctx is done.
	Wait(ctx context.Context) (Result, error)
	// Stop kills the process and waits for it to exit. Stopping a finished process is a no-op.
	Stop() error
	Status() State
}

// Runner starts child processes.
type Runner interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// Run starts spec and waits for it to finish.
func Run(ctx context.Context, runner Runner, spec Spec) (Result, error) {
	handle, err := runner.Start(ctx, spec)
	if err != nil {
		return Result{}, err
	}
	result, err := handle.Wait(ctx)
	if ctx.Err() != nil {
		_ = handle.Stop()
	}
	return result, err
}
