package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"browser-efficiency/internal/logging"

	"github.com/sirupsen/logrus"
)

// LocalRunner runs processes on the local machine as the current user.
type LocalRunner struct{}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Start launches spec. The process is not bound to ctx; it keeps running
// until it exits or the handle is stopped.
func (r *LocalRunner) Start(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	h := &localHandle{
		name:         filepath.Base(spec.Path),
		cmd:          cmd,
		ignoreStderr: spec.IgnoreStderr,
		done:         make(chan struct{}),
		state:        Running,
	}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	logger := logging.GetLogger()
	logger.WithField("command", spec.String()).Debug("Starting process")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", h.name, err)
	}

	logger.WithFields(logrus.Fields{
		"process": h.name,
		"pid":     cmd.Process.Pid,
	}).Debug("Process started")

	go h.wait()

	return h, nil
}

type localHandle struct {
	name         string
	cmd          *exec.Cmd
	ignoreStderr bool

	stdout bytes.Buffer
	stderr bytes.Buffer

	done chan struct{}

	mu      sync.Mutex
	state   State
	stopped bool
	result  Result
	err     error
}

func (h *localHandle) wait() {
	waitErr := h.cmd.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(h.done)

	h.result = Result{
		ExitCode: h.cmd.ProcessState.ExitCode(),
		Stdout:   h.stdout.String(),
		Stderr:   h.stderr.String(),
	}

	switch {
	case h.stopped:
		h.state = Stopped
	case h.result.ExitCode != 0:
		h.state = Failed
		h.err = &ExitError{Name: h.name, Result: h.result}
	case waitErr != nil:
		h.state = Failed
		h.err = fmt.Errorf("failed to wait for %s: %w", h.name, waitErr)
	case !h.ignoreStderr && h.result.Stderr != "":
		h.state = Failed
		h.err = &ExitError{Name: h.name, Result: h.result}
	default:
		h.state = Succeeded
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"process":   h.name,
		"exit_code": h.result.ExitCode,
		"state":     h.state.String(),
	}).Debug("Process ended")
}

func (h *localHandle) Name() string {
	return h.name
}

func (h *localHandle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *localHandle) Stop() error {
	select {
	case <-h.done:
		return nil
	default:
	}

	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	if err := h.cmd.Process.Kill(); err != nil {
		select {
		case <-h.done:
			return nil
		default:
		}
		return fmt.Errorf("failed to stop %s: %w", h.name, err)
	}

	<-h.done
	return nil
}

func (h *localHandle) Status() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Installed reports whether path points at an existing file, or, for a bare
// executable name, whether it can be found on PATH.
func Installed(path string) bool {
	if path == "" {
		return false
	}
	if filepath.Base(path) == path {
		_, err := exec.LookPath(path)
		return err == nil
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
