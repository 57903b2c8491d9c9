// Package processtest provides an in-memory process.Runner for tests.
package processtest

import (
	"context"
	"path/filepath"
	"sync"

	"browser-efficiency/internal/process"
)

// Runner records every started spec and completes it without spawning anything.
type Runner struct {
	// Respond decides the outcome of a spec. Nil means success with no output.
	Respond func(spec process.Spec) (process.Result, error)
	// LongRunning marks specs whose handles stay running until stopped.
	LongRunning func(spec process.Spec) bool
	// StartErr fails Start for matching specs.
	StartErr func(spec process.Spec) error

	mu      sync.Mutex
	specs   []process.Spec
	handles []*Handle
}

func (r *Runner) Start(ctx context.Context, spec process.Spec) (process.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.StartErr != nil {
		if err := r.StartErr(spec); err != nil {
			return nil, err
		}
	}

	h := &Handle{name: filepath.Base(spec.Path), done: make(chan struct{}), state: process.Running}

	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.handles = append(r.handles, h)
	r.mu.Unlock()

	if r.LongRunning != nil && r.LongRunning(spec) {
		return h, nil
	}

	var result process.Result
	var err error
	if r.Respond != nil {
		result, err = r.Respond(spec)
	}
	h.finish(result, err, false)
	return h, nil
}

// Specs returns the specs started so far, in order.
func (r *Runner) Specs() []process.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]process.Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Commands returns the started specs rendered as command lines.
func (r *Runner) Commands() []string {
	specs := r.Specs()
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.String())
	}
	return out
}

// Handles returns the handles created so far, in start order.
func (r *Runner) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, len(r.handles))
	copy(out, r.handles)
	return out
}

// Handle is the process.Handle returned by Runner.
type Handle struct {
	name string
	done chan struct{}

	mu     sync.Mutex
	state  process.State
	result process.Result
	err    error
}

func (h *Handle) finish(result process.Result, err error, stopped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.result = result
	h.err = err
	switch {
	case stopped:
		h.state = process.Stopped
	case err != nil:
		h.state = process.Failed
	default:
		h.state = process.Succeeded
	}
	close(h.done)
}

func (h *Handle) Name() string { return h.name }

func (h *Handle) Wait(ctx context.Context) (process.Result, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return process.Result{}, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *Handle) Stop() error {
	h.finish(process.Result{}, nil, true)
	return nil
}

func (h *Handle) Status() process.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
