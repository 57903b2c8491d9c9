package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/process"
)

const procMonExitGrace = 10 * time.Second

// ProcMon drives Process Monitor. At most one capture is tracked.
type ProcMon struct {
	tool
	exitGrace time.Duration

	mu     sync.Mutex
	handle process.Handle
}

func NewProcMon(runner process.Runner, cfg config.ToolConfig) *ProcMon {
	return &ProcMon{
		tool:      tool{name: "procmon", runner: runner, cfg: cfg},
		exitGrace: procMonExitGrace,
	}
}

// Start launches a minimized capture into backingFile.
func (p *ProcMon) Start(ctx context.Context, backingFile string) (process.Handle, error) {
	if err := p.check(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil && p.handle.Status() == process.Running {
		return nil, fmt.Errorf("procmon: %w", ErrSessionActive)
	}

	spec, err := p.spec("/AcceptEula", "/Minimized", "/LoadConfig", p.cfg.Config, "/BackingFile", backingFile)
	if err != nil {
		return nil, err
	}
	handle, err := p.start(ctx, spec)
	if err != nil {
		return nil, err
	}
	p.handle = handle
	return handle, nil
}

// Terminate asks every running Process Monitor to exit and waits for the
// tracked capture. A capture still running after the grace period is killed.
func (p *ProcMon) Terminate(ctx context.Context) error {
	if err := p.check(); err != nil {
		return err
	}

	spec, err := p.spec("/Terminate")
	if err != nil {
		return err
	}
	runErr := p.run(ctx, spec)

	p.mu.Lock()
	handle := p.handle
	p.handle = nil
	p.mu.Unlock()

	if handle == nil {
		return runErr
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.exitGrace)
	defer cancel()
	if _, err := handle.Wait(waitCtx); err != nil && waitCtx.Err() != nil {
		logging.GetAgentLogger().WithField("grace", p.exitGrace).Warn("Process Monitor did not exit, killing it")
		if stopErr := handle.Stop(); stopErr != nil {
			return fmt.Errorf("failed to stop procmon: %w", stopErr)
		}
	}

	return runErr
}
