package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/process"
)

// Logger is a power or event logger that records for a fixed duration and
// exits on its own.
type Logger interface {
	Name() string
	Enabled() bool
	Start(ctx context.Context, output string, duration time.Duration) (process.Handle, error)
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}

const gpuRestartDelay = 500 * time.Millisecond

// gpuRestartArgs restarts every display adapter.
var gpuRestartArgs = []string{"restart", `PCI\CC_0300`}

// IntelPowerLog drives Intel Power Gadget's PowerLog. With GPU restart
// enabled, the display adapter is restarted through devcon once logging has
// started, which releases the device for the browser.
type IntelPowerLog struct {
	tool
	devcon       tool
	gpuRestart   bool
	restartDelay time.Duration
}

func NewIntelPowerLog(runner process.Runner, cfg, devcon config.ToolConfig, gpuRestart bool) *IntelPowerLog {
	devcon.Enabled = gpuRestart
	return &IntelPowerLog{
		tool:         tool{name: "intelpowerlog", runner: runner, cfg: cfg},
		devcon:       tool{name: "devcon", runner: runner, cfg: devcon},
		gpuRestart:   gpuRestart,
		restartDelay: gpuRestartDelay,
	}
}

func (l *IntelPowerLog) Start(ctx context.Context, output string, duration time.Duration) (process.Handle, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	spec, err := l.spec("-file", output, "-duration", seconds(duration), "-resolution", "1")
	if err != nil {
		return nil, err
	}
	handle, err := l.start(ctx, spec)
	if err != nil {
		return nil, err
	}

	if l.gpuRestart {
		if err := l.restartGPU(ctx); err != nil {
			logging.GetAgentLogger().WithError(err).Warn("Failed to restart display adapter")
		}
	}

	return handle, nil
}

func (l *IntelPowerLog) restartGPU(ctx context.Context) error {
	if err := l.devcon.check(); err != nil {
		return err
	}

	select {
	case <-time.After(l.restartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	spec, err := l.devcon.spec(gpuRestartArgs...)
	if err != nil {
		return err
	}
	return l.devcon.run(ctx, spec)
}

// Ippet drives the Intel Platform Power Estimation Tool.
type Ippet struct {
	tool
}

func NewIppet(runner process.Runner, cfg config.ToolConfig) *Ippet {
	return &Ippet{tool: tool{name: "ippet", runner: runner, cfg: cfg}}
}

// Start logs to files named after the output prefix.
func (i *Ippet) Start(ctx context.Context, output string, duration time.Duration) (process.Handle, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	spec, err := i.spec("-o", "y", "-enable_web", "n", "-zip", "n", "-time_end", seconds(duration), "-log_file", output)
	if err != nil {
		return nil, err
	}
	return i.start(ctx, spec)
}

// SocWatch drives Intel SoC Watch in polling mode.
type SocWatch struct {
	tool
}

func NewSocWatch(runner process.Runner, cfg config.ToolConfig) *SocWatch {
	return &SocWatch{tool: tool{name: "socwatch", runner: runner, cfg: cfg}}
}

func (s *SocWatch) Start(ctx context.Context, output string, duration time.Duration) (process.Handle, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	spec, err := s.spec("--polling", "--interval", "1", "--max-detail", "-f", "sys", "--time", seconds(duration), "-o", output)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, spec)
}

// AMDuProf drives AMDuProfCLI system-wide power collection.
type AMDuProf struct {
	tool
}

func NewAMDuProf(runner process.Runner, cfg config.ToolConfig) *AMDuProf {
	return &AMDuProf{tool: tool{name: "amduprofcli", runner: runner, cfg: cfg}}
}

// Start creates the output's parent directory first. AMDuProfCLI reports
// progress on stderr, so stderr does not fail the run.
func (a *AMDuProf) Start(ctx context.Context, output string, duration time.Duration) (process.Handle, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create amduprofcli output directory: %w", err)
	}
	spec, err := a.spec("collect", "--verbose", "3", "--system-wide", "--config", "power", "--duration", seconds(duration), "--output", output)
	if err != nil {
		return nil, err
	}
	spec.IgnoreStderr = true
	return a.start(ctx, spec)
}
