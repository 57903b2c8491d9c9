package tools

import (
	"context"
	"errors"
	"fmt"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/process"

	"github.com/google/shlex"
)

var (
	ErrToolDisabled     = errors.New("tool disabled")
	ErrToolNotInstalled = errors.New("tool not installed")
)

// Skipped reports whether err only means the tool was not run.
func Skipped(err error) bool {
	return errors.Is(err, ErrToolDisabled) || errors.Is(err, ErrToolNotInstalled)
}

// Set bundles every tool the elevator drives, built once from its config.
type Set struct {
	WPR              *WPR
	ProcMon          *ProcMon
	PowerCfg         *PowerCfg
	Loggers          []Logger
	EmptyStandbyList *EmptyStandbyList
}

func NewSet(cfg *config.ElevatorConfig, runner process.Runner) *Set {
	return &Set{
		WPR:      NewWPR(runner, cfg.Elevator.WprPath, cfg.Elevator.TraceProfile),
		ProcMon:  NewProcMon(runner, cfg.Tools.ProcMon),
		PowerCfg: NewPowerCfg(runner, cfg.Tools.PowerCfg),
		Loggers: []Logger{
			NewIntelPowerLog(runner, cfg.Tools.IntelPowerLog, cfg.Tools.DevCon, cfg.Elevator.GpuRestart),
			NewIppet(runner, cfg.Tools.Ippet),
			NewSocWatch(runner, cfg.Tools.SocWatch),
			NewAMDuProf(runner, cfg.Tools.AMDuProf),
		},
		EmptyStandbyList: NewEmptyStandbyList(runner, cfg.Tools.EmptyStandbyList),
	}
}

// tool is the common part of every optional tool wrapper.
type tool struct {
	name   string
	runner process.Runner
	cfg    config.ToolConfig
}

func (t tool) Name() string {
	return t.name
}

func (t tool) Enabled() bool {
	return t.cfg.Enabled
}

// check returns ErrToolDisabled or ErrToolNotInstalled when the tool cannot run.
func (t tool) check() error {
	if !t.cfg.Enabled {
		return fmt.Errorf("%s: %w", t.name, ErrToolDisabled)
	}
	if !process.Installed(t.cfg.Path) {
		return fmt.Errorf("%s at %s: %w", t.name, t.cfg.Path, ErrToolNotInstalled)
	}
	return nil
}

// spec builds the command line from args followed by the configured extra args.
func (t tool) spec(args ...string) (process.Spec, error) {
	extra, err := shlex.Split(t.cfg.Args)
	if err != nil {
		return process.Spec{}, fmt.Errorf("failed to split %s args %q: %w", t.name, t.cfg.Args, err)
	}
	return process.Spec{
		Path: t.cfg.Path,
		Args: append(args, extra...),
	}, nil
}

func (t tool) start(ctx context.Context, spec process.Spec) (process.Handle, error) {
	handle, err := t.runner.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", t.name, err)
	}
	return handle, nil
}

func (t tool) run(ctx context.Context, spec process.Spec) error {
	if _, err := process.Run(ctx, t.runner, spec); err != nil {
		return fmt.Errorf("failed to run %s: %w", t.name, err)
	}
	return nil
}
