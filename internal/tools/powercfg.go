package tools

import (
	"context"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/process"
)

type PowerCfg struct {
	tool
}

func NewPowerCfg(runner process.Runner, cfg config.ToolConfig) *PowerCfg {
	return &PowerCfg{tool: tool{name: "powercfg", runner: runner, cfg: cfg}}
}

// DumpSrumReport writes the System Resource Usage Monitor database to file as CSV.
func (p *PowerCfg) DumpSrumReport(ctx context.Context, file string) error {
	if err := p.check(); err != nil {
		return err
	}
	spec, err := p.spec("/srumutil", "/csv", "/output", file)
	if err != nil {
		return err
	}
	return p.run(ctx, spec)
}
