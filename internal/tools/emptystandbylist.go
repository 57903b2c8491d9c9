package tools

import (
	"context"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/process"
)

// standbyListTargets are flushed in this order.
var standbyListTargets = []string{"workingsets", "modifiedpagelist", "standbylist", "priority0standbylist"}

// EmptyStandbyList flushes memory lists so every run starts from a similar state.
type EmptyStandbyList struct {
	tool
}

func NewEmptyStandbyList(runner process.Runner, cfg config.ToolConfig) *EmptyStandbyList {
	return &EmptyStandbyList{tool: tool{name: "emptystandbylist", runner: runner, cfg: cfg}}
}

// Run flushes each list in turn and stops at the first failure.
func (e *EmptyStandbyList) Run(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	for _, target := range standbyListTargets {
		spec, err := e.spec(target)
		if err != nil {
			return err
		}
		if err := e.run(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}
