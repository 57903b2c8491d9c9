package runner

import (
	"context"

	"browser-efficiency/internal/elevator"
	"browser-efficiency/internal/protocol"
)

// Tracer brackets runs with trace commands. Each call returns once the
// elevator acknowledged the command.
type Tracer interface {
	StartPass(ctx context.Context, folder string) error
	StartBrowser(ctx context.Context, cmd protocol.StartBrowser) error
	EndBrowser(ctx context.Context, browser string) error
	EndPass(ctx context.Context) error
	CancelPass(ctx context.Context) error
}

var _ Tracer = (*elevator.Client)(nil)

// NopTracer is used when no elevator is configured.
type NopTracer struct{}

func (NopTracer) StartPass(ctx context.Context, folder string) error                { return nil }
func (NopTracer) StartBrowser(ctx context.Context, cmd protocol.StartBrowser) error { return nil }
func (NopTracer) EndBrowser(ctx context.Context, browser string) error              { return nil }
func (NopTracer) EndPass(ctx context.Context) error                                 { return nil }
func (NopTracer) CancelPass(ctx context.Context) error                              { return nil }
