package runner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"browser-efficiency/internal/logging"
)

// HeartbeatFile is appended to while a sweep runs, so a hung machine can be
// told apart from a slow scenario.
const HeartbeatFile = "heartbeat.log"

type Heartbeat struct {
	path      string
	frequency time.Duration

	mu     sync.Mutex
	status string

	stopChan chan struct{}
	done     chan struct{}
	started  bool
	stopped  bool
}

func NewHeartbeat(path string, frequency time.Duration) *Heartbeat {
	return &Heartbeat{
		path:      path,
		frequency: frequency,
		status:    "starting",
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetStatus changes what the next beat reports.
func (h *Heartbeat) SetStatus(status string) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func (h *Heartbeat) Start(ctx context.Context) error {
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open heartbeat file: %w", err)
	}
	h.started = true
	go h.beat(ctx, f)
	return nil
}

func (h *Heartbeat) beat(ctx context.Context, f *os.File) {
	defer close(h.done)
	defer f.Close()

	ticker := time.NewTicker(h.frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case now := <-ticker.C:
			h.mu.Lock()
			status := h.status
			h.mu.Unlock()

			if _, err := fmt.Fprintf(f, "%s %s\n", now.Format(time.RFC3339), status); err != nil {
				logging.GetLogger().WithError(err).Warn("Failed to write heartbeat")
			}
		}
	}
}

// Stop ends the heartbeat and waits for the writer to finish.
func (h *Heartbeat) Stop() {
	if !h.started {
		return
	}
	if !h.stopped {
		close(h.stopChan)
		h.stopped = true
	}
	<-h.done
}
