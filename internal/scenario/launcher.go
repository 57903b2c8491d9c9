package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/process"

	"github.com/google/shlex"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// ErrUnknownBrowser is returned when launching a browser that is not configured.
var ErrUnknownBrowser = errors.New("unknown browser")

const (
	defaultExitTimeout  = 15 * time.Second
	defaultPollInterval = 250 * time.Millisecond
)

// processFinder lists running processes whose image name matches name.
type processFinder func(ctx context.Context, name string) ([]*gopsprocess.Process, error)

// ExecLauncher starts browsers from their configured executables. Each
// navigation runs the executable with the URL appended, which opens the URL
// in the running instance.
type ExecLauncher struct {
	browsers map[string]config.BrowserConfig
	runner   process.Runner
	find     processFinder

	exitTimeout  time.Duration
	pollInterval time.Duration
}

func NewExecLauncher(browsers map[string]config.BrowserConfig, runner process.Runner) *ExecLauncher {
	return &ExecLauncher{
		browsers:     browsers,
		runner:       runner,
		find:         findProcesses,
		exitTimeout:  defaultExitTimeout,
		pollInterval: defaultPollInterval,
	}
}

// Launch prepares the named browser. Instances left over from an earlier
// run are terminated first so traces only see the run under test.
func (l *ExecLauncher) Launch(ctx context.Context, name string) (Browser, error) {
	cfg, ok := l.browsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBrowser, name)
	}
	args, err := shlex.Split(cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("invalid args for browser %s: %w", name, err)
	}

	b := &execBrowser{launcher: l, name: name, cfg: cfg, args: args}
	if err := l.terminate(ctx, cfg.ProcessName); err != nil {
		return nil, err
	}
	return b, nil
}

// terminate waits for processes named name to exit, killing them once the
// exit timeout has passed.
func (l *ExecLauncher) terminate(ctx context.Context, name string) error {
	logger := logging.GetLogger().WithField("process", name)
	if name == "" {
		return nil
	}

	deadline := time.Now().Add(l.exitTimeout)
	killed := false
	for {
		procs, err := l.find(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to list processes: %w", err)
		}
		if len(procs) == 0 {
			return nil
		}

		if !killed && time.Now().After(deadline) {
			logger.WithField("count", len(procs)).Warn("Browser processes still running, killing them")
			for _, p := range procs {
				if err := p.KillWithContext(ctx); err != nil {
					logger.WithField("pid", p.Pid).WithError(err).Debug("Failed to kill process")
				}
			}
			killed = true
			deadline = time.Now().Add(l.exitTimeout)
		} else if killed && time.Now().After(deadline) {
			return fmt.Errorf("%d %s processes did not exit", len(procs), name)
		}

		if err := Wait(ctx, l.pollInterval); err != nil {
			return err
		}
	}
}

func findProcesses(ctx context.Context, name string) ([]*gopsprocess.Process, error) {
	all, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []*gopsprocess.Process
	for _, p := range all {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			// The process exited while listing.
			continue
		}
		if strings.EqualFold(n, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

type execBrowser struct {
	launcher *ExecLauncher
	name     string
	cfg      config.BrowserConfig
	args     []string

	mu      sync.Mutex
	handles []process.Handle
	closed  bool
}

func (b *execBrowser) Name() string { return b.name }

func (b *execBrowser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("browser %s is closed", b.name)
	}

	spec := process.Spec{
		Path:         b.cfg.Executable,
		Args:         append(append([]string(nil), b.args...), url),
		IgnoreStderr: true,
	}
	handle, err := b.launcher.runner.Start(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", b.name, err)
	}
	b.handles = append(b.handles, handle)
	return nil
}

func (b *execBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	handles := b.handles
	b.handles = nil
	b.mu.Unlock()

	logger := logging.GetLogger().WithField("browser", b.name)
	for _, h := range handles {
		if h.Status() == process.Running {
			if err := h.Stop(); err != nil {
				logger.WithError(err).Warn("Failed to stop browser process")
			}
		}
		logger.WithFields(logrus.Fields{
			"process": h.Name(),
			"status":  h.Status().String(),
		}).Debug("Browser process finished")
	}

	return b.launcher.terminate(ctx, b.cfg.ProcessName)
}
