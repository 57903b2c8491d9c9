// Package runner drives the benchmark sweep: every scenario in every
// browser for every iteration, each run bracketed by trace commands.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/measureset"
	"browser-efficiency/internal/protocol"
	"browser-efficiency/internal/scenario"
	"browser-efficiency/internal/storage"

	"github.com/sirupsen/logrus"
)

// cancelTimeout bounds the CANCEL_PASS sent after the sweep context is done.
const cancelTimeout = 30 * time.Second

type Options struct {
	Iterations int
	// Attempts is how often a failing run is tried before it is given up.
	Attempts int
	Warmup   bool
	// TraceFolder is sent with START_PASS. Empty leaves the choice to the elevator.
	TraceFolder string
	// ResultsPath receives the responsiveness file. Empty disables it.
	ResultsPath string
}

// OptionsFromConfig maps the benchmark section of a config to runner options.
func OptionsFromConfig(cfg *config.BenchmarkConfig) Options {
	opts := Options{
		Iterations:  cfg.Benchmark.Iterations,
		Attempts:    cfg.Benchmark.Attempts,
		Warmup:      cfg.Benchmark.Warmup,
		TraceFolder: cfg.Benchmark.TracePath,
	}
	if cfg.Benchmark.Responsiveness {
		opts.ResultsPath = cfg.Benchmark.ResultsPath
	}
	return opts
}

// traceSetting is what one traced run records.
type traceSetting struct {
	measureSet string
	profile    string
	mode       protocol.TraceMode
}

// Summary counts the runs of a sweep.
type Summary struct {
	Runs   int
	Failed int
}

type Runner struct {
	browsers    []string
	scenarios   []scenario.Scenario
	settings    []traceSetting
	launcher    scenario.Launcher
	tracer      Tracer
	credentials scenario.Credentials
	timer       *ResponsivenessTimer
	heartbeat   *Heartbeat
	opts        Options
	logger      *logrus.Logger
}

// New builds a runner. Each measure set gets its own traced run, since each
// records with its own WPR profile; with no measure sets every run records
// the default profile.
func New(browsers []string, scenarios []scenario.Scenario, sets []measureset.MeasureSet, launcher scenario.Launcher, tracer Tracer, credentials scenario.Credentials, opts Options) *Runner {
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if tracer == nil {
		tracer = NopTracer{}
	}
	if credentials == nil {
		credentials = scenario.NewCredentialStore()
	}

	settings := make([]traceSetting, 0, len(sets))
	for _, s := range sets {
		settings = append(settings, traceSetting{measureSet: s.Name(), profile: s.WprProfile(), mode: s.TracingMode()})
	}
	if len(settings) == 0 {
		settings = append(settings, traceSetting{profile: protocol.DefaultWprProfile, mode: protocol.TraceModeFile})
	}

	return &Runner{
		browsers:    browsers,
		scenarios:   scenarios,
		settings:    settings,
		launcher:    launcher,
		tracer:      tracer,
		credentials: credentials,
		timer:       NewResponsivenessTimer(),
		opts:        opts,
		logger:      logging.GetLogger(),
	}
}

// SetHeartbeat reports progress to h while the sweep runs.
func (r *Runner) SetHeartbeat(h *Heartbeat) {
	r.heartbeat = h
}

// Timer exposes the responsiveness timings recorded so far.
func (r *Runner) Timer() *ResponsivenessTimer {
	return r.timer
}

// Run executes the sweep. A run that keeps failing is logged and skipped.
// Trace protocol errors on START_PASS or END_PASS and context cancellation
// end the sweep.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	if r.heartbeat != nil {
		if err := r.heartbeat.Start(ctx); err != nil {
			r.logger.WithError(err).Warn("Failed to start heartbeat")
		}
		defer r.heartbeat.Stop()
	}

	if err := r.tracer.StartPass(ctx, r.opts.TraceFolder); err != nil {
		r.logger.WithError(err).Error("Failed to start trace pass")
		return summary, fmt.Errorf("failed to start trace pass: %w", err)
	}

	if r.opts.Warmup {
		r.warmup(ctx)
	}

	for iteration := 1; iteration <= r.opts.Iterations; iteration++ {
		for _, browser := range r.browsers {
			for _, sc := range r.scenarios {
				for _, setting := range r.settings {
					if err := ctx.Err(); err != nil {
						return summary, r.abort(err)
					}

					key := dataframe.RunKey{Browser: browser, Scenario: sc.Name(), Iteration: iteration}
					summary.Runs++
					if err := r.runWithAttempts(ctx, key, sc, setting); err != nil {
						if ctx.Err() != nil {
							return summary, r.abort(ctx.Err())
						}
						summary.Failed++
					}
				}
			}
		}
	}

	if err := r.tracer.EndPass(ctx); err != nil {
		r.logger.WithError(err).Error("Failed to end trace pass")
		return summary, fmt.Errorf("failed to end trace pass: %w", err)
	}

	if err := r.writeResponsiveness(); err != nil {
		return summary, err
	}

	r.logger.WithFields(logrus.Fields{
		"runs":   summary.Runs,
		"failed": summary.Failed,
	}).Info("Benchmark sweep finished")

	return summary, nil
}

func (r *Runner) runWithAttempts(ctx context.Context, key dataframe.RunKey, sc scenario.Scenario, setting traceSetting) error {
	logger := r.logger.WithFields(logrus.Fields{
		"browser":     key.Browser,
		"scenario":    key.Scenario,
		"iteration":   key.Iteration,
		"measure_set": setting.measureSet,
	})

	var err error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		r.setStatus(fmt.Sprintf("%s attempt %d/%d profile %s", key, attempt, r.opts.Attempts, setting.profile))
		logger.WithField("attempt", attempt).Info("Starting run")

		r.timer.Begin(key)
		err = r.runOnce(ctx, key, sc, setting)
		if err == nil {
			r.timer.Commit()
			return nil
		}
		r.timer.Discard()

		logger.WithField("attempt", attempt).WithError(err).Warn("Run failed")
		r.cancelPass(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	logger.WithError(err).Error("Run failed on every attempt, skipping it")
	return err
}

// runOnce performs one traced run. The browser is only launched after
// START_BROWSER was acknowledged, and END_BROWSER is only sent once the
// browser has closed.
func (r *Runner) runOnce(ctx context.Context, key dataframe.RunKey, sc scenario.Scenario, setting traceSetting) error {
	duration := sc.DefaultDuration()
	cmd := protocol.StartBrowser{
		Browser:     key.Browser,
		Iteration:   key.Iteration,
		Scenario:    key.Scenario,
		WprProfile:  setting.profile,
		Mode:        setting.mode,
		Duration:    duration,
		HasDuration: duration >= time.Second,
	}
	if err := r.tracer.StartBrowser(ctx, cmd); err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}

	if err := r.execute(ctx, key.Browser, sc, r.timer); err != nil {
		return err
	}

	if err := r.tracer.EndBrowser(ctx, key.Browser); err != nil {
		return fmt.Errorf("failed to stop tracing: %w", err)
	}
	return nil
}

// execute launches the browser and runs the scenario in it. The browser is
// closed whatever the outcome.
func (r *Runner) execute(ctx context.Context, browserName string, sc scenario.Scenario, timer scenario.Timer) (err error) {
	browser, err := r.launcher.Launch(ctx, browserName)
	if err != nil {
		return fmt.Errorf("failed to launch %s: %w", browserName, err)
	}
	defer func() {
		if closeErr := browser.Close(ctx); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", browserName, closeErr)
		}
	}()

	if err := sc.SetUp(ctx, browser); err != nil {
		return fmt.Errorf("failed to set up %s: %w", sc.Name(), err)
	}
	runErr := sc.Run(ctx, browser, browserName, r.credentials, timer)
	if err := sc.TearDown(ctx, browser); err != nil && runErr == nil {
		return fmt.Errorf("failed to tear down %s: %w", sc.Name(), err)
	}
	if runErr != nil {
		return fmt.Errorf("failed to run %s: %w", sc.Name(), runErr)
	}
	return nil
}

// warmup runs the first scenario once per browser without tracing.
func (r *Runner) warmup(ctx context.Context) {
	if len(r.scenarios) == 0 {
		return
	}
	sc := r.scenarios[0]
	discard := NewResponsivenessTimer()
	for _, browser := range r.browsers {
		r.setStatus(fmt.Sprintf("warmup %s %s", browser, sc.Name()))
		r.logger.WithFields(logrus.Fields{"browser": browser, "scenario": sc.Name()}).Info("Warmup run")
		if err := r.execute(ctx, browser, sc, discard); err != nil {
			r.logger.WithField("browser", browser).WithError(err).Warn("Warmup run failed")
		}
	}
}

// cancelPass tells the elevator to drop the current session. It still
// reaches the elevator after ctx is done.
func (r *Runner) cancelPass(ctx context.Context) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := r.tracer.CancelPass(cctx); err != nil {
		r.logger.WithError(err).Warn("Failed to cancel trace pass")
	}
}

func (r *Runner) abort(err error) error {
	r.logger.WithError(err).Warn("Benchmark sweep interrupted")
	r.cancelPass(context.Background())
	if werr := r.writeResponsiveness(); werr != nil {
		r.logger.WithError(werr).Warn("Failed to save responsiveness results")
	}
	return err
}

func (r *Runner) writeResponsiveness() error {
	if r.opts.ResultsPath == "" {
		return nil
	}
	records := r.timer.Records()
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(r.opts.ResultsPath, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	path := filepath.Join(r.opts.ResultsPath, storage.ResponsivenessFile)
	if err := storage.WriteResponsiveness(path, records); err != nil {
		r.logger.WithField("path", path).WithError(err).Error("Failed to write responsiveness results")
		return fmt.Errorf("failed to write responsiveness results: %w", err)
	}
	r.logger.WithFields(logrus.Fields{"path": path, "records": len(records)}).Info("Saved responsiveness results")
	return nil
}

func (r *Runner) setStatus(status string) {
	if r.heartbeat != nil {
		r.heartbeat.SetStatus(status)
	}
}

// IsCancelled reports whether err stems from the sweep being interrupted.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
