package scenario

import (
	"context"
	"fmt"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/logging"

	"github.com/sirupsen/logrus"
)

// NavigateScenario opens the configured URLs in order, dwelling on each, and
// then idles until the scenario duration has passed.
type NavigateScenario struct {
	name     string
	urls     []string
	dwell    time.Duration
	duration time.Duration
	now      func() time.Time
}

func NewNavigateScenario(cfg config.ScenarioConfig) *NavigateScenario {
	return &NavigateScenario{
		name:     cfg.Name,
		urls:     append([]string(nil), cfg.URLs...),
		dwell:    cfg.GetDwell(),
		duration: cfg.GetDuration(),
		now:      time.Now,
	}
}

// FromConfig builds one scenario per configured entry, in order.
func FromConfig(cfgs []config.ScenarioConfig) []Scenario {
	out := make([]Scenario, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, NewNavigateScenario(c))
	}
	return out
}

func (s *NavigateScenario) Name() string { return s.name }

func (s *NavigateScenario) DefaultDuration() time.Duration { return s.duration }

func (s *NavigateScenario) SetUp(ctx context.Context, browser Browser) error { return nil }

func (s *NavigateScenario) TearDown(ctx context.Context, browser Browser) error { return nil }

// PageLoadMeasure names the responsiveness measure of the n-th URL, counting from 1.
func PageLoadMeasure(n int) string {
	return fmt.Sprintf("pageLoad%d", n)
}

func (s *NavigateScenario) Run(ctx context.Context, browser Browser, browserName string, credentials Credentials, timer Timer) error {
	logger := logging.GetLogger().WithFields(logrus.Fields{
		"scenario": s.name,
		"browser":  browserName,
	})

	start := s.now()
	for i, url := range s.urls {
		logger.WithField("url", url).Debug("Navigating")
		err := timer.Measure(PageLoadMeasure(i+1), func() error {
			return browser.Navigate(ctx, url)
		})
		if err != nil {
			return fmt.Errorf("failed to navigate to %s: %w", url, err)
		}
		if err := Wait(ctx, s.dwell); err != nil {
			return err
		}
	}

	if remaining := s.duration - s.now().Sub(start); remaining > 0 {
		logger.WithField("remaining", remaining).Debug("Waiting for scenario duration")
		return Wait(ctx, remaining)
	}
	return nil
}
