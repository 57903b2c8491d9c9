package config

import "testing"

func TestSweepChecksum_DeterministicAcrossMapOrder(t *testing.T) {
	scenarios := []ScenarioConfig{{Name: "wiki", URLs: []string{"https://en.wikipedia.org"}, Duration: 30}}

	cfg1 := &BenchmarkConfig{Benchmark: BenchmarkInfo{Name: "t", Iterations: 2}, Scenarios: scenarios}
	cfg1.Browsers = map[string]BrowserConfig{
		"firefox": {Index: 1, Executable: "firefox.exe"},
		"chrome":  {Index: 0, Executable: "chrome.exe", Args: "--no-first-run"},
	}
	cfg1.MeasureSets = []string{"diskIo", "cpuUsage"}

	cfg2 := &BenchmarkConfig{Benchmark: BenchmarkInfo{Name: "other", Iterations: 2}, Scenarios: scenarios}
	// Same browsers but inserted in opposite order.
	cfg2.Browsers = map[string]BrowserConfig{
		"chrome":  cfg1.Browsers["chrome"],
		"firefox": cfg1.Browsers["firefox"],
	}
	cfg2.MeasureSets = []string{"cpuUsage", "diskIo"}

	s1, err := SweepChecksum(cfg1)
	if err != nil {
		t.Fatalf("SweepChecksum(cfg1): %v", err)
	}
	s2, err := SweepChecksum(cfg2)
	if err != nil {
		t.Fatalf("SweepChecksum(cfg2): %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected same checksum, got %q vs %q", s1, s2)
	}
	if len(s1) != 6 {
		t.Fatalf("expected 6-char checksum, got %q (len=%d)", s1, len(s1))
	}
}

func TestSweepChecksum_ChangesWhenSweepChanges(t *testing.T) {
	cfg := &BenchmarkConfig{Benchmark: BenchmarkInfo{Name: "t", Iterations: 1}}
	cfg.Browsers = map[string]BrowserConfig{"chrome": {Executable: "chrome.exe"}}
	cfg.Scenarios = []ScenarioConfig{{Name: "wiki", URLs: []string{"https://en.wikipedia.org"}}}

	s1, err := SweepChecksum(cfg)
	if err != nil {
		t.Fatalf("SweepChecksum: %v", err)
	}

	cfg.Benchmark.Iterations = 3

	s2, err := SweepChecksum(cfg)
	if err != nil {
		t.Fatalf("SweepChecksum after change: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("expected checksum to change, got %q", s1)
	}
}

func TestSweepChecksum_NilConfig(t *testing.T) {
	s, err := SweepChecksum(nil)
	if err != nil || s != "" {
		t.Fatalf("expected empty checksum for nil config, got %q (%v)", s, err)
	}
}
