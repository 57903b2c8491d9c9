package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
benchmark:
  name: nightly
  iterations: 3
  attempts: 2
  results_path: ${BE_TEST_RESULTS}
  post_processing: true
elevator:
  enabled: true
  host: lab-01
measure_sets: [cpuUsage, diskIo]
browsers:
  chrome:
    index: 1
    executable: C:\Program Files\Google\Chrome\Application\chrome.exe
    args: --no-first-run --user-data-dir="C:\tmp\profile dir"
  firefox:
    index: 2
    executable: firefox.exe
scenarios:
  - name: wikipedia
    urls: [https://en.wikipedia.org/wiki/Main_Page]
    duration: 30
    dwell: 10
extensions:
  - name: adblock
    version: "1.2.3"
`

func TestLoadConfig_Valid(t *testing.T) {
	t.Setenv("BE_TEST_RESULTS", "/data/results")

	cfg, content, err := LoadConfigWithContent(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadConfigWithContent: %v", err)
	}

	if !strings.Contains(content, "${BE_TEST_RESULTS}") {
		t.Fatalf("expected original content to be returned unexpanded")
	}
	if cfg.Benchmark.ResultsPath != "/data/results" {
		t.Fatalf("expected env var expansion, got %q", cfg.Benchmark.ResultsPath)
	}
	if cfg.Benchmark.TracePath != "/data/results" {
		t.Fatalf("expected trace path to default to results path, got %q", cfg.Benchmark.TracePath)
	}
	if cfg.Elevator.Port != DefaultElevatorPort || cfg.Elevator.AckTimeout != DefaultAckTimeout {
		t.Fatalf("expected elevator defaults, got %+v", cfg.Elevator)
	}

	chrome := cfg.Browsers["chrome"]
	if chrome.KeyName != "chrome" {
		t.Fatalf("expected KeyName to be set, got %q", chrome.KeyName)
	}
	if chrome.ProcessName != "chrome.exe" {
		t.Fatalf("expected process name chrome.exe, got %q", chrome.ProcessName)
	}

	var order []string
	for _, b := range cfg.GetBrowsersSorted() {
		order = append(order, b.KeyName)
	}
	if diff := cmp.Diff([]string{"chrome", "firefox"}, order); diff != "" {
		t.Fatalf("unexpected browser order (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(map[string]string{"adblock": "1.2.3"}, cfg.GetExtensionVersions()); diff != "" {
		t.Fatalf("unexpected extensions (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_UnsetEnvVarIsKept(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, strings.Replace(validConfig, "BE_TEST_RESULTS", "BE_TEST_UNSET_VARIABLE", 1)))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Benchmark.ResultsPath != "${BE_TEST_UNSET_VARIABLE}" {
		t.Fatalf("expected placeholder to be kept, got %q", cfg.Benchmark.ResultsPath)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "browsers: {chrome: {executable: chrome.exe}}\nscenarios: [{name: s, urls: [a]}]\n",
			wantErr: "benchmark name is required",
		},
		{
			name:    "no browsers",
			content: "benchmark: {name: n}\nscenarios: [{name: s, urls: [a]}]\n",
			wantErr: "at least one browser",
		},
		{
			name:    "no scenarios",
			content: "benchmark: {name: n}\nbrowsers: {chrome: {executable: chrome.exe}}\n",
			wantErr: "at least one scenario",
		},
		{
			name:    "duplicate scenario",
			content: "benchmark: {name: n}\nbrowsers: {chrome: {executable: chrome.exe}}\nscenarios: [{name: s, urls: [a]}, {name: s, urls: [b]}]\n",
			wantErr: "defined more than once",
		},
		{
			name:    "scenario with whitespace",
			content: "benchmark: {name: n}\nbrowsers: {chrome: {executable: chrome.exe}}\nscenarios: [{name: 'a b', urls: [a]}]\n",
			wantErr: "must not contain whitespace",
		},
		{
			name:    "browser with underscore",
			content: "benchmark: {name: n}\nbrowsers: {chrome_beta: {executable: chrome.exe}}\nscenarios: [{name: s, urls: [a]}]\n",
			wantErr: "must not contain underscores",
		},
		{
			name:    "browser without executable",
			content: "benchmark: {name: n}\nbrowsers: {chrome: {args: x}}\nscenarios: [{name: s, urls: [a]}]\n",
			wantErr: "executable is required",
		},
		{
			name:    "incomplete database",
			content: "benchmark: {name: n}\nbrowsers: {chrome: {executable: chrome.exe}}\nscenarios: [{name: s, urls: [a]}]\ndatabase: {host: 'http://localhost:8086'}\n",
			wantErr: "incomplete database configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadElevatorConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
elevator:
  trace_profile: C:\traces\Browser.wprp
tools:
  procmon:
    enabled: true
  intel_power_log:
    enabled: true
    args: -verbose
`)

	cfg, err := LoadElevatorConfig(path)
	if err != nil {
		t.Fatalf("LoadElevatorConfig: %v", err)
	}
	if cfg.Elevator.Listen != DefaultElevatorListen {
		t.Fatalf("expected default listen address, got %q", cfg.Elevator.Listen)
	}
	if cfg.Elevator.WprPath != DefaultWprPath {
		t.Fatalf("expected default wpr path, got %q", cfg.Elevator.WprPath)
	}
	if !cfg.Tools.ProcMon.Enabled || cfg.Tools.ProcMon.Path != "procmon.exe" || cfg.Tools.ProcMon.Config != "ProcmonConfiguration.pmc" {
		t.Fatalf("unexpected procmon config: %+v", cfg.Tools.ProcMon)
	}
	if cfg.Tools.Ippet.Enabled {
		t.Fatalf("expected ippet to stay disabled")
	}
	if cfg.Tools.IntelPowerLog.Args != "-verbose" {
		t.Fatalf("expected extra args to be kept, got %q", cfg.Tools.IntelPowerLog.Args)
	}
}

func TestLoadElevatorConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"not a wprp", "elevator: {trace_profile: profile.xml}\n", "must be a .wprp file"},
		{"gpu restart without power log", "elevator: {gpu_restart: true}\n", "gpu_restart requires"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadElevatorConfig(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultElevatorConfig(t *testing.T) {
	cfg := DefaultElevatorConfig()
	if err := validateElevatorConfig(cfg); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
	if cfg.Elevator.TraceProfile != DefaultTraceProfile {
		t.Fatalf("expected default trace profile, got %q", cfg.Elevator.TraceProfile)
	}
}
