package config

import (
	"sort"
	"time"
)

// BenchmarkConfig drives one benchmark sweep.
type BenchmarkConfig struct {
	Benchmark   BenchmarkInfo            `yaml:"benchmark"`
	Elevator    ElevatorClientConfig     `yaml:"elevator"`
	MeasureSets []string                 `yaml:"measure_sets"`
	Browsers    map[string]BrowserConfig `yaml:"browsers"`
	Scenarios   []ScenarioConfig         `yaml:"scenarios"`
	Exporter    ExporterConfig           `yaml:"exporter"`
	Database    *DatabaseConfig          `yaml:"database,omitempty"`
	Extensions  []ExtensionConfig        `yaml:"extensions,omitempty"`
}

type BenchmarkInfo struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	LogLevel       string `yaml:"log_level"`
	Iterations     int    `yaml:"iterations"`
	Attempts       int    `yaml:"attempts"`
	Warmup         bool   `yaml:"warmup"`
	ResultsPath    string `yaml:"results_path"`
	TracePath      string `yaml:"trace_path"`
	PostProcessing bool   `yaml:"post_processing"`
	Responsiveness bool   `yaml:"responsiveness"`
	// Credentials is a JSON file of site logins handed to scenarios.
	Credentials string `yaml:"credentials,omitempty"`
	// Heartbeat interval in seconds; 0 disables the heartbeat file.
	Heartbeat int `yaml:"heartbeat"`
}

// ElevatorClientConfig tells the driver where the elevator listens.
type ElevatorClientConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// AckTimeout in seconds bounds the wait for each ACK.
	AckTimeout int `yaml:"ack_timeout"`
}

type BrowserConfig struct {
	KeyName    string `yaml:"-"`
	Index      int    `yaml:"index"`
	Executable string `yaml:"executable"`
	Args       string `yaml:"args,omitempty"`
	// ProcessName is the image name waited on after the browser closes.
	// Defaults to the executable's base name.
	ProcessName string `yaml:"process_name,omitempty"`
}

type ScenarioConfig struct {
	Name string   `yaml:"name"`
	URLs []string `yaml:"urls"`
	// Duration in seconds the scenario is expected to last.
	Duration int `yaml:"duration"`
	// Dwell in seconds spent on each URL.
	Dwell int `yaml:"dwell"`
}

type ExporterConfig struct {
	Path       string `yaml:"path"`
	ProfileDir string `yaml:"profile_dir"`
}

type DatabaseConfig struct {
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type ExtensionConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

func (c *BenchmarkConfig) GetAckTimeout() time.Duration {
	return time.Duration(c.Elevator.AckTimeout) * time.Second
}

func (c *BenchmarkConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Benchmark.Heartbeat) * time.Second
}

// GetBrowsersSorted returns the browsers ordered by index, then by name.
func (c *BenchmarkConfig) GetBrowsersSorted() []BrowserConfig {
	browsers := make([]BrowserConfig, 0, len(c.Browsers))
	for _, b := range c.Browsers {
		browsers = append(browsers, b)
	}

	sort.Slice(browsers, func(i, j int) bool {
		if browsers[i].Index != browsers[j].Index {
			return browsers[i].Index < browsers[j].Index
		}
		return browsers[i].KeyName < browsers[j].KeyName
	})

	return browsers
}

// GetExtensionVersions maps extension names to versions.
func (c *BenchmarkConfig) GetExtensionVersions() map[string]string {
	if len(c.Extensions) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.Extensions))
	for _, ext := range c.Extensions {
		out[ext.Name] = ext.Version
	}
	return out
}

func (s ScenarioConfig) GetDuration() time.Duration {
	return time.Duration(s.Duration) * time.Second
}

func (s ScenarioConfig) GetDwell() time.Duration {
	return time.Duration(s.Dwell) * time.Second
}

// ElevatorConfig configures the elevated trace agent.
type ElevatorConfig struct {
	Elevator ElevatorInfo `yaml:"elevator"`
	Tools    ToolsConfig  `yaml:"tools"`
}

type ElevatorInfo struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
	// TraceProfile is the .wprp file holding the WPR recording profiles.
	TraceProfile string `yaml:"trace_profile"`
	WprPath      string `yaml:"wpr_path"`
	// GpuRestart restarts the display adapter after IntelPowerLog starts.
	GpuRestart bool `yaml:"gpu_restart"`
}

type ToolsConfig struct {
	ProcMon          ToolConfig `yaml:"procmon"`
	PowerCfg         ToolConfig `yaml:"powercfg"`
	IntelPowerLog    ToolConfig `yaml:"intel_power_log"`
	DevCon           ToolConfig `yaml:"devcon"`
	Ippet            ToolConfig `yaml:"ippet"`
	SocWatch         ToolConfig `yaml:"socwatch"`
	AMDuProf         ToolConfig `yaml:"amduprof"`
	EmptyStandbyList ToolConfig `yaml:"empty_standby_list"`
}

type ToolConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Args are appended to the tool's command line, split shell-style.
	Args string `yaml:"args,omitempty"`
	// Config is a tool-specific configuration file, e.g. the ProcMon .pmc.
	Config string `yaml:"config,omitempty"`
}
