package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"browser-efficiency/internal/logging"

	"gopkg.in/yaml.v3"
)

const (
	DefaultElevatorPort   = 8990
	DefaultElevatorListen = ":8990"
	DefaultAckTimeout     = 120
	DefaultTraceProfile   = "DefaultTraceProfile.wprp"
	DefaultWprPath        = "wpr.exe"
	DefaultExporterPath   = "wpaexporter.exe"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func LoadConfig(path string) (*BenchmarkConfig, error) {
	config, _, err := LoadConfigWithContent(path)
	return config, err
}

func LoadConfigWithContent(path string) (*BenchmarkConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithField("filepath", path).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	var config BenchmarkConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", path).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	// Set KeyName field for each browser based on the YAML key
	for keyName, browser := range config.Browsers {
		browser.KeyName = keyName
		if browser.ProcessName == "" {
			browser.ProcessName = executableName(browser.Executable)
		}
		config.Browsers[keyName] = browser
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

func LoadElevatorConfig(path string) (*ElevatorConfig, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithField("filepath", path).WithError(err).Error("Failed to read elevator config file")
		return nil, err
	}

	var config ElevatorConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &config); err != nil {
		logger.WithField("filepath", path).WithError(err).Error("Failed to parse elevator config file")
		return nil, err
	}

	applyElevatorDefaults(&config)

	if err := validateElevatorConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid elevator config: %w", err)
	}

	return &config, nil
}

// DefaultElevatorConfig is used when the elevator starts without a config file.
func DefaultElevatorConfig() *ElevatorConfig {
	config := &ElevatorConfig{}
	applyElevatorDefaults(config)
	return config
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func executableName(path string) string {
	// Config files are written on Windows; accept either separator.
	path = strings.ReplaceAll(path, `\`, "/")
	return strings.ToLower(filepath.Base(path))
}

func applyDefaults(config *BenchmarkConfig) {
	if config.Benchmark.Iterations == 0 {
		config.Benchmark.Iterations = 1
	}
	if config.Benchmark.Attempts == 0 {
		config.Benchmark.Attempts = 1
	}
	if config.Benchmark.LogLevel == "" {
		config.Benchmark.LogLevel = "info"
	}
	if config.Benchmark.ResultsPath == "" {
		config.Benchmark.ResultsPath = "."
	}
	if config.Benchmark.TracePath == "" {
		config.Benchmark.TracePath = config.Benchmark.ResultsPath
	}
	if config.Elevator.Host == "" {
		config.Elevator.Host = "localhost"
	}
	if config.Elevator.Port == 0 {
		config.Elevator.Port = DefaultElevatorPort
	}
	if config.Elevator.AckTimeout == 0 {
		config.Elevator.AckTimeout = DefaultAckTimeout
	}
	if config.Exporter.Path == "" {
		config.Exporter.Path = DefaultExporterPath
	}
}

func applyElevatorDefaults(config *ElevatorConfig) {
	if config.Elevator.Listen == "" {
		config.Elevator.Listen = DefaultElevatorListen
	}
	if config.Elevator.LogLevel == "" {
		config.Elevator.LogLevel = "info"
	}
	if config.Elevator.TraceProfile == "" {
		config.Elevator.TraceProfile = DefaultTraceProfile
	}
	if config.Elevator.WprPath == "" {
		config.Elevator.WprPath = DefaultWprPath
	}

	tools := &config.Tools
	defaultPath(&tools.ProcMon, "procmon.exe")
	defaultPath(&tools.PowerCfg, "powercfg.exe")
	defaultPath(&tools.IntelPowerLog, `C:\Program Files\Intel\Power Gadget 3.5\PowerLog3.0.exe`)
	defaultPath(&tools.DevCon, `C:\Program Files (x86)\Windows Kits\10\tools\x64\devcon.exe`)
	defaultPath(&tools.Ippet, `ippet\ippet.exe`)
	defaultPath(&tools.SocWatch, `socwatch\socwatch.exe`)
	defaultPath(&tools.AMDuProf, `C:\Program Files\AMD\AMDuProf\bin\AMDuProfCLI.exe`)
	defaultPath(&tools.EmptyStandbyList, "EmptyStandbyList.exe")
	if tools.ProcMon.Config == "" {
		tools.ProcMon.Config = "ProcmonConfiguration.pmc"
	}
}

func defaultPath(tool *ToolConfig, path string) {
	if tool.Path == "" {
		tool.Path = path
	}
}

func validateConfig(config *BenchmarkConfig) error {
	if config.Benchmark.Name == "" {
		return fmt.Errorf("benchmark name is required")
	}

	if config.Benchmark.Iterations < 0 {
		return fmt.Errorf("iterations must be greater than 0")
	}

	if config.Benchmark.Attempts < 0 {
		return fmt.Errorf("attempts must be greater than 0")
	}

	if config.Benchmark.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative")
	}

	if len(config.Browsers) == 0 {
		return fmt.Errorf("at least one browser must be defined")
	}

	if len(config.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario must be defined")
	}

	if config.Elevator.Enabled && (config.Elevator.Port <= 0 || config.Elevator.Port > 65535) {
		return fmt.Errorf("elevator port %d is out of range", config.Elevator.Port)
	}

	// Validate database config
	if db := config.Database; db != nil {
		if db.Host == "" || db.Token == "" || db.Org == "" || db.Bucket == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	// Validate browsers
	indices := make(map[int]bool)
	for name, browser := range config.Browsers {
		if strings.ContainsAny(name, " \t") {
			return fmt.Errorf("browser %s: name must not contain whitespace", name)
		}
		// Trace files are named browser_scenario_iteration_..., so the
		// browser is everything before the first underscore.
		if strings.Contains(name, "_") {
			return fmt.Errorf("browser %s: name must not contain underscores", name)
		}
		if browser.Executable == "" {
			return fmt.Errorf("browser %s: executable is required", name)
		}
		if indices[browser.Index] && browser.Index != 0 {
			return fmt.Errorf("browser %s: index %d is already used", name, browser.Index)
		}
		indices[browser.Index] = true
	}

	// Validate scenarios
	names := make(map[string]bool)
	for i, scenario := range config.Scenarios {
		if scenario.Name == "" {
			return fmt.Errorf("scenario %d: name is required", i)
		}
		if strings.ContainsAny(scenario.Name, " \t") {
			return fmt.Errorf("scenario %s: name must not contain whitespace", scenario.Name)
		}
		if names[scenario.Name] {
			return fmt.Errorf("scenario %s: defined more than once", scenario.Name)
		}
		names[scenario.Name] = true
		if len(scenario.URLs) == 0 {
			return fmt.Errorf("scenario %s: at least one url is required", scenario.Name)
		}
		if scenario.Duration < 0 || scenario.Dwell < 0 {
			return fmt.Errorf("scenario %s: duration and dwell must not be negative", scenario.Name)
		}
	}

	for _, ext := range config.Extensions {
		if ext.Name == "" {
			return fmt.Errorf("extension name is required")
		}
	}

	return nil
}

func validateElevatorConfig(config *ElevatorConfig) error {
	if config.Elevator.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	if !strings.HasSuffix(strings.ToLower(config.Elevator.TraceProfile), ".wprp") {
		return fmt.Errorf("trace profile %s must be a .wprp file", config.Elevator.TraceProfile)
	}

	if config.Elevator.GpuRestart && !config.Tools.IntelPowerLog.Enabled {
		return fmt.Errorf("gpu_restart requires intel_power_log to be enabled")
	}

	return nil
}
