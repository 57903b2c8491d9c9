package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/database"
	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/elevator"
	"browser-efficiency/internal/host"
	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/measureset"
	"browser-efficiency/internal/perfprocessor"
	"browser-efficiency/internal/process"
	"browser-efficiency/internal/runner"
	"browser-efficiency/internal/scenario"
	"browser-efficiency/internal/storage"
	"browser-efficiency/internal/tools"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	// Try to load from the application directory
	if execPath, err := os.Executable(); err == nil {
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
			} else {
				logger.WithField("file", envFile).Debug("Loaded environment variables")
			}
		}
	}
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	var configFile string
	var elevatorConfigFile string
	var etlDir string
	var logLevel string
	var logFormat string

	rootCmd := &cobra.Command{
		Use:   "browser-efficiency",
		Short: "Browser power and performance benchmarking tool",
		Long:  "Drives browser scenarios under ETW tracing through an elevated agent and turns the traces into per-run metrics",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logFormat != "" {
				if err := logging.SetLogFormat(logFormat); err != nil {
					return err
				}
			}
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				if err := logging.SetAgentLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Set log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(configFile)
		},
	}

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Compute metrics from recorded traces",
		Long:  "Export the traces of a previous sweep with WPA and write the results table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return processTraces(configFile, etlDir)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a benchmark configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload spooled results",
		Long:  "Write results that were spooled to disk because the database was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return uploadSpool(configFile)
		},
	}

	elevatorCmd := &cobra.Command{
		Use:   "elevator",
		Short: "Run the elevated trace agent",
		Long:  "Listen for a driver and start and stop the tracing tools on its behalf. Must run with administrator rights.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runElevator(elevatorConfigFile)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")
	runCmd.MarkFlagRequired("config")

	processCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")
	processCmd.Flags().StringVar(&etlDir, "etl-dir", "", "Folder holding the .etl traces (defaults to the configured trace path)")
	processCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")
	validateCmd.MarkFlagRequired("config")

	uploadCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")
	uploadCmd.MarkFlagRequired("config")

	elevatorCmd.Flags().StringVarP(&elevatorConfigFile, "config", "c", "", "Path to elevator configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(elevatorCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	if _, err := measureset.DefaultRegistry().Select(cfg.MeasureSets); err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}

// loadBenchmarkConfig loads a config and applies its log level.
func loadBenchmarkConfig(configFile string) (*config.BenchmarkConfig, string, error) {
	logger := logging.GetLogger()

	cfg, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.SetLogLevel(cfg.Benchmark.LogLevel); err != nil {
		logger.WithField("log_level", cfg.Benchmark.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
		logging.SetLogLevel("info")
	} else {
		logger.WithField("log_level", cfg.Benchmark.LogLevel).Debug("Log level set from configuration")
	}
	return cfg, content, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBenchmark(configFile string) error {
	logger := logging.GetLogger()

	cfg, configContent, err := loadBenchmarkConfig(configFile)
	if err != nil {
		return err
	}

	sets, err := measureset.DefaultRegistry().Select(cfg.MeasureSets)
	if err != nil {
		logger.WithError(err).Error("Failed to select measure sets")
		return fmt.Errorf("failed to select measure sets: %w", err)
	}

	credentials, err := scenario.LoadCredentials(cfg.Benchmark.Credentials)
	if err != nil {
		logger.WithField("file", cfg.Benchmark.Credentials).WithError(err).Error("Failed to load credentials")
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var tracer runner.Tracer = runner.NopTracer{}
	if cfg.Elevator.Enabled {
		addr := net.JoinHostPort(cfg.Elevator.Host, strconv.Itoa(cfg.Elevator.Port))
		client, err := elevator.Dial(ctx, addr, cfg.GetAckTimeout())
		if err != nil {
			logger.WithField("address", addr).WithError(err).Error("Failed to connect to elevator")
			return fmt.Errorf("failed to connect to elevator: %w", err)
		}
		defer client.Close()
		tracer = client
		logger.WithField("address", addr).Info("Connected to elevator")
	} else {
		logger.Warn("Elevator disabled, runs will not be traced")
	}

	local := process.NewLocalRunner()
	browsers := make([]string, 0, len(cfg.Browsers))
	for _, b := range cfg.GetBrowsersSorted() {
		browsers = append(browsers, b.KeyName)
	}

	bench := runner.New(
		browsers,
		scenario.FromConfig(cfg.Scenarios),
		sets,
		scenario.NewExecLauncher(cfg.Browsers, local),
		tracer,
		credentials,
		runner.OptionsFromConfig(cfg),
	)

	if interval := cfg.GetHeartbeatInterval(); interval > 0 {
		if err := os.MkdirAll(cfg.Benchmark.ResultsPath, 0755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
		bench.SetHeartbeat(runner.NewHeartbeat(filepath.Join(cfg.Benchmark.ResultsPath, runner.HeartbeatFile), interval))
	}

	logger.WithFields(logrus.Fields{
		"name":         cfg.Benchmark.Name,
		"browsers":     browsers,
		"scenarios":    len(cfg.Scenarios),
		"measure_sets": cfg.MeasureSets,
		"iterations":   cfg.Benchmark.Iterations,
	}).Info("Starting benchmark")

	startTime := time.Now()
	summary, err := bench.Run(ctx)
	endTime := time.Now()
	if err != nil {
		if runner.IsCancelled(err) {
			logger.Info("Benchmark interrupted")
			return nil
		}
		logger.WithError(err).Error("Benchmark failed")
		return fmt.Errorf("benchmark failed: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"runs":     summary.Runs,
		"failed":   summary.Failed,
		"duration": endTime.Sub(startTime),
	}).Info("Benchmark completed")

	if !cfg.Benchmark.PostProcessing {
		return nil
	}

	frame, err := postProcess(ctx, cfg, sets, cfg.Benchmark.TracePath)
	if err != nil {
		return err
	}
	return publishResults(ctx, cfg, configContent, frame, startTime, endTime)
}

func processTraces(configFile, etlDir string) error {
	cfg, configContent, err := loadBenchmarkConfig(configFile)
	if err != nil {
		return err
	}
	if etlDir == "" {
		etlDir = cfg.Benchmark.TracePath
	}

	sets, err := measureset.DefaultRegistry().Select(cfg.MeasureSets)
	if err != nil {
		return fmt.Errorf("failed to select measure sets: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	startTime := time.Now()
	frame, err := postProcess(ctx, cfg, sets, etlDir)
	if err != nil {
		return err
	}
	return publishResults(ctx, cfg, configContent, frame, startTime, time.Now())
}

// postProcess exports every trace in etlDir and writes the results table
// next to the responsiveness file.
func postProcess(ctx context.Context, cfg *config.BenchmarkConfig, sets []measureset.MeasureSet, etlDir string) (*dataframe.Frame, error) {
	logger := logging.GetLogger()

	var responsiveness storage.Responsiveness
	if cfg.Benchmark.Responsiveness {
		var err error
		responsiveness, err = storage.LoadResponsiveness(filepath.Join(cfg.Benchmark.ResultsPath, storage.ResponsivenessFile))
		if err != nil {
			logger.WithError(err).Warn("Failed to load responsiveness results")
		}
	}

	exporter := perfprocessor.NewWPAExporter(process.NewLocalRunner(), cfg.Exporter.Path)
	processor := perfprocessor.NewProcessor(sets, exporter, cfg.Exporter.ProfileDir)

	frame, path, err := processor.Execute(ctx, etlDir, cfg.Benchmark.ResultsPath, responsiveness, cfg.GetExtensionVersions())
	if err != nil {
		logger.WithField("etl_dir", etlDir).WithError(err).Error("Failed to process traces")
		return nil, fmt.Errorf("failed to process traces: %w", err)
	}
	logger.WithField("path", path).Info("Results written")
	return frame, nil
}

// publishResults spools the results to disk and, when a database is
// configured, writes them to InfluxDB. A failed upload leaves the spool
// file behind for a later retry.
func publishResults(ctx context.Context, cfg *config.BenchmarkConfig, configContent string, frame *dataframe.Frame, startTime, endTime time.Time) error {
	logger := logging.GetLogger()

	hostCfg, err := host.GetHostConfig()
	if err != nil {
		logger.WithError(err).Warn("Failed to read host configuration")
	}

	metadata := database.CollectRunMetadata(cfg, configContent, frame, hostCfg, startTime, endTime, Version)
	artifact := database.BuildSpoolArtifact(metadata, hostCfg, configContent, frame, startTime, endTime)
	spoolPath, spoolErr := database.WriteSpoolArtifact(database.DefaultSpoolDir(), artifact)
	if spoolErr != nil {
		logger.WithError(spoolErr).Warn("Failed to spool results")
	} else {
		logger.WithField("path", spoolPath).Info("Results spooled")
	}

	if cfg.Database == nil {
		return nil
	}

	dbClient, err := database.NewInfluxDBClient(ctx, *cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to create database client")
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer dbClient.Close()

	if err := dbClient.WriteResults(ctx, metadata, frame); err != nil {
		logger.WithError(err).Error("Failed to export results")
		return fmt.Errorf("failed to export results: %w", err)
	}
	if err := dbClient.WriteMetadata(ctx, metadata); err != nil {
		logger.WithError(err).Error("Failed to export metadata")
		return fmt.Errorf("failed to export metadata: %w", err)
	}

	if spoolErr == nil {
		if err := os.Remove(spoolPath); err != nil {
			logger.WithField("path", spoolPath).WithError(err).Warn("Failed to remove spool file")
		}
	}

	logger.WithField("run_id", metadata.RunID).Info("Results exported to database")

	// The database is reachable again, so send what earlier sweeps left behind.
	if n, err := database.FlushSpool(ctx, database.DefaultSpoolDir(), dbClient); err != nil {
		logger.WithError(err).Warn("Failed to upload older spooled results")
	} else if n > 0 {
		logger.WithField("artifacts", n).Info("Uploaded older spooled results")
	}
	return nil
}

func uploadSpool(configFile string) error {
	logger := logging.GetLogger()

	cfg, _, err := loadBenchmarkConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Database == nil {
		return fmt.Errorf("no database configured in %s", configFile)
	}

	ctx, stop := signalContext()
	defer stop()

	dbClient, err := database.NewInfluxDBClient(ctx, *cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to create database client")
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer dbClient.Close()

	dir := database.DefaultSpoolDir()
	n, err := database.FlushSpool(ctx, dir, dbClient)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"dir":       dir,
		"artifacts": n,
	}).Info("Spool upload complete")
	return nil
}

func runElevator(configFile string) error {
	logger := logging.GetAgentLogger()

	cfg := config.DefaultElevatorConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadElevatorConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load elevator config: %w", err)
		}
	}

	if err := logging.SetAgentLogLevel(cfg.Elevator.LogLevel); err != nil {
		logger.WithField("log_level", cfg.Elevator.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
		logging.SetAgentLogLevel("info")
	}
	if cfg.Elevator.LogFile != "" {
		f, err := logging.SetOutputFile(cfg.Elevator.LogFile)
		if err != nil {
			logger.WithField("file", cfg.Elevator.LogFile).WithError(err).Warn("Failed to open log file")
		} else {
			defer f.Close()
		}
	}

	server := elevator.NewServer(cfg.Elevator.Listen)
	if err := server.Listen(); err != nil {
		logger.WithError(err).Error("Failed to start listening")
		return err
	}
	controller := elevator.NewController(server, tools.NewSet(cfg, process.NewLocalRunner()))

	ctx, stop := signalContext()
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return controller.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down elevator")
		return server.Shutdown()
	})

	// Run returns once a protocol error ends it; Shutdown then follows through gctx.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
