package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/host"
	"browser-efficiency/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	resultsMeasurement  = "browser_results"
	metadataMeasurement = "browser_results_meta"
)

// RunMetadata describes one benchmark sweep.
type RunMetadata struct {
	RunID           string `json:"run_id"`
	BenchmarkName   string `json:"benchmark_name"`
	Description     string `json:"description"`
	SweepChecksum   string `json:"sweep_checksum"`
	DurationSeconds int64  `json:"duration_seconds"`
	Started         string `json:"started"`  // RFC3339 timestamp
	Finished        string `json:"finished"` // RFC3339 timestamp
	Iterations      int    `json:"iterations"`
	TotalBrowsers   int    `json:"total_browsers"`
	TotalScenarios  int    `json:"total_scenarios"`
	MeasureSets     string `json:"measure_sets"`
	TotalRows       int    `json:"total_rows"`
	TotalValues     int    `json:"total_values"`
	DriverVersion   string `json:"driver_version"`
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	KernelVersion   string `json:"kernel_version"`
	CPUVendor       string `json:"cpu_vendor"`
	CPUModel        string `json:"cpu_model"`
	TotalCPUCores   int    `json:"total_cpu_cores"`
	CPUThreads      int    `json:"cpu_threads"`
	ConfigFile      string `json:"config_file"`
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxDBClient(ctx context.Context, cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// WriteResults writes one point per results row.
func (idb *InfluxDBClient) WriteResults(ctx context.Context, metadata *RunMetadata, frame *dataframe.Frame) error {
	points := ResultPoints(metadata, frame)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"points": len(points),
		"bucket": idb.bucket,
	}).Info("Wrote results to InfluxDB")
	return nil
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, metadata *RunMetadata) error {
	if err := idb.writeAPI.WritePoint(ctx, MetadataPoint(metadata)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}

// ResultPoints converts results rows to points. Rows are timestamped with the
// sweep start plus their position so runs with equal tags stay distinct.
func ResultPoints(metadata *RunMetadata, frame *dataframe.Frame) []*write.Point {
	rows := frame.GetAllRows()
	points := make([]*write.Point, 0, len(rows))
	for i, row := range rows {
		fields := createFields(row)
		if len(fields) == 0 {
			continue
		}
		tags := map[string]string{
			"run_id":    metadata.RunID,
			"benchmark": metadata.BenchmarkName,
			"hostname":  metadata.Hostname,
			"browser":   row.Key.Browser,
			"scenario":  row.Key.Scenario,
			"iteration": strconv.Itoa(row.Key.Iteration),
		}
		points = append(points, influxdb2.NewPoint(resultsMeasurement, tags, fields, frame.Started.Add(time.Duration(i)*time.Millisecond)))
	}
	return points
}

// createFields stores numeric metrics as floats and anything else, such as
// extension versions, as strings.
func createFields(row dataframe.Row) map[string]interface{} {
	fields := make(map[string]interface{}, len(row.Metrics))
	for name, value := range row.Metrics {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			fields[name] = f
		} else if value != "" {
			fields[name] = value
		}
	}
	return fields
}

func MetadataPoint(metadata *RunMetadata) *write.Point {
	return influxdb2.NewPoint(metadataMeasurement,
		map[string]string{
			"run_id": metadata.RunID,
		},
		map[string]interface{}{
			"benchmark_name":   metadata.BenchmarkName,
			"description":      metadata.Description,
			"sweep_checksum":   metadata.SweepChecksum,
			"duration_seconds": metadata.DurationSeconds,
			"started":          metadata.Started,
			"finished":         metadata.Finished,
			"iterations":       metadata.Iterations,
			"total_browsers":   metadata.TotalBrowsers,
			"total_scenarios":  metadata.TotalScenarios,
			"measure_sets":     metadata.MeasureSets,
			"total_rows":       metadata.TotalRows,
			"total_values":     metadata.TotalValues,
			"driver_version":   metadata.DriverVersion,
			"hostname":         metadata.Hostname,
			"platform":         metadata.Platform,
			"kernel_version":   metadata.KernelVersion,
			"cpu_vendor":       metadata.CPUVendor,
			"cpu_model":        metadata.CPUModel,
			"total_cpu_cores":  metadata.TotalCPUCores,
			"cpu_threads":      metadata.CPUThreads,
			"config_file":      metadata.ConfigFile,
		},
		time.Now())
}

// CollectRunMetadata summarizes a sweep. hostCfg may be nil.
func CollectRunMetadata(cfg *config.BenchmarkConfig, configContent string, frame *dataframe.Frame, hostCfg *host.HostConfig, startTime, endTime time.Time, driverVersion string) *RunMetadata {
	checksum, err := config.SweepChecksum(cfg)
	if err != nil {
		logging.GetLogger().WithError(err).Warn("Failed to compute sweep checksum")
	}

	totalValues := 0
	rows := frame.GetAllRows()
	for _, row := range rows {
		totalValues += len(row.Metrics)
	}

	metadata := &RunMetadata{
		RunID:           RunID(startTime, checksum),
		BenchmarkName:   cfg.Benchmark.Name,
		Description:     cfg.Benchmark.Description,
		SweepChecksum:   checksum,
		DurationSeconds: int64(endTime.Sub(startTime).Seconds()),
		Started:         startTime.Format(time.RFC3339),
		Finished:        endTime.Format(time.RFC3339),
		Iterations:      cfg.Benchmark.Iterations,
		TotalBrowsers:   len(cfg.Browsers),
		TotalScenarios:  len(cfg.Scenarios),
		MeasureSets:     strings.Join(cfg.MeasureSets, " "),
		TotalRows:       len(rows),
		TotalValues:     totalValues,
		DriverVersion:   driverVersion,
		ConfigFile:      configContent,
	}
	if hostCfg != nil {
		metadata.Hostname = hostCfg.Hostname
		metadata.Platform = hostCfg.Platform
		metadata.KernelVersion = hostCfg.KernelVersion
		metadata.CPUVendor = hostCfg.CPUVendor
		metadata.CPUModel = hostCfg.CPUModel
		metadata.TotalCPUCores = hostCfg.TotalCores
		metadata.CPUThreads = hostCfg.TotalThreads
	}
	return metadata
}

// RunID names a sweep by its start time and checksum.
func RunID(started time.Time, checksum string) string {
	if checksum == "" {
		checksum = "nocsum"
	}
	return started.UTC().Format("20060102T150405Z") + "_" + checksum
}
