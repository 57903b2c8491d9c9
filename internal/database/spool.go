package database

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/host"
	"browser-efficiency/internal/logging"

	"github.com/sirupsen/logrus"
)

type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID         string `json:"run_id"`
	BenchmarkName string `json:"benchmark_name"`
	SweepChecksum string `json:"sweep_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Metadata *RunMetadata     `json:"metadata"`
	Host     *host.HostConfig `json:"host,omitempty"`
	Columns  []string         `json:"columns"`
	Rows     []dataframe.Row  `json:"rows"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("BROWSER_EFFICIENCY_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.SweepChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"results_%s_%s.json.gz",
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// ReadSpoolArtifact decodes an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool artifact: %w", err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("failed to decode spool artifact: %w", err)
	}
	return &artifact, nil
}

// BuildSpoolArtifact constructs a spool artifact from the in-memory results.
func BuildSpoolArtifact(
	metadata *RunMetadata,
	hostCfg *host.HostConfig,
	configContent string,
	frame *dataframe.Frame,
	startTime, endTime time.Time,
) *SpoolArtifact {
	artifact := &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		StartTime:     startTime,
		EndTime:       endTime,
		ConfigContent: configContent,
		Metadata:      metadata,
		Host:          hostCfg,
		Columns:       frame.Columns(),
		Rows:          frame.GetAllRows(),
	}
	if metadata != nil {
		artifact.RunID = metadata.RunID
		artifact.BenchmarkName = metadata.BenchmarkName
		artifact.SweepChecksum = metadata.SweepChecksum
	}
	return artifact
}

// Frame rebuilds the results frame the artifact was written from.
func (a *SpoolArtifact) Frame() *dataframe.Frame {
	return dataframe.FromRows(a.StartTime, a.Rows)
}

// ResultWriter is the part of InfluxDBClient that FlushSpool needs.
type ResultWriter interface {
	WriteResults(ctx context.Context, metadata *RunMetadata, frame *dataframe.Frame) error
	WriteMetadata(ctx context.Context, metadata *RunMetadata) error
}

// PendingSpoolArtifacts lists the artifacts in dir, oldest first.
func PendingSpoolArtifacts(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	paths, err := filepath.Glob(filepath.Join(dir, "results_*.json.gz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// FlushSpool uploads every pending artifact in dir and removes the ones that
// were written. Artifacts that cannot be decoded are kept and skipped. It
// stops at the first write error and returns how many artifacts were uploaded.
func FlushSpool(ctx context.Context, dir string, w ResultWriter) (int, error) {
	logger := logging.GetLogger()

	paths, err := PendingSpoolArtifacts(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list spool directory: %w", err)
	}

	uploaded := 0
	for _, path := range paths {
		artifact, err := ReadSpoolArtifact(path)
		if err == nil && artifact.Metadata == nil {
			err = errors.New("artifact has no run metadata")
		}
		if err != nil {
			logger.WithField("path", path).WithError(err).Warn("Skipping unreadable spool file")
			continue
		}

		if err := w.WriteResults(ctx, artifact.Metadata, artifact.Frame()); err != nil {
			logger.WithField("path", path).WithError(err).Error("Failed to upload spooled results")
			return uploaded, fmt.Errorf("failed to upload %s: %w", path, err)
		}
		if err := w.WriteMetadata(ctx, artifact.Metadata); err != nil {
			logger.WithField("path", path).WithError(err).Error("Failed to upload spooled metadata")
			return uploaded, fmt.Errorf("failed to upload %s: %w", path, err)
		}

		if err := os.Remove(path); err != nil {
			logger.WithField("path", path).WithError(err).Warn("Failed to remove spool file")
		}
		uploaded++
		logger.WithFields(logrus.Fields{
			"path":   path,
			"run_id": artifact.RunID,
		}).Info("Uploaded spooled results")
	}
	return uploaded, nil
}
