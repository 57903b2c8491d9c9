// Package perfprocessor exports recorded traces to CSV, reduces them with the
// selected measure sets and writes one results row per run.
package perfprocessor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/measureset"
	"browser-efficiency/internal/storage"

	"github.com/sirupsen/logrus"
)

type Processor struct {
	sets       []measureset.MeasureSet
	exporter   Exporter
	profileDir string
	now        func() time.Time
}

// NewProcessor reduces traces with sets. Export profiles are resolved
// relative to profileDir.
func NewProcessor(sets []measureset.MeasureSet, exporter Exporter, profileDir string) *Processor {
	return &Processor{
		sets:       sets,
		exporter:   exporter,
		profileDir: profileDir,
		now:        time.Now,
	}
}

// Execute processes every trace in etlDir and writes the results CSV to
// outDir. It returns the frame and the path of the results file.
func (p *Processor) Execute(ctx context.Context, etlDir, outDir string, responsiveness storage.Responsiveness, extensions map[string]string) (*dataframe.Frame, string, error) {
	frame, err := p.Process(ctx, etlDir, responsiveness, extensions)
	if err != nil {
		return nil, "", err
	}
	frame.LogSummary()

	path, err := storage.ExportResults(frame, outDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write results: %w", err)
	}
	return frame, path, nil
}

// Process builds the results frame. A trace that fails to export or load is
// logged and its run still gets a row.
func (p *Processor) Process(ctx context.Context, etlDir string, responsiveness storage.Responsiveness, extensions map[string]string) (*dataframe.Frame, error) {
	logger := logging.GetLogger()
	frame := dataframe.NewFrame(p.now())

	traces, err := p.findTraces(etlDir)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"folder": etlDir,
		"traces": len(traces),
	}).Info("Processing trace files")

	for _, trace := range traces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.processTrace(ctx, frame, trace)
	}

	for key, columns := range responsiveness {
		if err := frame.MergeColumns(key, "responsiveness", columns); err != nil {
			logger.WithField("run", key.String()).WithError(err).Error("Failed to merge responsiveness results")
		}
	}

	if len(extensions) > 0 {
		columns := make(map[string]string, len(extensions))
		for name, version := range extensions {
			columns[dataframe.ExtensionColumn(name)] = version
		}
		for _, row := range frame.GetAllRows() {
			if err := frame.MergeColumns(row.Key, "extensions", columns); err != nil {
				logger.WithField("run", row.Key.String()).WithError(err).Error("Failed to merge extension versions")
			}
		}
	}

	return frame, nil
}

func (p *Processor) findTraces(etlDir string) ([]TraceFile, error) {
	logger := logging.GetLogger()

	entries, err := os.ReadDir(etlDir)
	if err != nil {
		logger.WithField("folder", etlDir).WithError(err).Error("Failed to read trace folder")
		return nil, fmt.Errorf("failed to read trace folder: %w", err)
	}

	var traces []TraceFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".etl") {
			continue
		}
		trace, err := ParseTraceFile(filepath.Join(etlDir, entry.Name()))
		if err != nil {
			logger.WithField("file", entry.Name()).WithError(err).Warn("Skipping trace file")
			continue
		}
		traces = append(traces, trace)
	}
	sort.Slice(traces, func(i, j int) bool {
		if traces[i].Key != traces[j].Key {
			return traces[i].Key.Less(traces[j].Key)
		}
		return traces[i].Path < traces[j].Path
	})
	return traces, nil
}

func (p *Processor) processTrace(ctx context.Context, frame *dataframe.Frame, trace TraceFile) {
	logger := logging.GetLogger().WithFields(logrus.Fields{
		"run":     trace.Key.String(),
		"profile": trace.Profile,
		"trace":   filepath.Base(trace.Path),
	})

	frame.AddRow(trace.Key)

	sets := p.setsFor(trace.Profile)
	if len(sets) == 0 {
		logger.Debug("No selected measure set records this profile")
		return
	}
	frame.AddTrace(trace.Key, filepath.Base(trace.Path))

	exportDir, err := os.MkdirTemp("", "wpa-export-*")
	if err != nil {
		logger.WithError(err).Error("Failed to create export folder")
		return
	}
	defer os.RemoveAll(exportDir)

	for _, set := range sets {
		setLogger := logger.WithField("measure_set", set.Name())

		prefix := set.Name() + "_"
		profile := filepath.Join(p.profileDir, set.WpaProfile())
		if err := p.exporter.Export(ctx, trace.Path, profile, exportDir, prefix); err != nil {
			setLogger.WithError(err).Error("Failed to export trace")
			continue
		}

		data := make(measureset.CSVData)
		for _, name := range set.ExportFiles() {
			rows, err := LoadCSV(filepath.Join(exportDir, prefix+name))
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					setLogger.WithField("file", name).Warn("Expected export file is missing")
				} else {
					setLogger.WithField("file", name).WithError(err).Error("Failed to load export file")
				}
				continue
			}
			data[name] = rows
		}

		metrics := set.CalculateMetrics(data)
		if err := frame.AddOrMerge(trace.Key, set.Name(), metrics); err != nil {
			setLogger.WithError(err).Error("Measure set metrics collide with existing columns")
		}
		setLogger.WithField("metrics", len(metrics)).Debug("Calculated metrics")
	}
}

// setsFor returns the selected measure sets recorded by a WPR profile.
func (p *Processor) setsFor(profile string) []measureset.MeasureSet {
	var out []measureset.MeasureSet
	for _, s := range p.sets {
		if strings.EqualFold(s.WprProfile(), profile) {
			out = append(out, s)
		}
	}
	return out
}
