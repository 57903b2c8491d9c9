package perfprocessor

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"browser-efficiency/internal/dataframe"
)

const traceTimestampLayout = "20060102_150405"

// TraceFile is a trace recorded for one run:
// <browser>_<scenario>_<iteration>_<profile>_<date>_<time>.etl
type TraceFile struct {
	Path      string
	Key       dataframe.RunKey
	Profile   string
	Timestamp time.Time
}

// ParseTraceFile extracts the run from a trace file name. The scenario may
// itself contain underscores.
func ParseTraceFile(path string) (TraceFile, error) {
	base := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(base), ".etl") {
		return TraceFile{}, fmt.Errorf("not a trace file: %s", base)
	}
	parts := strings.Split(strings.TrimSuffix(base, filepath.Ext(base)), "_")
	n := len(parts)
	if n < 6 {
		return TraceFile{}, fmt.Errorf("unexpected trace file name: %s", base)
	}

	iteration, err := strconv.Atoi(parts[n-4])
	if err != nil {
		return TraceFile{}, fmt.Errorf("invalid iteration in trace file name %s: %w", base, err)
	}
	timestamp, err := time.ParseInLocation(traceTimestampLayout, parts[n-2]+"_"+parts[n-1], time.Local)
	if err != nil {
		return TraceFile{}, fmt.Errorf("invalid timestamp in trace file name %s: %w", base, err)
	}

	return TraceFile{
		Path: path,
		Key: dataframe.RunKey{
			Browser:   parts[0],
			Scenario:  strings.Join(parts[1:n-4], "_"),
			Iteration: iteration,
		},
		Profile:   parts[n-3],
		Timestamp: timestamp,
	}, nil
}
