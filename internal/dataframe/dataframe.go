package dataframe

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/measureset"

	"github.com/sirupsen/logrus"
)

// RunKey identifies one measured run of a scenario in a browser.
type RunKey struct {
	Browser   string `json:"browser"`
	Scenario  string `json:"scenario"`
	Iteration int    `json:"iteration"`
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s_%s_%d", k.Browser, k.Scenario, k.Iteration)
}

// Less orders keys by browser, scenario, then iteration.
func (k RunKey) Less(o RunKey) bool {
	if k.Browser != o.Browser {
		return k.Browser < o.Browser
	}
	if k.Scenario != o.Scenario {
		return k.Scenario < o.Scenario
	}
	return k.Iteration < o.Iteration
}

// Row is the merged result of one run.
type Row struct {
	Key         RunKey             `json:"key"`
	MeasureSets []string           `json:"measure_sets"`
	TraceFiles  []string           `json:"trace_files"`
	Metrics     measureset.Metrics `json:"metrics"`
}

func (r *Row) clone() Row {
	out := Row{
		Key:         r.Key,
		MeasureSets: append([]string(nil), r.MeasureSets...),
		TraceFiles:  append([]string(nil), r.TraceFiles...),
		Metrics:     make(measureset.Metrics, len(r.Metrics)),
	}
	for k, v := range r.Metrics {
		out.Metrics[k] = v
	}
	return out
}

// Frame collects result rows keyed by run.
type Frame struct {
	Started time.Time

	rows  map[RunKey]*Row
	mutex sync.RWMutex
}

func NewFrame(started time.Time) *Frame {
	return &Frame{
		Started: started,
		rows:    make(map[RunKey]*Row),
	}
}

// FromRows rebuilds a frame from rows returned by GetAllRows.
func FromRows(started time.Time, rows []Row) *Frame {
	f := NewFrame(started)
	for i := range rows {
		r := rows[i].clone()
		f.rows[r.Key] = &r
	}
	return f
}

// AddRow makes sure a row exists for key, so a run with no metrics is still reported.
func (f *Frame) AddRow(key RunKey) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.row(key)
}

func (f *Frame) row(key RunKey) *Row {
	r, ok := f.rows[key]
	if !ok {
		r = &Row{Key: key, Metrics: make(measureset.Metrics)}
		f.rows[key] = r
	}
	return r
}

// AddTrace records a trace file that contributed to the run.
func (f *Frame) AddTrace(key RunKey, traceFile string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	r := f.row(key)
	r.TraceFiles = appendUnique(r.TraceFiles, traceFile)
}

// AddOrMerge merges the metrics a measure set computed into the run's row.
// Metrics already present keep their value and are returned as a
// *measureset.DuplicateMetricError.
func (f *Frame) AddOrMerge(key RunKey, set string, metrics measureset.Metrics) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	r := f.row(key)
	r.MeasureSets = appendUnique(r.MeasureSets, set)
	err := measureset.Merge(r.Metrics, metrics, set)

	logging.GetLogger().WithFields(logrus.Fields{
		"run":         key.String(),
		"measure_set": set,
		"metrics":     len(metrics),
	}).Debug("Merged metrics into results row")

	return err
}

// MergeColumns merges columns that do not come from a measure set, such as
// responsiveness timings or extension versions.
func (f *Frame) MergeColumns(key RunKey, source string, columns map[string]string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return measureset.Merge(f.row(key).Metrics, columns, source)
}

func (f *Frame) GetRow(key RunKey) (Row, bool) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	r, ok := f.rows[key]
	if !ok {
		return Row{}, false
	}
	return r.clone(), true
}

// GetAllRows returns copies of all rows, sorted by key.
func (f *Frame) GetAllRows() []Row {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	rows := make([]Row, 0, len(f.rows))
	for _, r := range f.rows {
		rows = append(rows, r.clone())
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key.Less(rows[j].Key) })
	return rows
}

// Columns returns the sorted union of metric names over all rows.
func (f *Frame) Columns() []string {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	seen := make(map[string]bool)
	for _, r := range f.rows {
		for name := range r.Metrics {
			seen[name] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for name := range seen {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

func (f *Frame) Len() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.rows)
}

// LogSummary logs how many rows and metrics the frame holds.
func (f *Frame) LogSummary() {
	rows := f.GetAllRows()
	total := 0
	for _, r := range rows {
		total += len(r.Metrics)
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"rows":    len(rows),
		"columns": len(f.Columns()),
		"values":  total,
	}).Info("Results summary")
}

// ResponsivenessColumn names the column holding a responsiveness measurement.
func ResponsivenessColumn(measure string) string {
	return fmt.Sprintf("Responsiveness %s (ms)", measure)
}

// ExtensionColumn names the column holding an extension's version.
func ExtensionColumn(name string) string {
	return fmt.Sprintf("Extension %s Version", name)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
