// Package measureset reduces the CSV tables exported from a trace into
// per-process metrics for the browsers under test.
package measureset

import (
	"browser-efficiency/internal/protocol"
)

// CSVData maps an export file name to its data rows, header excluded.
type CSVData map[string][]string

// Metrics maps a metric name such as "CPU chrome.exe Utilization %" to a decimal string.
type Metrics map[string]string

// MeasureSet describes how to capture one class of metric and how to reduce
// the exported rows to metrics. CalculateMetrics must not modify its input.
type MeasureSet interface {
	Name() string
	// WprProfile is the recording profile in the .wprp file.
	WprProfile() string
	TracingMode() protocol.TraceMode
	// WpaProfile is the export profile file, relative to the profile directory.
	WpaProfile() string
	// ExportFiles are the CSV files the export profile produces, in order.
	ExportFiles() []string
	CalculateMetrics(data CSVData) Metrics
}

type definition struct {
	name        string
	wprProfile  string
	mode        protocol.TraceMode
	wpaProfile  string
	exportFiles []string
}

func (d definition) Name() string                    { return d.name }
func (d definition) WprProfile() string              { return d.wprProfile }
func (d definition) TracingMode() protocol.TraceMode { return d.mode }
func (d definition) WpaProfile() string              { return d.wpaProfile }

func (d definition) ExportFiles() []string {
	return append([]string(nil), d.exportFiles...)
}

// rows returns the rows of the first export file.
func (d definition) rows(data CSVData) []string {
	if len(d.exportFiles) == 0 {
		return nil
	}
	return data[d.exportFiles[0]]
}
