package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/logging"

	"github.com/sirupsen/logrus"
)

// ContextColumns lead every results row, ahead of the metric columns.
var ContextColumns = []string{"Browser", "Scenario", "Iteration", "Measure Sets", "Trace File"}

const resultsTimestampLayout = "20060102_150405"

// ExportResults writes the frame to <dir>/results_<timestamp>.csv and returns the path.
func ExportResults(frame *dataframe.Frame, dir string) (string, error) {
	logger := logging.GetLogger()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("results_%s.csv", frame.Started.Format(resultsTimestampLayout)))
	file, err := os.Create(path)
	if err != nil {
		logger.WithField("path", path).WithError(err).Error("Failed to create results file")
		return "", fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	if err := WriteResults(file, frame); err != nil {
		return "", fmt.Errorf("failed to write results: %w", err)
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync results file: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path": path,
		"rows": frame.Len(),
	}).Info("Exported results to CSV")

	return path, nil
}

// WriteResults writes a header of the context columns followed by the sorted
// union of metric columns, then one row per run. Every field is quoted; a
// run without a given metric gets an empty field.
func WriteResults(w io.Writer, frame *dataframe.Frame) error {
	columns := frame.Columns()
	bw := bufio.NewWriter(w)

	header := append(append([]string(nil), ContextColumns...), columns...)
	if err := writeQuoted(bw, header); err != nil {
		return err
	}

	for _, row := range frame.GetAllRows() {
		record := make([]string, 0, len(header))
		record = append(record,
			row.Key.Browser,
			row.Key.Scenario,
			strconv.Itoa(row.Key.Iteration),
			strings.Join(row.MeasureSets, " "),
			strings.Join(row.TraceFiles, " "),
		)
		for _, c := range columns {
			record = append(record, row.Metrics[c])
		}
		if err := writeQuoted(bw, record); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// writeQuoted writes one CSV record with every field double-quoted.
func writeQuoted(w *bufio.Writer, fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(`"` + strings.ReplaceAll(field, `"`, `""`) + `"`); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}
