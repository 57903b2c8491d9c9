package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/logging"

	"github.com/sirupsen/logrus"
)

// ResponsivenessFile is the name of the file the driver saves timings to.
const ResponsivenessFile = "responsiveness.csv"

var responsivenessHeader = []string{"Browser", "Scenario", "Iteration", "Measure", "Duration (ms)"}

// ResponsivenessRecord is one timing taken while a scenario ran.
type ResponsivenessRecord struct {
	Key      dataframe.RunKey
	Measure  string
	Duration time.Duration
}

// Responsiveness maps a run to its responsiveness columns.
type Responsiveness map[dataframe.RunKey]map[string]string

// WriteResponsiveness replaces path with records.
func WriteResponsiveness(path string, records []ResponsivenessRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create responsiveness file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(responsivenessHeader); err != nil {
		return fmt.Errorf("failed to write responsiveness header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Key.Browser,
			r.Key.Scenario,
			strconv.Itoa(r.Key.Iteration),
			r.Measure,
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write responsiveness record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadResponsiveness reads a responsiveness file into result columns. Timings
// of the same measure within one run are summed. A missing file yields no
// results; malformed lines are logged and skipped.
func LoadResponsiveness(path string) (Responsiveness, error) {
	logger := logging.GetLogger()
	results := make(Responsiveness)

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return results, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open responsiveness file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	totals := make(map[dataframe.RunKey]map[string]int64)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			logger.WithFields(logrus.Fields{"path": path, "line": parseErr.Line}).WithError(err).Warn("Skipping unparsable responsiveness record")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read responsiveness file: %w", err)
		}
		if line == 1 {
			continue
		}
		if len(record) != len(responsivenessHeader) {
			logger.WithFields(logrus.Fields{"path": path, "line": line}).Warn("Skipping malformed responsiveness record")
			continue
		}
		iteration, iterErr := strconv.Atoi(record[2])
		ms, msErr := strconv.ParseInt(record[4], 10, 64)
		if iterErr != nil || msErr != nil {
			logger.WithFields(logrus.Fields{"path": path, "line": line}).Warn("Skipping malformed responsiveness record")
			continue
		}

		key := dataframe.RunKey{Browser: record[0], Scenario: record[1], Iteration: iteration}
		if totals[key] == nil {
			totals[key] = make(map[string]int64)
		}
		totals[key][record[3]] += ms
	}

	for key, measures := range totals {
		columns := make(map[string]string, len(measures))
		for measure, ms := range measures {
			columns[dataframe.ResponsivenessColumn(measure)] = strconv.FormatInt(ms, 10)
		}
		results[key] = columns
	}
	return results, nil
}
