package perfprocessor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"browser-efficiency/internal/process"
)

// Exporter turns a trace into CSV tables using an export profile.
type Exporter interface {
	// Export writes the tables of wpaProfile for traceFile into outDir,
	// each file name prefixed with prefix.
	Export(ctx context.Context, traceFile, wpaProfile, outDir, prefix string) error
}

// WPAExporter runs wpaexporter.exe.
type WPAExporter struct {
	runner process.Runner
	path   string
}

func NewWPAExporter(runner process.Runner, path string) *WPAExporter {
	return &WPAExporter{runner: runner, path: path}
}

func (e *WPAExporter) Export(ctx context.Context, traceFile, wpaProfile, outDir, prefix string) error {
	spec := process.Spec{
		Path: e.path,
		Args: []string{"-i", traceFile, "-profile", wpaProfile, "-outputfolder", outDir, "-prefix", prefix},
		// wpaexporter reports progress on stderr.
		IgnoreStderr: true,
	}
	if _, err := process.Run(ctx, e.runner, spec); err != nil {
		return fmt.Errorf("failed to export %s: %w", traceFile, err)
	}
	return nil
}

// LoadCSV returns the data lines of an exported table, header and blank lines
// excluded.
func LoadCSV(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	header := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if header {
			header = false
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}
