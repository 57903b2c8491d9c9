package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/dataframe"
	"browser-efficiency/internal/host"
	"browser-efficiency/internal/measureset"

	"github.com/google/go-cmp/cmp"
)

func testFrame() *dataframe.Frame {
	f := dataframe.NewFrame(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	key := dataframe.RunKey{Browser: "chrome", Scenario: "news", Iteration: 1}
	_ = f.AddOrMerge(key, "cpuUsage", measureset.Metrics{"CPU chrome.exe Utilization %": "12.5"})
	_ = f.MergeColumns(key, "extensions", map[string]string{"Extension adblock Version": "1.2.3"})
	f.AddRow(dataframe.RunKey{Browser: "edge", Scenario: "news", Iteration: 1})
	return f
}

func testConfig() *config.BenchmarkConfig {
	return &config.BenchmarkConfig{
		Benchmark:   config.BenchmarkInfo{Name: "sweep", Iterations: 2},
		MeasureSets: []string{"cpuUsage", "gpuUsage"},
		Browsers:    map[string]config.BrowserConfig{"chrome": {Executable: "chrome.exe"}},
		Scenarios:   []config.ScenarioConfig{{Name: "news", URLs: []string{"https://example.com"}}},
	}
}

func TestResultPoints(t *testing.T) {
	metadata := &RunMetadata{RunID: "r1", BenchmarkName: "sweep", Hostname: "bench"}

	points := ResultPoints(metadata, testFrame())
	if len(points) != 1 {
		t.Fatalf("expected rows without values to be skipped, got %d points", len(points))
	}
	p := points[0]
	if p.Name() != resultsMeasurement {
		t.Fatalf("expected measurement %s, got %s", resultsMeasurement, p.Name())
	}

	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	wantTags := map[string]string{
		"run_id": "r1", "benchmark": "sweep", "hostname": "bench",
		"browser": "chrome", "scenario": "news", "iteration": "1",
	}
	if diff := cmp.Diff(wantTags, tags); diff != "" {
		t.Fatalf("unexpected tags (-want +got):\n%s", diff)
	}

	fields := make(map[string]interface{})
	for _, field := range p.FieldList() {
		fields[field.Key] = field.Value
	}
	wantFields := map[string]interface{}{
		"CPU chrome.exe Utilization %": 12.5,
		"Extension adblock Version":    "1.2.3",
	}
	if diff := cmp.Diff(wantFields, fields); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	}
}

func TestCollectRunMetadata(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	hostCfg := &host.HostConfig{Hostname: "bench", CPUModel: "i7", TotalCores: 8, TotalThreads: 16}

	md := CollectRunMetadata(testConfig(), "yaml", testFrame(), hostCfg, start, start.Add(90*time.Second), "dev")

	if md.DurationSeconds != 90 {
		t.Fatalf("expected 90s, got %d", md.DurationSeconds)
	}
	if md.TotalRows != 2 || md.TotalValues != 2 {
		t.Fatalf("expected 2 rows and 2 values, got %d/%d", md.TotalRows, md.TotalValues)
	}
	if md.MeasureSets != "cpuUsage gpuUsage" {
		t.Fatalf("unexpected measure sets %q", md.MeasureSets)
	}
	if md.Hostname != "bench" || md.CPUThreads != 16 {
		t.Fatalf("expected host fields to be copied, got %+v", md)
	}
	if len(md.SweepChecksum) != 6 || !strings.HasSuffix(md.RunID, "_"+md.SweepChecksum) {
		t.Fatalf("unexpected run id %q / checksum %q", md.RunID, md.SweepChecksum)
	}
	if !strings.HasPrefix(md.RunID, "20240102T030405Z") {
		t.Fatalf("unexpected run id %q", md.RunID)
	}
}

func TestRunID_NoChecksum(t *testing.T) {
	if got := RunID(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ""); got != "20240102T030405Z_nocsum" {
		t.Fatalf("expected 20240102T030405Z_nocsum, got %s", got)
	}
}

func TestSpoolArtifact_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	frame := testFrame()
	md := CollectRunMetadata(testConfig(), "yaml", frame, nil, start, start.Add(time.Minute), "dev")

	artifact := BuildSpoolArtifact(md, &host.HostConfig{Hostname: "bench"}, "yaml", frame, start, start.Add(time.Minute))
	path, err := WriteSpoolArtifact(dir, artifact)
	if err != nil {
		t.Fatalf("WriteSpoolArtifact: %v", err)
	}
	if !strings.HasSuffix(path, "_"+md.SweepChecksum+".json.gz") {
		t.Fatalf("unexpected artifact name %s", path)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the final artifact in %s, got %d entries", dir, len(entries))
	}

	got, err := ReadSpoolArtifact(path)
	if err != nil {
		t.Fatalf("ReadSpoolArtifact: %v", err)
	}
	if got.RunID != md.RunID || got.Host.Hostname != "bench" {
		t.Fatalf("unexpected artifact %+v", got)
	}
	if diff := cmp.Diff(frame.GetAllRows(), got.Rows); diff != "" {
		t.Fatalf("rows did not survive the artifact (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(frame.Columns(), got.Columns); diff != "" {
		t.Fatalf("unexpected columns (-want +got):\n%s", diff)
	}
}

func TestWriteSpoolArtifact_Nil(t *testing.T) {
	if _, err := WriteSpoolArtifact(filepath.Join(t.TempDir(), "x"), nil); err == nil {
		t.Fatalf("expected error for nil artifact")
	}
}

type recordingWriter struct {
	err      error
	runIDs   []string
	rows     [][]dataframe.Row
	metadata int
}

func (w *recordingWriter) WriteResults(ctx context.Context, metadata *RunMetadata, frame *dataframe.Frame) error {
	if w.err != nil {
		return w.err
	}
	w.runIDs = append(w.runIDs, metadata.RunID)
	w.rows = append(w.rows, frame.GetAllRows())
	return nil
}

func (w *recordingWriter) WriteMetadata(ctx context.Context, metadata *RunMetadata) error {
	w.metadata++
	return nil
}

func spoolRun(t *testing.T, dir string, start time.Time) *RunMetadata {
	t.Helper()
	frame := testFrame()
	md := CollectRunMetadata(testConfig(), "yaml", frame, nil, start, start.Add(time.Minute), "dev")
	artifact := BuildSpoolArtifact(md, nil, "yaml", frame, start, start.Add(time.Minute))
	artifact.CreatedAt = start
	if _, err := WriteSpoolArtifact(dir, artifact); err != nil {
		t.Fatalf("WriteSpoolArtifact: %v", err)
	}
	return md
}

func TestFlushSpool_UploadsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	first := spoolRun(t, dir, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	second := spoolRun(t, dir, time.Date(2024, 1, 3, 3, 4, 5, 0, time.UTC))

	corrupt := filepath.Join(dir, "results_00000000T000000Z_bad.json.gz")
	if err := os.WriteFile(corrupt, []byte("not gzip"), 0o644); err != nil {
		t.Fatalf("write corrupt artifact: %v", err)
	}

	w := &recordingWriter{}
	n, err := FlushSpool(context.Background(), dir, w)
	if err != nil {
		t.Fatalf("FlushSpool: %v", err)
	}
	if n != 2 || w.metadata != 2 {
		t.Fatalf("expected 2 uploads, got %d (metadata %d)", n, w.metadata)
	}
	if diff := cmp.Diff([]string{first.RunID, second.RunID}, w.runIDs); diff != "" {
		t.Fatalf("unexpected upload order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(testFrame().GetAllRows(), w.rows[0]); diff != "" {
		t.Fatalf("rows did not survive the spool (-want +got):\n%s", diff)
	}

	pending, err := PendingSpoolArtifacts(dir)
	if err != nil {
		t.Fatalf("PendingSpoolArtifacts: %v", err)
	}
	if diff := cmp.Diff([]string{corrupt}, pending); diff != "" {
		t.Fatalf("expected only the unreadable artifact to remain (-want +got):\n%s", diff)
	}
}

func TestFlushSpool_KeepsArtifactOnWriteError(t *testing.T) {
	dir := t.TempDir()
	spoolRun(t, dir, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	w := &recordingWriter{err: errors.New("connection refused")}
	n, err := FlushSpool(context.Background(), dir, w)
	if err == nil || n != 0 {
		t.Fatalf("expected a write error and no uploads, got %d, %v", n, err)
	}

	pending, _ := PendingSpoolArtifacts(dir)
	if len(pending) != 1 {
		t.Fatalf("expected the artifact to be kept, got %v", pending)
	}
}
