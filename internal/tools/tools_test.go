package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/process"
	"browser-efficiency/internal/process/processtest"
	"browser-efficiency/internal/protocol"

	"github.com/google/go-cmp/cmp"
)

const testProfiles = `<?xml version="1.0" encoding="utf-8"?>
<WindowsPerformanceRecorder Version="1.0">
  <Profiles>
    <Profile Id="cpuUsage.Verbose.File" Name="cpuUsage" LoggingMode="File" DetailLevel="Verbose"/>
    <Profile Id="diskIo.Verbose.Memory" Name="diskIo" LoggingMode="Memory" DetailLevel="Verbose"/>
  </Profiles>
</WindowsPerformanceRecorder>
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Browser.wprp")
	if err := os.WriteFile(path, []byte(testProfiles), 0o644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	return path
}

// installedTool returns an enabled tool config pointing at an existing file.
func installedTool(t *testing.T, name string) config.ToolConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, nil, 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
	return config.ToolConfig{Enabled: true, Path: path}
}

func args(runner *processtest.Runner) [][]string {
	var out [][]string
	for _, s := range runner.Specs() {
		out = append(out, s.Args)
	}
	return out
}

func TestWPR_StartStopLifecycle(t *testing.T) {
	runner := &processtest.Runner{}
	profiles := writeProfiles(t)
	w := NewWPR(runner, installedTool(t, "wpr.exe").Path, profiles)
	ctx := context.Background()

	if err := w.Start(ctx, "cpuUsage", protocol.TraceModeFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.State() != SessionActive || w.Profile() != "cpuUsage" {
		t.Fatalf("expected active cpuUsage session, got %v %q", w.State(), w.Profile())
	}

	if err := w.Start(ctx, "diskIo", protocol.TraceModeMemory); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	if err := w.Stop(ctx, "run.etl"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.State() != SessionIdle {
		t.Fatalf("expected idle after stop, got %v", w.State())
	}

	want := [][]string{
		{"-start", profiles + "!cpuUsage", "-filemode"},
		{"-stop", "run.etl"},
	}
	if diff := cmp.Diff(want, args(runner)); diff != "" {
		t.Fatalf("unexpected wpr invocations (-want +got):\n%s", diff)
	}
}

func TestWPR_MemoryModeOmitsFilemode(t *testing.T) {
	runner := &processtest.Runner{}
	profiles := writeProfiles(t)
	w := NewWPR(runner, installedTool(t, "wpr.exe").Path, profiles)

	if err := w.Start(context.Background(), "diskIo", protocol.TraceModeMemory); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if diff := cmp.Diff([][]string{{"-start", profiles + "!diskIo"}}, args(runner)); diff != "" {
		t.Fatalf("unexpected wpr invocations (-want +got):\n%s", diff)
	}
}

func TestWPR_UnknownProfileStaysIdle(t *testing.T) {
	runner := &processtest.Runner{}
	w := NewWPR(runner, installedTool(t, "wpr.exe").Path, writeProfiles(t))

	err := w.Start(context.Background(), "gpuUsage", protocol.TraceModeFile)
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if w.State() != SessionIdle {
		t.Fatalf("expected idle session, got %v", w.State())
	}
	if len(runner.Specs()) != 0 {
		t.Fatalf("expected wpr not to run, got %v", runner.Commands())
	}
}

func TestWPR_FailedStartStaysIdle(t *testing.T) {
	runner := &processtest.Runner{
		Respond: func(spec process.Spec) (process.Result, error) {
			return process.Result{ExitCode: 1}, &process.ExitError{Name: "wpr.exe", Result: process.Result{ExitCode: 1}}
		},
	}
	w := NewWPR(runner, installedTool(t, "wpr.exe").Path, writeProfiles(t))

	if err := w.Start(context.Background(), "cpuUsage", protocol.TraceModeFile); err == nil {
		t.Fatalf("expected start to fail")
	}
	if w.State() != SessionIdle {
		t.Fatalf("expected idle session, got %v", w.State())
	}
}

func TestWPR_CancelAlwaysRunsTool(t *testing.T) {
	runner := &processtest.Runner{
		Respond: func(spec process.Spec) (process.Result, error) {
			if spec.Args[0] == "-cancel" {
				return process.Result{ExitCode: 1}, errors.New("no trace session")
			}
			return process.Result{}, nil
		},
	}
	w := NewWPR(runner, installedTool(t, "wpr.exe").Path, writeProfiles(t))
	ctx := context.Background()

	w.Cancel(ctx)
	if err := w.Start(ctx, "cpuUsage", protocol.TraceModeFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Cancel(ctx)
	w.Cancel(ctx)

	if w.State() != SessionIdle {
		t.Fatalf("expected idle session, got %v", w.State())
	}

	var verbs []string
	for _, spec := range runner.Specs() {
		verbs = append(verbs, spec.Args[0])
		if spec.Args[0] == "-cancel" && !spec.IgnoreStderr {
			t.Fatalf("expected -cancel to ignore stderr")
		}
	}
	if diff := cmp.Diff([]string{"-cancel", "-start", "-cancel", "-cancel"}, verbs); diff != "" {
		t.Fatalf("unexpected wpr sequence (-want +got):\n%s", diff)
	}
}

func TestWPR_CancelClearsLeftoverSession(t *testing.T) {
	session := processtest.NewSession(true)
	runner := &processtest.Runner{Respond: session.Respond}
	w := NewWPR(runner, installedTool(t, "wpr.exe").Path, writeProfiles(t))
	ctx := context.Background()

	if err := w.Start(ctx, "cpuUsage", protocol.TraceModeFile); err == nil {
		t.Fatalf("expected start to fail while another session is running")
	}
	if w.State() != SessionIdle {
		t.Fatalf("expected idle session, got %v", w.State())
	}

	for i := 0; i < 3; i++ {
		w.Cancel(ctx)
		if err := w.Start(ctx, "cpuUsage", protocol.TraceModeFile); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if err := w.Stop(ctx, "run.etl"); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
	if session.Active() {
		t.Fatalf("expected no session left running")
	}
}

func TestWPR_NotInstalled(t *testing.T) {
	runner := &processtest.Runner{}
	w := NewWPR(runner, filepath.Join(t.TempDir(), "wpr.exe"), writeProfiles(t))
	ctx := context.Background()

	err := w.Start(ctx, "cpuUsage", protocol.TraceModeFile)
	if !errors.Is(err, ErrToolNotInstalled) {
		t.Fatalf("expected ErrToolNotInstalled, got %v", err)
	}
	if !Skipped(err) {
		t.Fatalf("expected a missing wpr to count as skipped")
	}

	w.Cancel(ctx)
	if w.State() != SessionIdle {
		t.Fatalf("expected idle session, got %v", w.State())
	}
	if len(runner.Specs()) != 0 {
		t.Fatalf("expected wpr not to run, got %v", runner.Commands())
	}
}

func TestWPR_StopWithoutSession(t *testing.T) {
	w := NewWPR(&processtest.Runner{}, installedTool(t, "wpr.exe").Path, writeProfiles(t))
	if err := w.Stop(context.Background(), "x.etl"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestWPR_DisabledMode(t *testing.T) {
	w := NewWPR(&processtest.Runner{}, installedTool(t, "wpr.exe").Path, writeProfiles(t))
	if err := w.Start(context.Background(), "cpuUsage", protocol.TraceModeDisabled); !Skipped(err) {
		t.Fatalf("expected a skipped error, got %v", err)
	}
}

func TestProcMon_StartTerminate(t *testing.T) {
	runner := &processtest.Runner{
		LongRunning: func(spec process.Spec) bool { return spec.Args[0] == "/AcceptEula" },
	}
	cfg := installedTool(t, "procmon.exe")
	cfg.Config = "ProcmonConfiguration.pmc"
	p := NewProcMon(runner, cfg)
	p.exitGrace = 10 * time.Millisecond
	ctx := context.Background()

	handle, err := p.Start(ctx, "chrome_wiki_1_procmon_20240101_120000.pml")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := p.Start(ctx, "second.pml"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive for a second capture, got %v", err)
	}

	if err := p.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if handle.Status() != process.Stopped {
		t.Fatalf("expected lingering capture to be stopped, got %v", handle.Status())
	}

	want := [][]string{
		{"/AcceptEula", "/Minimized", "/LoadConfig", "ProcmonConfiguration.pmc", "/BackingFile", "chrome_wiki_1_procmon_20240101_120000.pml"},
		{"/Terminate"},
	}
	if diff := cmp.Diff(want, args(runner)); diff != "" {
		t.Fatalf("unexpected procmon invocations (-want +got):\n%s", diff)
	}
}

func TestTools_DisabledOrMissingAreSkipped(t *testing.T) {
	runner := &processtest.Runner{}
	ctx := context.Background()

	missing := config.ToolConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "missing.exe")}

	if _, err := NewProcMon(runner, config.ToolConfig{}).Start(ctx, "x.pml"); !errors.Is(err, ErrToolDisabled) {
		t.Fatalf("expected ErrToolDisabled, got %v", err)
	}
	if err := NewPowerCfg(runner, missing).DumpSrumReport(ctx, "srum.csv"); !errors.Is(err, ErrToolNotInstalled) {
		t.Fatalf("expected ErrToolNotInstalled, got %v", err)
	}
	if err := NewEmptyStandbyList(runner, config.ToolConfig{}).Run(ctx); !Skipped(err) {
		t.Fatalf("expected skipped error, got %v", err)
	}
	if len(runner.Specs()) != 0 {
		t.Fatalf("expected nothing to run, got %v", runner.Commands())
	}
}

func TestPowerCfg_DumpSrumReport(t *testing.T) {
	runner := &processtest.Runner{}
	if err := NewPowerCfg(runner, installedTool(t, "powercfg.exe")).DumpSrumReport(context.Background(), "srum.csv"); err != nil {
		t.Fatalf("DumpSrumReport: %v", err)
	}
	if diff := cmp.Diff([][]string{{"/srumutil", "/csv", "/output", "srum.csv"}}, args(runner)); diff != "" {
		t.Fatalf("unexpected powercfg invocation (-want +got):\n%s", diff)
	}
}

func TestEmptyStandbyList_RunsEveryListInOrder(t *testing.T) {
	runner := &processtest.Runner{}
	if err := NewEmptyStandbyList(runner, installedTool(t, "EmptyStandbyList.exe")).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := [][]string{{"workingsets"}, {"modifiedpagelist"}, {"standbylist"}, {"priority0standbylist"}}
	if diff := cmp.Diff(want, args(runner)); diff != "" {
		t.Fatalf("unexpected invocations (-want +got):\n%s", diff)
	}
}

func TestEmptyStandbyList_StopsAtFirstFailure(t *testing.T) {
	runner := &processtest.Runner{
		Respond: func(spec process.Spec) (process.Result, error) {
			if spec.Args[0] == "modifiedpagelist" {
				return process.Result{ExitCode: 5}, errors.New("access denied")
			}
			return process.Result{}, nil
		},
	}
	if err := NewEmptyStandbyList(runner, installedTool(t, "EmptyStandbyList.exe")).Run(context.Background()); err == nil {
		t.Fatalf("expected an error")
	}
	if len(runner.Specs()) != 2 {
		t.Fatalf("expected to stop after the failing list, got %v", runner.Commands())
	}
}

func TestLoggers_CommandLines(t *testing.T) {
	dir := t.TempDir()
	amdOutput := filepath.Join(dir, "amdProfCli", "chrome_wiki_1_amd_20240101_120000")

	tests := []struct {
		name   string
		logger func(process.Runner) Logger
		output string
		want   []string
	}{
		{
			name:   "intel power log",
			logger: func(r process.Runner) Logger { return NewIntelPowerLog(r, installedTool(t, "PowerLog3.0.exe"), config.ToolConfig{}, false) },
			output: "power.csv",
			want:   []string{"-file", "power.csv", "-duration", "30", "-resolution", "1"},
		},
		{
			name:   "ippet",
			logger: func(r process.Runner) Logger { return NewIppet(r, installedTool(t, "ippet.exe")) },
			output: "chrome_wiki_1_ippet_20240101_120000",
			want:   []string{"-o", "y", "-enable_web", "n", "-zip", "n", "-time_end", "30", "-log_file", "chrome_wiki_1_ippet_20240101_120000"},
		},
		{
			name:   "socwatch",
			logger: func(r process.Runner) Logger { return NewSocWatch(r, installedTool(t, "socwatch.exe")) },
			output: "socwatch/out",
			want:   []string{"--polling", "--interval", "1", "--max-detail", "-f", "sys", "--time", "30", "-o", "socwatch/out"},
		},
		{
			name:   "amduprof",
			logger: func(r process.Runner) Logger { return NewAMDuProf(r, installedTool(t, "AMDuProfCLI.exe")) },
			output: amdOutput,
			want:   []string{"collect", "--verbose", "3", "--system-wide", "--config", "power", "--duration", "30", "--output", amdOutput},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &processtest.Runner{}
			if _, err := tt.logger(runner).Start(context.Background(), tt.output, 30*time.Second); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if diff := cmp.Diff([][]string{tt.want}, args(runner)); diff != "" {
				t.Fatalf("unexpected invocation (-want +got):\n%s", diff)
			}
		})
	}

	if info, err := os.Stat(filepath.Dir(amdOutput)); err != nil || !info.IsDir() {
		t.Fatalf("expected amduprof output directory to be created: %v", err)
	}
}

func TestIntelPowerLog_RestartsGPU(t *testing.T) {
	runner := &processtest.Runner{}
	l := NewIntelPowerLog(runner, installedTool(t, "PowerLog3.0.exe"), installedTool(t, "devcon.exe"), true)
	l.restartDelay = time.Millisecond

	if _, err := l.Start(context.Background(), "power.csv", 10*time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	commands := runner.Commands()
	if len(commands) != 2 {
		t.Fatalf("expected power log and devcon, got %v", commands)
	}
	if !strings.HasSuffix(commands[1], `devcon.exe restart PCI\CC_0300`) {
		t.Fatalf("unexpected devcon command %q", commands[1])
	}
}

func TestTool_ExtraArgsAreSplit(t *testing.T) {
	runner := &processtest.Runner{}
	cfg := installedTool(t, "socwatch.exe")
	cfg.Args = `--program-name "my app"`

	if _, err := NewSocWatch(runner, cfg).Start(context.Background(), "out", time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := runner.Specs()[0].Args
	if diff := cmp.Diff([]string{"--program-name", "my app"}, got[len(got)-2:]); diff != "" {
		t.Fatalf("unexpected extra args (-want +got):\n%s", diff)
	}
}

func TestNewSet(t *testing.T) {
	set := NewSet(config.DefaultElevatorConfig(), &processtest.Runner{})
	var names []string
	for _, l := range set.Loggers {
		names = append(names, l.Name())
		if l.Enabled() {
			t.Fatalf("expected %s to be disabled by default", l.Name())
		}
	}
	if diff := cmp.Diff([]string{"intelpowerlog", "ippet", "socwatch", "amduprofcli"}, names); diff != "" {
		t.Fatalf("unexpected loggers (-want +got):\n%s", diff)
	}
}
