package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"browser-efficiency/internal/config"
	"browser-efficiency/internal/process"
	"browser-efficiency/internal/process/processtest"

	"github.com/google/go-cmp/cmp"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

type fakeBrowser struct {
	navigated []string
	failOn    string
}

func (b *fakeBrowser) Name() string { return "fake" }

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	if url == b.failOn {
		return errors.New("navigation failed")
	}
	b.navigated = append(b.navigated, url)
	return nil
}

func (b *fakeBrowser) Close(ctx context.Context) error { return nil }

type fakeTimer struct {
	mu       sync.Mutex
	measures []string
}

func (t *fakeTimer) Record(measure string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.measures = append(t.measures, measure)
}

func (t *fakeTimer) Measure(measure string, fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	t.Record(measure, 0)
	return nil
}

func TestNavigateScenario_VisitsURLsInOrder(t *testing.T) {
	s := NewNavigateScenario(config.ScenarioConfig{Name: "news", URLs: []string{"https://a", "https://b"}})
	browser := &fakeBrowser{}
	timer := &fakeTimer{}

	if err := s.Run(context.Background(), browser, "chrome", NewCredentialStore(), timer); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"https://a", "https://b"}, browser.navigated); diff != "" {
		t.Fatalf("unexpected navigation (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pageLoad1", "pageLoad2"}, timer.measures); diff != "" {
		t.Fatalf("unexpected measures (-want +got):\n%s", diff)
	}
	if s.Name() != "news" {
		t.Fatalf("expected name news, got %s", s.Name())
	}
}

func TestNavigateScenario_WaitsForDuration(t *testing.T) {
	s := NewNavigateScenario(config.ScenarioConfig{Name: "idle", URLs: []string{"https://a"}})
	s.duration = 50 * time.Millisecond

	start := time.Now()
	if err := s.Run(context.Background(), &fakeBrowser{}, "edge", nil, &fakeTimer{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected run to last the scenario duration, took %v", elapsed)
	}
}

func TestNavigateScenario_NavigationError(t *testing.T) {
	s := NewNavigateScenario(config.ScenarioConfig{Name: "news", URLs: []string{"https://a", "https://bad", "https://c"}})
	browser := &fakeBrowser{failOn: "https://bad"}
	timer := &fakeTimer{}

	err := s.Run(context.Background(), browser, "chrome", nil, timer)
	if err == nil || !strings.Contains(err.Error(), "https://bad") {
		t.Fatalf("expected navigation error, got %v", err)
	}
	if len(browser.navigated) != 1 || len(timer.measures) != 1 {
		t.Fatalf("expected to stop at the failing URL, got %v / %v", browser.navigated, timer.measures)
	}
}

func TestNavigateScenario_Cancelled(t *testing.T) {
	s := NewNavigateScenario(config.ScenarioConfig{Name: "long", URLs: []string{"https://a"}, Duration: 3600})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, &fakeBrowser{}, "chrome", nil, &fakeTimer{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	scenarios := FromConfig([]config.ScenarioConfig{{Name: "a", Duration: 30}, {Name: "b"}})
	if len(scenarios) != 2 || scenarios[0].Name() != "a" || scenarios[1].Name() != "b" {
		t.Fatalf("unexpected scenarios %v", scenarios)
	}
	if scenarios[0].DefaultDuration() != 30*time.Second {
		t.Fatalf("expected 30s, got %v", scenarios[0].DefaultDuration())
	}
}

func TestLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	content := `[{"domain":"Amazon.com","username":"u","password":"p"}]`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	c, ok := store.Get("amazon.com")
	if !ok || c.Username != "u" || c.Password != "p" {
		t.Fatalf("expected credential for amazon.com, got %+v (%v)", c, ok)
	}
	if _, ok := store.Get("example.com"); ok {
		t.Fatalf("did not expect credential for example.com")
	}

	empty, err := LoadCredentials("")
	if err != nil {
		t.Fatalf("LoadCredentials(\"\"): %v", err)
	}
	if _, ok := empty.Get("amazon.com"); ok {
		t.Fatalf("expected empty store")
	}

	if err := os.WriteFile(path, []byte("{"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadCredentials(path); err == nil {
		t.Fatalf("expected error for malformed credentials")
	}
}

func TestWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := Wait(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func newTestLauncher(runner process.Runner, find processFinder) *ExecLauncher {
	l := NewExecLauncher(map[string]config.BrowserConfig{
		"chrome": {KeyName: "chrome", Executable: `C:\chrome\chrome.exe`, Args: "--incognito --user-data-dir=/tmp/p", ProcessName: "chrome.exe"},
	}, runner)
	l.find = find
	l.pollInterval = time.Millisecond
	return l
}

func noProcesses(ctx context.Context, name string) ([]*gopsprocess.Process, error) {
	return nil, nil
}

func TestExecLauncher_NavigateAndClose(t *testing.T) {
	runner := &processtest.Runner{LongRunning: func(process.Spec) bool { return true }}
	l := newTestLauncher(runner, noProcesses)

	b, err := l.Launch(context.Background(), "chrome")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := b.Navigate(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	want := []string{`C:\chrome\chrome.exe --incognito --user-data-dir=/tmp/p https://example.com`}
	if diff := cmp.Diff(want, runner.Commands()); diff != "" {
		t.Fatalf("unexpected commands (-want +got):\n%s", diff)
	}

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if state := runner.Handles()[0].Status(); state != process.Stopped {
		t.Fatalf("expected browser process to be stopped, got %v", state)
	}
	if err := b.Navigate(context.Background(), "https://example.com"); err == nil {
		t.Fatalf("expected error navigating a closed browser")
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("expected second Close to be a no-op, got %v", err)
	}
}

func TestExecLauncher_UnknownBrowser(t *testing.T) {
	l := newTestLauncher(&processtest.Runner{}, noProcesses)
	if _, err := l.Launch(context.Background(), "netscape"); !errors.Is(err, ErrUnknownBrowser) {
		t.Fatalf("expected ErrUnknownBrowser, got %v", err)
	}
}

func TestExecLauncher_WaitsForLingeringProcesses(t *testing.T) {
	calls := 0
	find := func(ctx context.Context, name string) ([]*gopsprocess.Process, error) {
		calls++
		if name != "chrome.exe" {
			t.Errorf("expected chrome.exe, got %s", name)
		}
		if calls < 3 {
			return []*gopsprocess.Process{{Pid: -1}}, nil
		}
		return nil, nil
	}
	l := newTestLauncher(&processtest.Runner{}, find)

	if _, err := l.Launch(context.Background(), "chrome"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected to poll until the processes exited, got %d calls", calls)
	}
}

func TestExecLauncher_FinderError(t *testing.T) {
	find := func(ctx context.Context, name string) ([]*gopsprocess.Process, error) {
		return nil, errors.New("access denied")
	}
	l := newTestLauncher(&processtest.Runner{}, find)
	if _, err := l.Launch(context.Background(), "chrome"); err == nil {
		t.Fatalf("expected finder error")
	}
}

func TestFindProcesses_FindsSelf(t *testing.T) {
	self, err := gopsprocess.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	name, err := self.Name()
	if err != nil {
		t.Fatalf("Name: %v", err)
	}

	procs, err := findProcesses(context.Background(), strings.ToUpper(name))
	if err != nil {
		t.Fatalf("findProcesses: %v", err)
	}
	for _, p := range procs {
		if p.Pid == int32(os.Getpid()) {
			return
		}
	}
	t.Fatalf("expected to find pid %d among %d processes named %s", os.Getpid(), len(procs), name)
}
