package tools

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/process"
	"browser-efficiency/internal/protocol"
)

var (
	ErrSessionActive   = errors.New("trace session already active")
	ErrNoSession       = errors.New("no active trace session")
	ErrProfileNotFound = errors.New("profile not found in trace profile file")
)

// SessionState tracks the single WPR recording session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionStarting
	SessionActive
	SessionStopping
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionStopping:
		return "stopping"
	default:
		return fmt.Sprintf("session(%d)", int(s))
	}
}

// WPR drives Windows Performance Recorder. Only one session exists at a time.
type WPR struct {
	runner      process.Runner
	path        string
	profileFile string

	mu      sync.Mutex
	state   SessionState
	profile string
}

func NewWPR(runner process.Runner, path, profileFile string) *WPR {
	return &WPR{
		runner:      runner,
		path:        path,
		profileFile: profileFile,
	}
}

func (w *WPR) State() SessionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WPR) Active() bool {
	return w.State() == SessionActive
}

// Profile returns the profile of the current session, if any.
func (w *WPR) Profile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profile
}

// transition moves from one state to another, failing if the session is not in from.
func (w *WPR) transition(from, to SessionState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return false
	}
	w.state = to
	return true
}

func (w *WPR) set(state SessionState, profile string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.profile = profile
}

// Start begins recording with the named profile of the .wprp file.
func (w *WPR) Start(ctx context.Context, profile string, mode protocol.TraceMode) error {
	if mode == protocol.TraceModeDisabled {
		return fmt.Errorf("wpr: %w", ErrToolDisabled)
	}
	if !process.Installed(w.path) {
		return fmt.Errorf("wpr at %s: %w", w.path, ErrToolNotInstalled)
	}
	if !w.transition(SessionIdle, SessionStarting) {
		return fmt.Errorf("failed to start wpr with profile %s: %w", profile, ErrSessionActive)
	}

	if err := verifyProfile(w.profileFile, profile); err != nil {
		w.set(SessionIdle, "")
		return err
	}

	args := []string{"-start", w.profileFile + "!" + profile}
	if mode == protocol.TraceModeFile {
		args = append(args, "-filemode")
	}

	if _, err := process.Run(ctx, w.runner, process.Spec{Path: w.path, Args: args}); err != nil {
		w.set(SessionIdle, "")
		return fmt.Errorf("failed to start wpr with profile %s: %w", profile, err)
	}

	w.set(SessionActive, profile)
	logging.GetAgentLogger().WithField("profile", profile).WithField("mode", mode.String()).Debug("WPR session started")
	return nil
}

// Stop ends the active session and saves it to etlFile. The session is
// considered over even if wpr reports an error.
func (w *WPR) Stop(ctx context.Context, etlFile string) error {
	if !w.transition(SessionActive, SessionStopping) {
		return fmt.Errorf("failed to stop wpr: %w", ErrNoSession)
	}
	defer w.set(SessionIdle, "")

	if _, err := process.Run(ctx, w.runner, process.Spec{Path: w.path, Args: []string{"-stop", etlFile}}); err != nil {
		return fmt.Errorf("failed to stop wpr into %s: %w", etlFile, err)
	}
	return nil
}

// Cancel discards whatever session WPR holds, including one left behind by
// another process, so it runs even when this WPR believes it is idle. Tool
// errors are ignored and the session always ends up idle.
func (w *WPR) Cancel(ctx context.Context) {
	if !process.Installed(w.path) {
		w.set(SessionIdle, "")
		return
	}

	w.mu.Lock()
	w.state = SessionStopping
	w.mu.Unlock()

	defer w.set(SessionIdle, "")

	spec := process.Spec{Path: w.path, Args: []string{"-cancel"}, IgnoreStderr: true}
	if _, err := process.Run(ctx, w.runner, spec); err != nil {
		logging.GetAgentLogger().WithError(err).Debug("wpr -cancel reported an error")
	}
}

// verifyProfile checks that a Profile element with the given Name exists in the .wprp file.
func verifyProfile(profileFile, profile string) error {
	f, err := os.Open(profileFile)
	if err != nil {
		return fmt.Errorf("failed to open trace profile %s: %w", profileFile, err)
	}
	defer f.Close()

	decoder := xml.NewDecoder(f)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse trace profile %s: %w", profileFile, err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "Profile" {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "Name" && attr.Value == profile {
				return nil
			}
		}
	}

	return fmt.Errorf("%w: %s in %s", ErrProfileNotFound, profile, profileFile)
}
