package processtest

import (
	"path/filepath"
	"sync"

	"browser-efficiency/internal/process"
)

// Session mimics a recorder like wpr whose single session lives in the
// system rather than in the process that started it. Use Respond as a
// Runner's Respond func.
type Session struct {
	mu     sync.Mutex
	active bool
}

// NewSession returns a Session, optionally with a session left running by someone else.
func NewSession(active bool) *Session {
	return &Session{active: active}
}

// Respond fails -start while a session exists and -stop or -cancel while none does.
func (s *Session) Respond(spec process.Spec) (process.Result, error) {
	if len(spec.Args) == 0 {
		return process.Result{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch spec.Args[0] {
	case "-start":
		if s.active {
			return fail(spec, "a trace session is already in progress")
		}
		s.active = true
	case "-stop", "-cancel":
		if !s.active {
			return fail(spec, "there are no trace profiles running")
		}
		s.active = false
	}
	return process.Result{}, nil
}

// Active reports whether a session is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func fail(spec process.Spec, msg string) (process.Result, error) {
	result := process.Result{ExitCode: 1, Stderr: msg}
	return result, &process.ExitError{Name: filepath.Base(spec.Path), Result: result}
}
