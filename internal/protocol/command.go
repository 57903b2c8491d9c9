package protocol

import (
	"time"
)

// Wire keywords for the commands exchanged between the driver and the elevator.
const (
	KeywordStartPass    = "START_PASS"
	KeywordStartBrowser = "START_BROWSER"
	KeywordEndBrowser   = "END_BROWSER"
	KeywordEndPass      = "END_PASS"
	KeywordCancelPass   = "CANCEL_PASS"

	// Ack is written by the elevator once a command has been fully processed.
	Ack = "ACK"
)

// Labels interleaved with the START_BROWSER values.
const (
	labelIteration  = "ITERATION"
	labelScenario   = "SCENARIO_NAME"
	labelWprProfile = "WPRPROFILE"
	labelMode       = "MODE"
	labelDuration   = "DURATION"
)

// DefaultWprProfile is used when a START_BROWSER command carries no profile.
const DefaultWprProfile = "defaultProfile"

// Command is one message of the trace control protocol.
type Command interface {
	Name() string
}

type StartPass struct {
	// Folder where the elevator writes trace files. Empty means its working directory.
	Folder string
}

type StartBrowser struct {
	Browser    string
	Iteration  int
	Scenario   string
	WprProfile string
	Mode       TraceMode

	// Duration bounds the power loggers. HasDuration is false when the
	// client sent none or the value could not be parsed.
	Duration    time.Duration
	HasDuration bool
}

type EndBrowser struct {
	Browser string
}

type EndPass struct{}

type CancelPass struct{}

func (StartPass) Name() string    { return KeywordStartPass }
func (StartBrowser) Name() string { return KeywordStartBrowser }
func (EndBrowser) Name() string   { return KeywordEndBrowser }
func (EndPass) Name() string      { return KeywordEndPass }
func (CancelPass) Name() string   { return KeywordCancelPass }

// TraceMode selects how WPR records, or whether it records at all.
type TraceMode int

const (
	TraceModeFile TraceMode = iota
	TraceModeMemory
	TraceModeDisabled
)

const (
	traceModeFileLiteral     = "File"
	traceModeMemoryLiteral   = "Memory"
	traceModeDisabledLiteral = "DISABLED"
)

// ParseTraceMode maps a wire literal to a TraceMode. DISABLED is checked
// first; anything that is not Memory records to file.
func ParseTraceMode(s string) TraceMode {
	switch s {
	case traceModeDisabledLiteral:
		return TraceModeDisabled
	case traceModeMemoryLiteral:
		return TraceModeMemory
	default:
		return TraceModeFile
	}
}

func (m TraceMode) String() string {
	switch m {
	case TraceModeDisabled:
		return traceModeDisabledLiteral
	case TraceModeMemory:
		return traceModeMemoryLiteral
	default:
		return traceModeFileLiteral
	}
}
