package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyCommand     = errors.New("empty command")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMalformedCommand = errors.New("malformed command")
)

// extendedTokenCount is the token count (command included) above which a
// START_BROWSER carries profile, mode and duration.
const extendedTokenCount = 10

// Encode renders a command as its single-line wire form, without the newline.
func Encode(cmd Command) string {
	return strings.Join(Tokens(cmd), " ")
}

// Tokens renders a command as wire tokens.
func Tokens(cmd Command) []string {
	switch c := cmd.(type) {
	case StartPass:
		if c.Folder == "" {
			return []string{KeywordStartPass}
		}
		return []string{KeywordStartPass, c.Folder}
	case StartBrowser:
		profile := c.WprProfile
		if profile == "" {
			profile = DefaultWprProfile
		}
		duration := "0"
		if c.HasDuration && c.Duration >= time.Second {
			duration = strconv.Itoa(int(c.Duration / time.Second))
		}
		return []string{
			KeywordStartBrowser,
			c.Browser,
			labelIteration, strconv.Itoa(c.Iteration),
			labelScenario, c.Scenario,
			labelWprProfile, profile,
			labelMode, c.Mode.String(),
			labelDuration, duration,
		}
	case EndBrowser:
		return []string{KeywordEndBrowser, c.Browser}
	case EndPass:
		return []string{KeywordEndPass}
	case CancelPass:
		return []string{KeywordCancelPass}
	}
	return nil
}

// Parse maps wire tokens to a typed command.
func Parse(tokens []string) (Command, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}

	switch tokens[0] {
	case KeywordStartPass:
		if len(tokens) > 1 {
			return StartPass{Folder: tokens[1]}, nil
		}
		return StartPass{}, nil
	case KeywordStartBrowser:
		return parseStartBrowser(tokens)
	case KeywordEndBrowser:
		if len(tokens) < 2 {
			return nil, fmt.Errorf("%w: %s requires a browser name", ErrMalformedCommand, KeywordEndBrowser)
		}
		return EndBrowser{Browser: tokens[1]}, nil
	case KeywordEndPass:
		return EndPass{}, nil
	case KeywordCancelPass:
		return CancelPass{}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, tokens[0])
}

func parseStartBrowser(tokens []string) (Command, error) {
	// browser, ITERATION, n, SCENARIO_NAME, scenario
	if len(tokens) < 6 {
		return nil, fmt.Errorf("%w: %s expects at least 5 arguments, got %d", ErrMalformedCommand, KeywordStartBrowser, len(tokens)-1)
	}
	args := tokens[1:]

	iteration, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid iteration %q", ErrMalformedCommand, args[2])
	}

	cmd := StartBrowser{
		Browser:    args[0],
		Iteration:  iteration,
		Scenario:   args[4],
		WprProfile: DefaultWprProfile,
		Mode:       TraceModeFile,
	}

	if len(tokens) > extendedTokenCount {
		cmd.WprProfile = args[6]
		cmd.Mode = ParseTraceMode(args[8])
		if args[9] == labelDuration && len(args) > 10 {
			if seconds, err := strconv.Atoi(args[10]); err == nil && seconds > 0 {
				cmd.Duration = time.Duration(seconds) * time.Second
				cmd.HasDuration = true
			}
		}
	}

	return cmd, nil
}

// ReadTokens reads one line and splits it on whitespace. Blank lines are skipped.
func ReadTokens(r *bufio.Reader) ([]string, error) {
	for {
		line, err := r.ReadString('\n')
		tokens := strings.Fields(line)
		if len(tokens) > 0 {
			return tokens, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteLine writes s followed by a newline.
func WriteLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, s+"\n")
	return err
}
