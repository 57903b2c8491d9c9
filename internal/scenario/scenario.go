// Package scenario defines what a benchmark run does inside a browser and
// how browsers are launched for it.
package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Browser is a launched browser under test.
type Browser interface {
	Name() string
	Navigate(ctx context.Context, url string) error
	// Close shuts the browser down and waits for its processes to exit.
	Close(ctx context.Context) error
}

// Launcher starts a browser by its configured name.
type Launcher interface {
	Launch(ctx context.Context, name string) (Browser, error)
}

// Timer records responsiveness measurements taken during a run.
type Timer interface {
	Record(measure string, d time.Duration)
	// Measure times fn and records it under measure when fn succeeds.
	Measure(measure string, fn func() error) error
}

// Credentials hands out site logins to scenarios that need them.
type Credentials interface {
	Get(domain string) (Credential, bool)
}

type Scenario interface {
	Name() string
	DefaultDuration() time.Duration
	SetUp(ctx context.Context, browser Browser) error
	Run(ctx context.Context, browser Browser, browserName string, credentials Credentials, timer Timer) error
	TearDown(ctx context.Context, browser Browser) error
}

type Credential struct {
	Domain   string `json:"domain"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialStore is a Credentials backed by a JSON file.
type CredentialStore struct {
	byDomain map[string]Credential
}

func NewCredentialStore(credentials ...Credential) *CredentialStore {
	s := &CredentialStore{byDomain: make(map[string]Credential, len(credentials))}
	for _, c := range credentials {
		s.byDomain[strings.ToLower(c.Domain)] = c
	}
	return s
}

// LoadCredentials reads a JSON array of credentials. An empty path yields an empty store.
func LoadCredentials(path string) (*CredentialStore, error) {
	if path == "" {
		return NewCredentialStore(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var credentials []Credential
	if err := json.Unmarshal(data, &credentials); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return NewCredentialStore(credentials...), nil
}

func (s *CredentialStore) Get(domain string) (Credential, bool) {
	c, ok := s.byDomain[strings.ToLower(domain)]
	return c, ok
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
