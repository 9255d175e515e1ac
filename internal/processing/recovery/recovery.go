// Package recovery decides what happens after a failed attempt: retry with
// backoff, roll back created resources, abort, or break the circuit.
package recovery

import (
	"strings"
	"time"

	"github.com/vietddude/jobrunner/internal/processing/classify"
)

// Signals are the message fragments that select a category's special
// cases. Matching is case-insensitive and numeric fragments only match
// whole numbers.
type Signals struct {
	RateLimit     []string `yaml:"rate_limit"`
	Auth          []string `yaml:"auth"`
	MergeConflict []string `yaml:"merge_conflict"`
	AlreadyExists []string `yaml:"already_exists"`
	Uncommitted   []string `yaml:"uncommitted"`
}

// DefaultSignals returns the built-in signal lists.
func DefaultSignals() Signals {
	return Signals{
		RateLimit:     []string{"rate limit", "too many requests", "429", "secondary rate"},
		Auth:          []string{"unauthorized", "401", "403", "forbidden", "bad credentials", "authentication failed"},
		MergeConflict: []string{"merge conflict", "conflict (content)", "automatic merge failed"},
		AlreadyExists: []string{"already exists"},
		Uncommitted:   []string{"uncommitted", "local changes", "would be overwritten"},
	}
}

// merge fills empty lists from defaults.
func (s Signals) merge(defaults Signals) Signals {
	if len(s.RateLimit) == 0 {
		s.RateLimit = defaults.RateLimit
	}
	if len(s.Auth) == 0 {
		s.Auth = defaults.Auth
	}
	if len(s.MergeConflict) == 0 {
		s.MergeConflict = defaults.MergeConflict
	}
	if len(s.AlreadyExists) == 0 {
		s.AlreadyExists = defaults.AlreadyExists
	}
	if len(s.Uncommitted) == 0 {
		s.Uncommitted = defaults.Uncommitted
	}
	return s
}

func containsAny(msg string, fragments []string) bool {
	msg = strings.ToLower(msg)
	for _, f := range fragments {
		if classify.Contains(msg, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// Config wires the dispatcher.
type Config struct {
	Policy  *Policy
	Signals Signals

	// RateLimitDelay is the fixed wait after a rate-limit signal.
	RateLimitDelay time.Duration

	// Stash parks uncommitted local state so the attempt can be retried.
	// Without it, that signal rolls back.
	Stash StashFunc
}

// DefaultConfig returns the built-in dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Policy:         DefaultPolicy(),
		Signals:        DefaultSignals(),
		RateLimitDelay: time.Hour,
	}
}
