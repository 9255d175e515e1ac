// Package classify maps a failed attempt's error to an error category.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

// Rule matches errors by message substring or concrete type name. When
// Operations is non-empty the rule only applies to operations starting with
// one of its entries.
type Rule struct {
	Category   domain.ErrorCategory `yaml:"category"`
	Substrings []string             `yaml:"substrings"`
	TypeNames  []string             `yaml:"type_names"`
	Operations []string             `yaml:"operations"`
}

// DefaultRules is the built-in table. Order matters: the first rule that
// matches decides the category.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: domain.CategoryExternalService,
			Substrings: []string{
				"rate limit", "too many requests", "429", "quota",
				"unauthorized", "401", "403", "forbidden", "bad credentials",
				"authentication failed", "api error", "service unavailable",
				"502", "503", "bad gateway",
			},
		},
		{
			Category: domain.CategoryOperation,
			Substrings: []string{
				"merge conflict", "conflict", "already exists",
				"uncommitted changes", "local changes", "would be overwritten",
				"not a git repository", "nothing to commit", "non-fast-forward",
			},
		},
		{
			Category:   domain.CategoryTimeout,
			Substrings: []string{"timeout", "timed out", "deadline exceeded"},
			TypeNames:  []string{"context.deadlineExceededError"},
		},
		{
			Category: domain.CategoryNetwork,
			Substrings: []string{
				"connection refused", "connection reset", "no such host",
				"network is unreachable", "broken pipe", "unexpected eof",
				"tls handshake", "dial tcp",
			},
			TypeNames: []string{"*net.OpError", "*net.DNSError", "*url.Error"},
		},
		{
			Category: domain.CategoryResource,
			Substrings: []string{
				"no space left", "out of memory", "too many open files",
				"disk quota", "resource temporarily unavailable", "cannot allocate memory",
			},
		},
		{
			Category: domain.CategoryValidation,
			Substrings: []string{
				"invalid", "validation", "malformed", "required field",
				"missing required", "unprocessable",
			},
		},
	}
}

// Classifier is a rule-based error classifier.
type Classifier struct {
	rules []Rule
}

// New builds a classifier. Nil or empty rules fall back to DefaultRules.
func New(rules []Rule) (*Classifier, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	normalized := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if _, err := domain.ParseCategory(string(r.Category)); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		r.Category = domain.ErrorCategory(strings.ToLower(string(r.Category)))
		subs := make([]string, 0, len(r.Substrings))
		for _, s := range r.Substrings {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				subs = append(subs, s)
			}
		}
		r.Substrings = subs
		normalized = append(normalized, r)
	}
	return &Classifier{rules: normalized}, nil
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	c, _ := New(nil)
	return c
}

// Classify returns the category of err raised by operation. Errors that
// carry their own category win; no match yields UNKNOWN.
func (c *Classifier) Classify(err error, operation string) domain.ErrorCategory {
	if err == nil {
		return domain.CategoryUnknown
	}

	var pinned domain.CategorizedError
	if errors.As(err, &pinned) {
		return pinned.Category()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	types := typeNames(err)

	for _, r := range c.rules {
		if !r.appliesTo(operation) {
			continue
		}
		if r.matches(msg, types) {
			return r.Category
		}
	}
	return domain.CategoryUnknown
}

func (r Rule) appliesTo(operation string) bool {
	if len(r.Operations) == 0 {
		return true
	}
	for _, prefix := range r.Operations {
		if strings.HasPrefix(operation, prefix) {
			return true
		}
	}
	return false
}

func (r Rule) matches(msg string, types []string) bool {
	for _, s := range r.Substrings {
		if Contains(msg, s) {
			return true
		}
	}
	for _, want := range r.TypeNames {
		for _, got := range types {
			if got == want {
				return true
			}
		}
	}
	return false
}

// Contains reports whether fragment occurs in msg. A fragment made only of
// digits, such as an HTTP status code, must stand alone: "403" matches
// "403 Forbidden" but not "job 14031".
func Contains(msg, fragment string) bool {
	if fragment == "" {
		return false
	}
	if strings.IndexFunc(fragment, notDigit) >= 0 {
		return strings.Contains(msg, fragment)
	}
	for offset := 0; ; {
		i := strings.Index(msg[offset:], fragment)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(fragment)
		if (start == 0 || notDigit(rune(msg[start-1]))) &&
			(end == len(msg) || notDigit(rune(msg[end]))) {
			return true
		}
		offset = start + 1
	}
}

func notDigit(r rune) bool {
	return r < '0' || r > '9'
}

// typeNames walks the wrap chain and returns each error's dynamic type.
func typeNames(err error) []string {
	var names []string
	queue := []error{err}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if e == nil {
			continue
		}
		names = append(names, fmt.Sprintf("%T", e))
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			queue = append(queue, u.Unwrap())
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		}
	}
	return names
}
