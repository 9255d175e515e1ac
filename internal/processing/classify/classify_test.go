package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/jobrunner/internal/core/domain"
)

func TestClassify_DefaultRules(t *testing.T) {
	c := Default()

	tests := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"rate limit", errors.New("API rate limit exceeded for user"), domain.CategoryExternalService},
		{"auth", errors.New("401 Bad credentials"), domain.CategoryExternalService},
		{"merge conflict", errors.New("CONFLICT (content): Merge conflict in main.go"), domain.CategoryOperation},
		{"already exists", errors.New("branch feature/x already exists"), domain.CategoryOperation},
		{"uncommitted", errors.New("you have uncommitted changes"), domain.CategoryOperation},
		{"timeout text", errors.New("request timed out"), domain.CategoryTimeout},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), domain.CategoryTimeout},
		{"refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), domain.CategoryNetwork},
		{"op error type", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, domain.CategoryNetwork},
		{"disk", errors.New("write /tmp/x: no space left on device"), domain.CategoryResource},
		{"validation", errors.New("payload is malformed"), domain.CategoryValidation},
		{"status code", errors.New("GET /repos: 503 Service Unavailable"), domain.CategoryExternalService},
		{"digits inside id", errors.New("job 14031: invalid payload"), domain.CategoryValidation},
		{"digits inside port", errors.New("dial tcp 10.0.0.1:4290: connection refused"), domain.CategoryNetwork},
		{"unknown", errors.New("something odd happened"), domain.CategoryUnknown},
		{"nil", nil, domain.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err, "job.execute"))
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		msg, fragment string
		want          bool
	}{
		{"403 forbidden", "403", true},
		{"status=403", "403", true},
		{"got status 403", "403", true},
		{"job 14031 failed", "403", false},
		{"4030 then 403.", "403", true},
		{"rate limit exceeded", "rate limit", true},
		{"ratelimit", "rate limit", false},
		{"anything", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Contains(tt.msg, tt.fragment), "%q in %q", tt.fragment, tt.msg)
	}
}

func TestClassify_PinnedCategoryWins(t *testing.T) {
	c := Default()
	err := domain.WithCategory(errors.New("rate limit"), domain.CategoryValidation)
	assert.Equal(t, domain.CategoryValidation, c.Classify(fmt.Errorf("wrapped: %w", err), "op"))
}

func TestClassify_FirstMatchWins(t *testing.T) {
	c, err := New([]Rule{
		{Category: domain.CategoryNetwork, Substrings: []string{"boom"}},
		{Category: domain.CategoryResource, Substrings: []string{"boom"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryNetwork, c.Classify(errors.New("BOOM"), "op"))
}

func TestClassify_OperationScopedRule(t *testing.T) {
	c, err := New([]Rule{
		{Category: domain.CategoryOperation, Substrings: []string{"exit status 1"}, Operations: []string{"git."}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.CategoryOperation, c.Classify(errors.New("exit status 1"), "git.push"))
	assert.Equal(t, domain.CategoryUnknown, c.Classify(errors.New("exit status 1"), "render"))
}

type customErr struct{}

func (customErr) Error() string { return "opaque" }

func TestClassify_TypeName(t *testing.T) {
	c, err := New([]Rule{
		{Category: domain.CategoryResource, TypeNames: []string{"classify.customErr"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryResource, c.Classify(fmt.Errorf("x: %w", customErr{}), "op"))
}

func TestNew_RejectsUnknownCategory(t *testing.T) {
	_, err := New([]Rule{{Category: "weird"}})
	assert.Error(t, err)
}
