// Package executor runs jobs as external commands.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

// resourcePrefix marks a stdout line reporting a created artifact, e.g.
// "resource:file:/tmp/out.json".
const resourcePrefix = "resource:"

// DefaultStderrTail is how much trailing stderr becomes the error message.
const DefaultStderrTail = 4096

// Config configures the command executor.
type Config struct {
	// Command is run through Shell with -c
	Command string   `yaml:"command"`
	Shell   string   `yaml:"shell"`
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`

	// StderrTail bounds the error message taken from stderr, in bytes
	StderrTail int `yaml:"stderr_tail"`

	// ExitCategories pins the error category for specific exit codes
	ExitCategories map[int]domain.ErrorCategory `yaml:"exit_categories"`
}

// CommandExecutor runs one process per attempt. The job payload is written
// to stdin; job metadata is passed in JOB_* environment variables.
type CommandExecutor struct {
	config Config
	logger *slog.Logger
}

// NewCommandExecutor validates the config and creates an executor.
func NewCommandExecutor(cfg Config, logger *slog.Logger) (*CommandExecutor, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("executor command is required")
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.StderrTail <= 0 {
		cfg.StderrTail = DefaultStderrTail
	}
	for code, c := range cfg.ExitCategories {
		if _, err := domain.ParseCategory(string(c)); err != nil {
			return nil, fmt.Errorf("exit code %d: %w", code, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandExecutor{config: cfg, logger: logger}, nil
}

// Execute runs the command for one attempt.
func (e *CommandExecutor) Execute(ctx context.Context, job *domain.Job, attempt *domain.AttemptContext) error {
	cmd := exec.CommandContext(ctx, e.config.Shell, "-c", e.config.Command)
	cmd.Dir = e.config.Dir
	killGroup(cmd)
	cmd.Stdin = bytes.NewReader(job.Payload)
	cmd.Env = append(os.Environ(), e.config.Env...)
	cmd.Env = append(cmd.Env,
		"JOB_ID="+job.ID,
		"JOB_PRIORITY="+string(job.Priority),
		"JOB_OPERATION="+attempt.Operation,
		"JOB_ATTEMPT="+strconv.Itoa(attempt.RetryCount+1),
	)

	stderr := newTailBuffer(e.config.StderrTail)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	e.scanOutput(stdout, job, attempt)
	waitErr := cmd.Wait()
	if waitErr == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("command interrupted: %w", ctxErr)
	}

	msg := strings.TrimSpace(stderr.String())
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		if msg == "" {
			msg = waitErr.Error()
		}
		err := fmt.Errorf("command exited with code %d: %s", code, msg)
		if c, ok := e.config.ExitCategories[code]; ok {
			return domain.WithCategory(err, c)
		}
		return err
	}
	return fmt.Errorf("command failed: %w", waitErr)
}

func (e *CommandExecutor) scanOutput(r io.Reader, job *domain.Job, attempt *domain.AttemptContext) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if kind, handle, ok := parseResource(line); ok {
			attempt.AddResource(kind, handle)
			continue
		}
		if line != "" {
			e.logger.Debug("job output", "job_id", job.ID, "line", line)
		}
	}
	// Drain so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// parseResource splits "resource:<kind>:<handle>".
func parseResource(line string) (kind, handle string, ok bool) {
	rest, found := strings.CutPrefix(line, resourcePrefix)
	if !found {
		return "", "", false
	}
	kind, handle, found = strings.Cut(rest, ":")
	if !found || kind == "" || handle == "" {
		return "", "", false
	}
	return kind, handle, true
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
