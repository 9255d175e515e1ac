package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vietddude/jobrunner/internal/core/domain"
)

// CommandDeleter removes a remote resource by running a shell command with
// RESOURCE_KIND and RESOURCE_HANDLE set.
type CommandDeleter struct {
	Command string
	Shell   string
}

// Delete runs the command; a non-zero exit is a failed deletion.
func (d CommandDeleter) Delete(ctx context.Context, r domain.Resource) error {
	return runHook(ctx, d.Shell, d.Command,
		"RESOURCE_KIND="+r.Kind,
		"RESOURCE_HANDLE="+r.Handle,
	)
}

// CommandStash returns a hook that parks uncommitted local state by
// running a shell command with JOB_ID and JOB_OPERATION set.
func CommandStash(shell, command string) func(ctx context.Context, attempt *domain.AttemptContext) error {
	return func(ctx context.Context, attempt *domain.AttemptContext) error {
		return runHook(ctx, shell, command,
			"JOB_ID="+attempt.JobID,
			"JOB_OPERATION="+attempt.Operation,
		)
	}
}

func runHook(ctx context.Context, shell, command string, env ...string) error {
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	killGroup(cmd)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hook %q failed: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}
