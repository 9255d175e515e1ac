//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// killGroup makes cancellation kill the whole process group, so children
// of the shell can't keep the output pipe open.
func killGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
