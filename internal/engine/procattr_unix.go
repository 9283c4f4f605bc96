//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so cancellation can
// take down the entire process tree, not just the shell.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	// Negative PID addresses the whole group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
