//go:build windows

package engine

import "os/exec"

// Windows has no process groups in the POSIX sense; exec.CommandContext's
// default kill of the direct child is the best available behavior here.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
