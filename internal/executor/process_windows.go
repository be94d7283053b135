//go:build windows

package executor

import "os/exec"

func configureProcessGroup(command *exec.Cmd) {}

func terminateProcessGroup(command *exec.Cmd) {
	if command.Process == nil {
		return
	}
	_ = command.Process.Kill()
}
