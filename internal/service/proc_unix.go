//go:build unix

package service

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the program in its own process group and kills the
// whole group on cancel, so helpers it spawned cannot outlive the timeout.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
