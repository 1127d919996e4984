//go:build windows

package runtime

import (
	"os/exec"
	"syscall"
)

// setProcAttr sets platform-specific process attributes.
// On Windows, we create a new process group so we can signal child processes.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// killProcessGroup kills a process on Windows.
// Windows doesn't have Unix-style process groups, so we kill the process directly.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			if err.Error() != "os: process already finished" {
				return err
			}
		}
	}
	return nil
}
