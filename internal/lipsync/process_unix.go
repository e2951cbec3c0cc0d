//go:build unix

package lipsync

import (
	"os/exec"
	"syscall"
)

// killProcessGroupOnCancel runs the command in its own process group so that
// cancellation also reaches the ffmpeg children inference.py spawns.
func killProcessGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
