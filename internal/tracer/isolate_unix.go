//go:build unix

package tracer

import (
	"os/exec"
	"syscall"
)

// isolate starts cmd in a new process group and kills the whole group when
// its context ends, so forked children do not outlive the deadline.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
