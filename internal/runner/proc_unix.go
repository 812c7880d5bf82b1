//go:build unix

package runner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr places the child in its own process group so that a kill
// reaches the processes it spawned.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killGroup(proc *os.Process) {
	if proc == nil {
		return
	}
	_ = unix.Kill(-proc.Pid, unix.SIGKILL)
	_ = proc.Kill()
}
