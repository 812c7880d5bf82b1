//go:build !unix

package runner

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr { return nil }

func killGroup(proc *os.Process) {
	if proc == nil {
		return
	}
	_ = proc.Kill()
}
