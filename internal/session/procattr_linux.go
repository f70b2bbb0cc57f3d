package session

import (
	"os/exec"
	"syscall"
)

// setProcAttr makes the kernel kill the child when the wrapper dies
// without forwarding a signal.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}
}
