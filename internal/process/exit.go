package process

import (
	"os"
	"syscall"
)

// ExitStatus is how the child terminated.
type ExitStatus struct {
	// Code is the exit code the wrapper passes on: the child's own code, or
	// 128+N when it was killed by signal N.
	Code int
	// Signal is the name of the killing signal, empty for a normal exit.
	Signal string
}

// Signaled reports whether the child was killed by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != ""
}

// StatusFromState classifies a finished process. A nil state, which means
// Wait failed before the process was reaped, maps to exit code 1.
func StatusFromState(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: 1}
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		sig := status.Signal()
		return ExitStatus{Code: 128 + int(sig), Signal: SignalName(sig)}
	}
	return ExitStatus{Code: state.ExitCode()}
}
