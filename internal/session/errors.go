package session

import (
	"errors"
	"os"
	"os/exec"

	"lg/internal/sink"
)

// ExitLaunchFailure is the exit code when the child could not be started
// or the run could not be set up.
const ExitLaunchFailure = 127

var (
	// ErrLaunch means the child never ran. No transcript is left on disk.
	ErrLaunch = errors.New("failed to launch command")
	// ErrPumpRead means reading one of the child's streams failed. The run
	// continues with the other stream.
	ErrPumpRead = errors.New("failed to read child output")
	// ErrSinkWrite means a transcript or the terminal stopped accepting bytes.
	ErrSinkWrite = sink.ErrWrite
	// ErrRename means a deferred transcript kept its temporary name.
	ErrRename = errors.New("failed to rename transcript")
)

func isNotFound(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return true
	}
	// On some platforms the underlying error may be a PathError.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return true
	}
	return false
}
