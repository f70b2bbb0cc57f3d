// Package session runs one child command and records its output.
//
// A Session spawns the child with its stdout and stderr on pipes, pumps both
// streams concurrently into the transcript files and the terminal, waits for
// the child, and finalizes the files once the exit code is known.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"lg/internal/config"
	"lg/internal/naming"
	"lg/internal/process"
	"lg/pkg/outputlog"
)

// DefaultDrainGrace is how long a stream may stay idle after the child
// exited before the pump stops waiting for it.
const DefaultDrainGrace = 2 * time.Second

// State is the lifecycle phase of a Session.
type State int32

const (
	Spawning State = iota
	Running
	Draining
	Finalizing
	Done
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "spawning"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Reporter receives problems the user should see.
type Reporter interface {
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Options configures a Session. Zero values select the process defaults.
type Options struct {
	Config *config.Config

	Stdin  io.Reader // child's stdin; os.Stdin when nil
	Stdout io.Writer // tee target for the child's stdout; os.Stdout when nil
	Stderr io.Writer // tee target for the child's stderr; os.Stderr when nil
	Env    []string  // child's environment; the wrapper's when nil

	// Interactive is set when stdin is a terminal. SIGINT and SIGQUIT then
	// reach the child from the terminal and are not relayed again.
	Interactive bool
	DrainGrace  time.Duration

	Reporter Reporter
	Log      *slog.Logger
	Now      func() time.Time
}

// Result is the outcome of a run.
type Result struct {
	ExitCode int
	Signal   string
	// Paths are the transcript files left on disk: final names, or the
	// temporary names of files that could not be renamed.
	Paths []string
	// Err joins every problem of the run. Problems were already reported.
	Err error
}

// Session is a single invocation of the child command.
type Session struct {
	command string
	args    []string
	opts    Options
	cfg     *config.Config
	log     *slog.Logger

	state     atomic.Int32
	startedAt time.Time
	names     naming.Context

	exitOnce sync.Once
	exit     process.ExitStatus

	mu   sync.Mutex
	errs []error

	// wrapStream, when set, replaces what a pump reads for a stream.
	wrapStream func(outputlog.Stream, io.Reader) io.Reader
}

// New prepares a Session for command. Nothing runs until Run.
func New(command string, args []string, opts Options) *Session {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = DefaultDrainGrace
	}
	if opts.Reporter == nil {
		opts.Reporter = discardReporter{}
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		command: command,
		args:    args,
		opts:    opts,
		cfg:     opts.Config,
		log:     opts.Log.With("cmd", command),
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	s.log.Debug("session state", "state", state)
}

// Run executes the child and blocks until the transcripts are finalized.
// Cancelling ctx sends SIGTERM to the child; Run still waits for it.
func (s *Session) Run(ctx context.Context) Result {
	s.setState(Spawning)
	s.startedAt = s.opts.Now()
	s.names = naming.NewContext(s.command, s.args, s.startedAt, s.namingOptions())

	cmd := exec.Command(s.command, s.args...)
	// Resolve the executable before any file exists
	if cmd.Err != nil {
		return s.launchFailure(cmd.Err, nil)
	}

	dest, err := s.openDestination()
	if err != nil {
		return s.launchFailure(err, nil)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return s.launchFailure(fmt.Errorf("failed to create stdout pipe: %w", err), dest)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return s.launchFailure(fmt.Errorf("failed to create stderr pipe: %w", err), dest)
	}

	cmd.Stdin = s.opts.Stdin
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.Env = s.opts.Env
	setProcAttr(cmd)

	forwarder := process.NewForwarder(s.opts.Interactive, s.log)
	if err := cmd.Start(); err != nil {
		forwarder.Stop()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return s.launchFailure(err, dest)
	}
	// The child holds its own copies of the write ends
	closeAll(stdoutW, stderrW)
	forwarder.Start(cmd.Process.Pid)
	s.setState(Running)
	s.log.Debug("started child", "pid", cmd.Process.Pid)

	exited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.log.Debug("context cancelled, terminating child")
			if err := forwarder.Send(syscall.SIGTERM); err != nil {
				s.log.Debug("failed to terminate child", "error", err)
			}
		case <-exited:
		}
	}()

	outPump := s.newPump(outputlog.Stdout, stdoutR, dest)
	errPump := s.newPump(outputlog.Stderr, stderrR, dest)

	var pumps sync.WaitGroup
	for _, p := range []*pump{outPump, errPump} {
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			if err := p.run(); err != nil {
				s.fail(err)
			}
		}()
	}

	waitErr := cmd.Wait()
	close(exited)
	s.setState(Draining)
	outPump.childExited()
	errPump.childExited()
	pumps.Wait()
	closeAll(stdoutR, stderrR)
	forwarder.Stop()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		s.log.Debug("wait failed", "error", waitErr)
	}
	s.recordExit(process.StatusFromState(cmd.ProcessState))

	s.setState(Finalizing)
	paths := s.finalize(dest)
	s.setState(Done)

	return Result{
		ExitCode: s.exit.Code,
		Signal:   s.exit.Signal,
		Paths:    paths,
		Err:      s.joinedErrors(),
	}
}

// recordExit stores the exit status. Only the first call has an effect.
func (s *Session) recordExit(status process.ExitStatus) {
	s.exitOnce.Do(func() {
		s.exit = status
		s.log.Debug("child exited", "code", status.Code, "signal", status.Signal)
	})
}

func (s *Session) launchFailure(err error, dest *destination) Result {
	if dest != nil {
		dest.remove()
	}
	if isNotFound(err) {
		s.opts.Reporter.Error("%s: command not found", s.command)
	} else {
		s.opts.Reporter.Error("failed to start %s: %v", s.command, err)
	}
	s.recordExit(process.ExitStatus{Code: ExitLaunchFailure})
	s.setState(Done)
	return Result{
		ExitCode: ExitLaunchFailure,
		Err:      fmt.Errorf("%w: %s: %w", ErrLaunch, s.command, err),
	}
}

func (s *Session) namingOptions() naming.Options {
	return naming.Options{
		DateFormat:      s.cfg.DateFormat,
		TimeFormat:      s.cfg.TimeFormat,
		IncludeArgs:     s.cfg.IncludeArgsInName,
		IncludeFullArgs: s.cfg.IncludeFullArgs,
		Sanitize:        s.cfg.SanitizeFilename,
	}
}

// fail records a problem that does not stop the run.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *Session) joinedErrors() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

type discardReporter struct{}

func (discardReporter) Warn(string, ...any)  {}
func (discardReporter) Error(string, ...any) {}
