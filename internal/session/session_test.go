package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"lg/internal/config"
	"lg/internal/process"
	"lg/pkg/outputlog"
)

type recordingReporter struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (r *recordingReporter) Warn(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) Error(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

type harness struct {
	cfg      *config.Config
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	reporter recordingReporter
	env      []string
	grace    time.Duration
}

func newHarness(t *testing.T) *harness {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.FilenameTemplate = "run.log"
	return &harness{cfg: cfg, grace: time.Second}
}

func (h *harness) options() Options {
	return Options{
		Config:     h.cfg,
		Stdin:      strings.NewReader(""),
		Stdout:     &h.stdout,
		Stderr:     &h.stderr,
		Env:        h.env,
		DrainGrace: h.grace,
		Reporter:   &h.reporter,
	}
}

func (h *harness) run(mode ...string) Result {
	command, args := helperCommand(mode...)
	return New(command, args, h.options()).Run(context.Background())
}

func (h *harness) dirEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.cfg.OutputDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readTranscript(t *testing.T, path string, f outputlog.Formatter) *outputlog.Transcript {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	tr, err := outputlog.ReadTranscript(file, f)
	require.NoError(t, err)
	return tr
}

var (
	combinedFormat = outputlog.Formatter{Timestamps: true, Tagged: true}
	splitFormat    = outputlog.Formatter{Timestamps: true}
	stampPattern   = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3}$`)
)

func TestRun_CombinedTranscript(t *testing.T) {
	h := newHarness(t)

	res := h.run("both")

	require.NoError(t, res.Err)
	require.Equal(t, 0, res.ExitCode)
	require.Empty(t, res.Signal)
	require.Equal(t, []string{filepath.Join(h.cfg.OutputDir, "run.log")}, res.Paths)

	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.NotEmpty(t, tr.Header.RunID)
	require.Equal(t, os.Args[0], tr.Header.Command)
	require.NotEmpty(t, tr.Header.Host)
	require.True(t, tr.HasTrailer)
	require.Equal(t, 0, tr.ExitCode)
	require.Equal(t, "to stdout\n", tr.Text(outputlog.Stdout))
	require.Equal(t, "to stderr\n", tr.Text(outputlog.Stderr))
	for _, e := range tr.Entries {
		require.Regexp(t, stampPattern, e.Stamp)
	}

	// The terminal gets the raw bytes of each stream
	require.Equal(t, "to stdout\n", h.stdout.String())
	require.Equal(t, "to stderr\n", h.stderr.String())
}

func TestRun_SplitStreams(t *testing.T) {
	h := newHarness(t)
	h.cfg.SplitStreams = true

	res := h.run("both")

	require.NoError(t, res.Err)
	require.Equal(t, []string{
		filepath.Join(h.cfg.OutputDir, "run.out.log"),
		filepath.Join(h.cfg.OutputDir, "run.err.log"),
	}, res.Paths)

	out := readTranscript(t, res.Paths[0], splitFormat)
	errs := readTranscript(t, res.Paths[1], splitFormat)
	require.Equal(t, "to stdout\n", out.Text(""))
	require.Equal(t, "to stderr\n", errs.Text(""))
	require.Equal(t, out.Header.RunID, errs.Header.RunID, "split files share the run id")
	require.True(t, out.HasTrailer)
	require.True(t, errs.HasTrailer)
}

func TestRun_CombineStreamsDisabledSplits(t *testing.T) {
	h := newHarness(t)
	h.cfg.CombineStreams = false

	res := h.run("both")

	require.Len(t, res.Paths, 2)
	require.ElementsMatch(t, []string{"run.out.log", "run.err.log"}, h.dirEntries(t))
}

func TestRun_DeferredExitCodeInName(t *testing.T) {
	h := newHarness(t)
	h.cfg.FilenameTemplate = "run_{exit_code}.log"

	res := h.run("exit", "3")

	require.NoError(t, res.Err)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, []string{filepath.Join(h.cfg.OutputDir, "run_3.log")}, res.Paths)
	require.Equal(t, []string{"run_3.log"}, h.dirEntries(t), "the temporary file is gone")

	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Equal(t, 3, tr.ExitCode)
	require.Equal(t, "exiting with 3\n", tr.Text(outputlog.Stdout))
}

func TestRun_DeferredSplitNames(t *testing.T) {
	h := newHarness(t)
	h.cfg.FilenameTemplate = "run_{exit_code}"
	h.cfg.SplitStreams = true

	res := h.run("exit", "1")

	require.Equal(t, 1, res.ExitCode)
	require.ElementsMatch(t, []string{"run_1.out.log", "run_1.err.log"}, h.dirEntries(t))
}

func TestRun_NoFinalFileWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.cfg.FilenameTemplate = "run_{exit_code}.log"

	// The child lists the output directory while it runs
	res := h.run("list", h.cfg.OutputDir)

	require.Equal(t, 0, res.ExitCode)
	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Equal(t, ".run_NA.log.partial\n", tr.Text(outputlog.Stdout))
}

func TestRun_CommandNotFound(t *testing.T) {
	h := newHarness(t)

	res := New("lg-test-no-such-command", nil, h.options()).Run(context.Background())

	require.Equal(t, ExitLaunchFailure, res.ExitCode)
	require.ErrorIs(t, res.Err, ErrLaunch)
	require.Empty(t, res.Paths)
	require.Empty(t, h.dirEntries(t), "no transcript for a command that never ran")
	require.Len(t, h.reporter.errors, 1)
	require.Contains(t, h.reporter.errors[0], "command not found")
}

func TestRun_StartFailureRemovesFiles(t *testing.T) {
	h := newHarness(t)
	notExecutable := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(notExecutable, []byte("#!/bin/sh\n"), 0o644))

	s := New(notExecutable, nil, h.options())
	res := s.Run(context.Background())

	require.Equal(t, ExitLaunchFailure, res.ExitCode)
	require.ErrorIs(t, res.Err, ErrLaunch)
	require.Empty(t, h.dirEntries(t))
	require.Equal(t, Done, s.State())
}

func TestRun_ExitCodes(t *testing.T) {
	for _, code := range []int{0, 1, 2, 42, 255} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			h := newHarness(t)
			res := h.run("exit", fmt.Sprint(code))

			require.Equal(t, code, res.ExitCode)
			require.Equal(t, code, readTranscript(t, res.Paths[0], combinedFormat).ExitCode)
		})
	}
}

func TestRun_KilledBySignal(t *testing.T) {
	h := newHarness(t)

	res := h.run("kill")

	require.Equal(t, 137, res.ExitCode)
	require.Equal(t, "SIGKILL", res.Signal)
	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Equal(t, 137, tr.ExitCode)
	require.Equal(t, "SIGKILL", tr.Signal)
	require.Equal(t, "about to die\n", tr.Text(outputlog.Stdout))
}

func TestRun_BurstOnBothStreams(t *testing.T) {
	h := newHarness(t)
	h.cfg.Tee = false
	const lines = 5000

	res := h.run("burst", fmt.Sprint(lines))

	require.NoError(t, res.Err)
	tr := readTranscript(t, res.Paths[0], combinedFormat)

	next := map[outputlog.Stream]int{}
	for _, e := range tr.Entries {
		prefix := "out"
		if e.Stream == outputlog.Stderr {
			prefix = "err"
		}
		want := fmt.Sprintf("%s-%06d ", prefix, next[e.Stream])
		require.True(t, strings.HasPrefix(e.Text, want), "got %q, want prefix %q", e.Text, want)
		next[e.Stream]++
	}
	require.Equal(t, lines, next[outputlog.Stdout])
	require.Equal(t, lines, next[outputlog.Stderr])
}

// failAfter passes n bytes through, then fails with err.
type failAfter struct {
	r   io.Reader
	n   int
	err error
}

func (f *failAfter) Read(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, f.err
	}
	if len(p) > f.n {
		p = p[:f.n]
	}
	n, err := f.r.Read(p)
	f.n -= n
	return n, err
}

func TestRun_ReadErrorOnOneStream(t *testing.T) {
	h := newHarness(t)
	h.cfg.Tee = false
	const lines = 5000
	boom := errors.New("device gone")

	command, args := helperCommand("burst", fmt.Sprint(lines))
	s := New(command, args, h.options())
	s.wrapStream = func(stream outputlog.Stream, r io.Reader) io.Reader {
		if stream == outputlog.Stderr {
			return &failAfter{r: r, n: 1000, err: boom}
		}
		return r
	}

	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()

	var res Result
	select {
	case res = <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("run did not finish after a stream failed")
	}

	// The child wrote far more than a pipe buffer to stderr and still exited
	require.Equal(t, 0, res.ExitCode)
	require.ErrorIs(t, res.Err, ErrPumpRead)
	require.ErrorIs(t, res.Err, boom)
	require.Len(t, h.reporter.warns, 1)
	require.Contains(t, h.reporter.warns[0], "reading STDERR failed")

	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.True(t, tr.HasTrailer)
	require.Len(t, strings.Split(strings.TrimSuffix(tr.Text(outputlog.Stdout), "\n"), "\n"), lines)
	// Only the lines read before the failure are logged
	stderrText := tr.Text(outputlog.Stderr)
	require.True(t, strings.HasPrefix(stderrText, "err-000000 "), stderrText)
	require.LessOrEqual(t, strings.Count(stderrText, "\n"), 10)
}

func TestRun_Gzip(t *testing.T) {
	h := newHarness(t)
	h.cfg.Compress = "gz"

	res := h.run("both")

	require.Equal(t, []string{filepath.Join(h.cfg.OutputDir, "run.log.gz")}, res.Paths)

	f, err := os.Open(res.Paths[0])
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	tr, err := outputlog.ReadTranscript(zr, combinedFormat)
	require.NoError(t, err)
	require.Equal(t, "to stdout\n", tr.Text(outputlog.Stdout))
	require.True(t, tr.HasTrailer)
}

func TestRun_PlainLinesKeepsBytes(t *testing.T) {
	h := newHarness(t)
	h.cfg.PlainLines = true

	res := h.run("raw")

	require.NoError(t, res.Err)
	data, err := os.ReadFile(res.Paths[0])
	require.NoError(t, err)

	var want []byte
	for range 4 {
		for i := range 256 {
			want = append(want, byte(i))
		}
	}
	want = append(want, "tail without newline"...)
	require.Equal(t, want, data)
	require.Equal(t, want, h.stdout.Bytes())
}

func TestRun_WarnsAboutBinaryOutput(t *testing.T) {
	h := newHarness(t)

	res := h.run("raw")

	require.NoError(t, res.Err)
	require.Len(t, h.reporter.warns, 1)
	require.Contains(t, h.reporter.warns[0], "STDOUT looks like binary data")
	require.Contains(t, h.reporter.warns[0], "--plain-lines")
}

func TestRun_PlainLinesSkipsDetection(t *testing.T) {
	h := newHarness(t)
	h.cfg.PlainLines = true

	h.run("raw")

	require.Empty(t, h.reporter.warns)
}

func TestRun_PartialLastLine(t *testing.T) {
	h := newHarness(t)

	res := h.run("partial")

	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Equal(t, "no newline\n", tr.Text(outputlog.Stdout))
	require.True(t, tr.HasTrailer, "the trailer starts on its own line")
	require.Equal(t, "no newline", h.stdout.String())
}

func TestRun_NoTee(t *testing.T) {
	h := newHarness(t)
	h.cfg.Tee = false

	res := h.run("both")

	require.Empty(t, h.stdout.String())
	require.Empty(t, h.stderr.String())
	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Len(t, tr.Entries, 2)
}

func TestRun_WithoutTimestamps(t *testing.T) {
	h := newHarness(t)
	h.cfg.TimestampEachLine = false

	res := h.run("stdout", "[bracketed] text")

	data, err := os.ReadFile(res.Paths[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "\n[STDOUT] [bracketed] text\n")
}

func TestRun_RenameFailureKeepsTemp(t *testing.T) {
	h := newHarness(t)
	h.cfg.FilenameTemplate = "run_{exit_code}.log"
	blocker := filepath.Join(h.cfg.OutputDir, "run_0.log")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "occupied"), 0o755))

	res := h.run("exit", "0")

	require.Equal(t, 0, res.ExitCode, "a rename failure does not change the exit code")
	require.ErrorIs(t, res.Err, ErrRename)
	temp := filepath.Join(h.cfg.OutputDir, ".run_NA.log.partial")
	require.Equal(t, []string{temp}, res.Paths)
	require.FileExists(t, temp)
	require.Len(t, h.reporter.errors, 1)
	require.Contains(t, h.reporter.errors[0], temp)
}

func TestRun_BackgroundGrandchildDoesNotHang(t *testing.T) {
	h := newHarness(t)
	h.grace = 200 * time.Millisecond

	start := time.Now()
	res := h.run("grandchild")
	elapsed := time.Since(start)

	require.Equal(t, 0, res.ExitCode)
	require.Less(t, elapsed, 2500*time.Millisecond, "the wrapper must not wait for the grandchild")
	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Equal(t, "parent done\n", tr.Text(outputlog.Stdout))
	require.NotEmpty(t, h.reporter.warns)
}

func TestRun_ContextCancelTerminatesChild(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()
	command, args := helperCommand("sleep")
	res := New(command, args, h.options()).Run(ctx)

	require.Equal(t, 143, res.ExitCode)
	require.Equal(t, "SIGTERM", res.Signal)
}

func TestRun_LogEnv(t *testing.T) {
	h := newHarness(t)
	h.cfg.LogEnv = true
	h.env = []string{"PATH=" + os.Getenv("PATH"), "LG_TEST_MARKER=42"}

	res := h.run("env", "LG_TEST_MARKER")

	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Equal(t, []string{"LG_TEST_MARKER=42", "PATH=" + os.Getenv("PATH")}, tr.Header.Env, "sorted")
	require.Equal(t, "42\n", tr.Text(outputlog.Stdout))
}

func TestRun_HeaderArgs(t *testing.T) {
	h := newHarness(t)
	h.cfg.IncludeFullArgs = false

	res := h.run("stdout", "visible")

	tr := readTranscript(t, res.Paths[0], combinedFormat)
	// Flags like -test.run are dropped without include_full_args
	require.NotContains(t, tr.Header.Args, "-test.run")
	require.Contains(t, tr.Header.Args, "visible")
}

type brokenTerminal struct{}

func (brokenTerminal) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRun_TerminalFailureKeepsTranscript(t *testing.T) {
	h := newHarness(t)
	opts := h.options()
	opts.Stdout = brokenTerminal{}

	command, args := helperCommand("stdout", "one", "two", "three")
	res := New(command, args, opts).Run(context.Background())

	require.Equal(t, 0, res.ExitCode)
	require.ErrorIs(t, res.Err, ErrSinkWrite)
	require.Len(t, h.reporter.warns, 1, "reported once")

	tr := readTranscript(t, res.Paths[0], combinedFormat)
	require.Equal(t, "one\ntwo\nthree\n", tr.Text(outputlog.Stdout))
}

func TestRun_RecordsExitOnce(t *testing.T) {
	h := newHarness(t)
	s := New("true", nil, h.options())

	res := s.Run(context.Background())
	require.Equal(t, 0, res.ExitCode)

	s.recordExit(process.ExitStatus{Code: 9})
	require.Equal(t, 0, s.exit.Code)
	require.Equal(t, Done, s.State())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "spawning", Spawning.String())
	require.Equal(t, "running", Running.String())
	require.Equal(t, "draining", Draining.String())
	require.Equal(t, "finalizing", Finalizing.String())
	require.Equal(t, "done", Done.String())
	require.Equal(t, "State(9)", State(9).String())
}
