package session

import (
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"lg/internal/naming"
	"lg/internal/sink"
	"lg/pkg/outputlog"
)

// target is one transcript file.
type target struct {
	final   string // final path; rendered with NA until the exit code is known
	path    string // path being written, a temporary one when deferred
	streams []outputlog.Stream
	format  outputlog.Formatter
	file    *sink.FileSink
	writer  *sink.Writer
}

func (t *target) carries(stream outputlog.Stream) bool {
	return slices.Contains(t.streams, stream)
}

// destination is the set of transcripts of a run: one combined file or
// one file per stream.
type destination struct {
	targets  []*target
	deferred bool
	runID    string
}

func (d *destination) routes(stream outputlog.Stream) []route {
	var routes []route
	for _, t := range d.targets {
		if t.carries(stream) {
			routes = append(routes, route{w: t.writer, format: t.format})
		}
	}
	return routes
}

// remove deletes every file opened so far.
func (d *destination) remove() {
	for _, t := range d.targets {
		if t.writer != nil {
			_ = t.writer.Close()
		}
		if t.file != nil {
			_ = t.file.Remove()
		}
	}
}

func (s *Session) layout() naming.Layout {
	compression, _ := sink.ParseCompression(s.cfg.Compress)
	return naming.Layout{Dir: s.cfg.OutputDir, Gzip: compression == sink.Gzip}
}

// targetPaths maps a rendered name to one path per target, in target order.
func (s *Session) targetPaths(name string) []string {
	if s.cfg.Split() {
		stdout, stderr := s.layout().Split(name)
		return []string{stdout, stderr}
	}
	return []string{s.layout().Combined(name)}
}

// openDestination opens every transcript and writes the headers. When the
// template needs the exit code, files are written under temporary names.
func (s *Session) openDestination() (*destination, error) {
	name := naming.Render(s.cfg.FilenameTemplate, s.names, s.namingOptions())
	d := &destination{
		deferred: naming.Deferred(s.cfg.FilenameTemplate),
		runID:    uuid.NewString(),
	}

	format := outputlog.Formatter{
		Plain:      s.cfg.PlainLines,
		Timestamps: s.cfg.TimestampEachLine,
		TimeFormat: s.cfg.LineTimeFormat,
	}
	paths := s.targetPaths(name)
	if len(paths) == 1 {
		combined := format
		combined.Tagged = true
		d.targets = []*target{
			{final: paths[0], streams: []outputlog.Stream{outputlog.Stdout, outputlog.Stderr}, format: combined},
		}
	} else {
		d.targets = []*target{
			{final: paths[0], streams: []outputlog.Stream{outputlog.Stdout}, format: format},
			{final: paths[1], streams: []outputlog.Stream{outputlog.Stderr}, format: format},
		}
	}

	compression, _ := sink.ParseCompression(s.cfg.Compress)
	for _, t := range d.targets {
		t.path = t.final
		if d.deferred {
			t.path = naming.TempPath(t.final)
		}
		file, err := sink.OpenFile(t.path, compression)
		if err != nil {
			d.remove()
			return nil, err
		}
		t.file = file
		t.writer = sink.NewWriter(file, func(err error) {
			s.opts.Reporter.Warn("%v; transcript may be incomplete", err)
			s.fail(err)
		})
		s.log.Debug("opened transcript", "path", t.path, "deferred", d.deferred)
	}

	if !s.cfg.PlainLines {
		header := outputlog.FormatHeader(s.header(d.runID))
		for _, t := range d.targets {
			_, _ = t.writer.Write(header)
		}
	}
	return d, nil
}

func (s *Session) header(runID string) outputlog.Header {
	h := outputlog.Header{
		RunID:   runID,
		Command: s.command,
		Args:    s.names.Args,
		Date:    strings.TrimSpace(s.names.Date + " " + s.names.Time),
		Cwd:     s.names.Cwd,
		Host:    s.names.Hostname,
	}
	if s.cfg.LogEnv {
		env := s.opts.Env
		if env == nil {
			env = os.Environ()
		}
		h.Env = slices.Sorted(slices.Values(env))
	}
	return h
}
