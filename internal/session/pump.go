package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"lg/internal/sink"
	"lg/pkg/outputlog"
	"lg/pkg/outputtype"
)

// errDrainTimeout ends a stream that stayed open and idle after the child
// exited, typically because a background grandchild inherited it.
var errDrainTimeout = errors.New("stream still open after the child exited")

// drainReader reads a pipe. Once the child has exited, a read that waits
// longer than grace for data fails with errDrainTimeout.
type drainReader struct {
	f      *os.File
	grace  time.Duration
	exited atomic.Bool
}

func (r *drainReader) childExited() {
	r.exited.Store(true)
	_ = r.f.SetReadDeadline(time.Now().Add(r.grace))
}

func (r *drainReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 && r.exited.Load() {
		// Still flowing, keep draining
		_ = r.f.SetReadDeadline(time.Now().Add(r.grace))
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, errDrainTimeout
	}
	return n, err
}

// route sends formatted lines of one stream to one transcript.
type route struct {
	w      io.Writer
	format outputlog.Formatter
}

// pump moves one child stream to the terminal and the transcripts.
type pump struct {
	stream outputlog.Stream
	src    *drainReader
	input  io.Reader // src, or a wrapper around it
	tee    *sink.TeeSink // nil when tee is off
	routes []route
	detect *outputtype.Detector // nil in plain mode
	now    func() time.Time
	log    *slog.Logger
	warn   func(format string, args ...any)
}

func (s *Session) newPump(stream outputlog.Stream, f *os.File, dest *destination) *pump {
	p := &pump{
		stream: stream,
		src:    &drainReader{f: f, grace: s.opts.DrainGrace},
		routes: dest.routes(stream),
		now:    s.opts.Now,
		log:    s.log.With("stream", stream),
		warn:   s.opts.Reporter.Warn,
	}
	p.input = p.src
	if s.wrapStream != nil {
		p.input = s.wrapStream(stream, p.src)
	}
	if !s.cfg.PlainLines && len(p.routes) > 0 {
		p.detect = outputtype.NewDetector()
	}
	if s.cfg.Tee {
		terminal, name := s.opts.Stdout, "stdout"
		if stream == outputlog.Stderr {
			terminal, name = s.opts.Stderr, "stderr"
		}
		p.tee = sink.NewTee(terminal, name, func(err error) {
			s.opts.Reporter.Warn("%v; terminal output disabled", err)
			s.fail(err)
		})
	}
	return p
}

func (p *pump) childExited() {
	p.src.childExited()
}

// run pumps until the stream ends. Raw bytes reach the terminal as they
// arrive; transcripts receive whole formatted lines.
func (p *pump) run() error {
	r := p.input
	if p.tee != nil {
		r = io.TeeReader(p.input, p.tee)
	}

	framer := outputlog.NewFramer(r, p.stream).WithClock(p.now)
	var buf []byte
	lines := 0
	for rec, err := range framer.All() {
		if errors.Is(err, errDrainTimeout) {
			p.warn("stopped reading %s: a background process still holds it open", p.stream)
			break
		}
		if err != nil {
			p.warn("reading %s failed: %v", p.stream, err)
			p.discard()
			return fmt.Errorf("%w: %s: %w", ErrPumpRead, p.stream, err)
		}
		if p.detect != nil && p.detect.Observe(rec.Line) {
			p.classified()
		}
		for _, rt := range p.routes {
			buf = rt.format.AppendFormat(buf[:0], rec)
			_, _ = rt.w.Write(buf)
		}
		lines++
	}
	if p.detect != nil {
		p.detect.Finish()
		p.classified()
	}
	p.log.Debug("stream closed", "lines", lines)
	return nil
}

// discard keeps reading the pipe after a failure, so a child writing more
// than a pipe buffer does not block and Wait can return. Bytes still reach
// the terminal when tee is on.
func (p *pump) discard() {
	var w io.Writer = io.Discard
	if p.tee != nil {
		w = p.tee
	}
	n, err := io.Copy(w, p.src)
	p.log.Debug("discarded rest of stream", "bytes", n, "error", err)
}

// classified warns once about output a line-oriented transcript renders
// badly, then stops detection.
func (p *pump) classified() {
	kind, reason := p.detect.Kind()
	p.detect = nil
	p.log.Debug("output classified", "kind", kind, "reason", reason)
	switch kind {
	case outputtype.Binary:
		p.warn("%s looks like binary data (%s); use --plain-lines to log it unchanged", p.stream, reason)
	case outputtype.Fullscreen:
		p.warn("%s drives a full-screen terminal UI (%s); its log will contain raw escape sequences", p.stream, reason)
	}
}
