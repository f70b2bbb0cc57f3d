// Package outputtype classifies what a child writes to a stream, so that the
// wrapper can warn when a formatted transcript is a poor fit for it.
package outputtype

import (
	"bytes"
)

// Kind is the detected kind of a stream's output.
type Kind string

const (
	Unknown    Kind = "unknown"
	Binary     Kind = "binary"
	Text       Kind = "text"
	Fullscreen Kind = "fullscreen"
	Styled     Kind = "styled"
)

const (
	maxSample = 8192
	maxLines  = 50
)

// Detector looks at the first lines of a stream. It is used by a single
// goroutine.
type Detector struct {
	kind    Kind
	reason  string
	sampled int
	lines   int

	cursorMovement bool
	colorCodes     bool
}

// NewDetector creates a detector that has not decided yet.
func NewDetector() *Detector {
	return &Detector{kind: Unknown}
}

// Observe feeds one line, without its terminator, and reports whether the
// kind is now decided. Lines observed after that are ignored.
func (d *Detector) Observe(line []byte) bool {
	if d.kind != Unknown {
		return true
	}
	d.sampled += len(line)
	d.lines++

	if isBinary(line) {
		d.decide(Binary, "null bytes or many control characters")
		return true
	}

	if bytes.Contains(line, []byte("\x1b[")) {
		switch {
		case containsAny(line, "\x1b[?1049h", "\x1b[?1047h", "\x1b[?47h"):
			d.decide(Fullscreen, "alternate screen buffer escape sequence")
			return true
		case containsAny(line, "\x1b[2J", "\x1b[3J"):
			d.decide(Fullscreen, "clear screen escape sequence")
			return true
		}
		if containsAny(line, "\x1b[H", "\x1b[A", "\x1b[B", "\x1b[C", "\x1b[D") || hasCSI(line, 'H') {
			d.cursorMovement = true
		}
		if hasCSI(line, 'm') {
			d.colorCodes = true
		}
	}

	if d.sampled < maxSample && d.lines < maxLines {
		return false
	}
	if d.colorCodes || d.cursorMovement {
		d.decide(Styled, "color codes or cursor movement")
	} else {
		d.decide(Text, "no terminal control sequences")
	}
	return true
}

// Finish decides from what has been observed so far, for streams that ended
// before the sample was complete.
func (d *Detector) Finish() Kind {
	if d.kind != Unknown || d.lines == 0 {
		return d.kind
	}
	if d.colorCodes || d.cursorMovement {
		d.decide(Styled, "color codes or cursor movement")
	} else {
		d.decide(Text, "no terminal control sequences")
	}
	return d.kind
}

// Kind returns the detected kind and the reason for it.
func (d *Detector) Kind() (Kind, string) {
	return d.kind, d.reason
}

func (d *Detector) decide(k Kind, reason string) {
	d.kind = k
	d.reason = reason
}

// isBinary reports a NUL byte, or more than 30% C0/C1 control characters.
// Tab, CR and ESC are common in text output and do not count.
func isBinary(line []byte) bool {
	if len(line) == 0 {
		return false
	}
	if bytes.IndexByte(line, 0) >= 0 {
		return true
	}
	control := 0
	for _, r := range bytes.Runes(line) {
		if (r < 32 && r != '\t' && r != '\r' && r != 0x1b) || (r > 126 && r < 160) {
			control++
		}
	}
	return float64(control) > float64(len(line))*0.3
}

func containsAny(line []byte, seqs ...string) bool {
	for _, s := range seqs {
		if bytes.Contains(line, []byte(s)) {
			return true
		}
	}
	return false
}

// hasCSI looks for ESC [ followed by digits and semicolons, then final.
func hasCSI(line []byte, final byte) bool {
	for rest := line; ; {
		i := bytes.Index(rest, []byte("\x1b["))
		if i < 0 {
			return false
		}
		rest = rest[i+2:]
		j := 0
		for j < len(rest) && (rest[j] >= '0' && rest[j] <= '9' || rest[j] == ';') {
			j++
		}
		if j > 0 && j < len(rest) && rest[j] == final {
			return true
		}
	}
}
