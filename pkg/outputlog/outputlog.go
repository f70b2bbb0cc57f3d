// Package outputlog turns the raw output of a child process into the lines of
// an lg transcript. See doc.go for docs.
package outputlog

import (
	"bytes"
	"time"

	"github.com/ncruces/go-strftime"
)

// DefaultTimeFormat is the strftime layout of per-line timestamps.
const DefaultTimeFormat = "%H:%M:%S.%L"

// Stream identifies the child stream a line was read from.
type Stream string

const (
	Stdout Stream = "STDOUT"
	Stderr Stream = "STDERR"
)

// Record is a single line of output from either stdout or stderr
type Record struct {
	Stream    Stream
	Timestamp time.Time // captured when the line was framed
	Line      []byte    // the line content without its terminator
	Newline   bool      // false only for a final line without \n
}

// Formatter converts Records into the bytes written to a transcript.
type Formatter struct {
	// Plain writes the raw line plus its original terminator and nothing else.
	// It takes precedence over all other fields.
	Plain bool

	// Timestamps prefixes each line with [timestamp].
	Timestamps bool

	// Tagged prefixes each line with [STDOUT] or [STDERR]. Set it only for
	// transcripts that combine both streams.
	Tagged bool

	// TimeFormat is a strftime layout. Empty means DefaultTimeFormat.
	TimeFormat string
}

// Format returns the formatted bytes of rec.
func (f Formatter) Format(rec Record) []byte {
	return f.AppendFormat(nil, rec)
}

// AppendFormat appends the formatted bytes of rec to dst.
func (f Formatter) AppendFormat(dst []byte, rec Record) []byte {
	if f.Plain {
		dst = append(dst, rec.Line...)
		if rec.Newline {
			dst = append(dst, '\n')
		}
		return dst
	}

	prefixed := false
	if f.Timestamps {
		layout := f.TimeFormat
		if layout == "" {
			layout = DefaultTimeFormat
		}
		dst = append(dst, '[')
		dst = strftime.AppendFormat(dst, layout, rec.Timestamp)
		dst = append(dst, ']')
		prefixed = true
	}
	if f.Tagged {
		dst = append(dst, '[')
		dst = append(dst, rec.Stream...)
		dst = append(dst, ']')
		prefixed = true
	}
	if prefixed {
		dst = append(dst, ' ')
	}

	dst = append(dst, bytes.ToValidUTF8(rec.Line, []byte("\uFFFD"))...)
	return append(dst, '\n')
}
