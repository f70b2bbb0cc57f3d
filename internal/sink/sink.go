//go:generate go run go.uber.org/mock/mockgen -source=sink.go -destination=../mocks/mock_sink.go -package=mocks

// Package sink holds the destinations the output pumps write to: transcript
// files, the terminal, and a serializing writer that lets several producers
// share one file.
package sink

import (
	"errors"
	"io"
	"strings"
)

// ErrWrite wraps every write failure reported by a sink.
var ErrWrite = errors.New("sink write failed")

// Sink accepts ordered byte chunks.
type Sink interface {
	io.Writer
	// Flush pushes buffered bytes to the underlying file or terminal.
	Flush() error
	// Close flushes and releases the sink.
	Close() error
}

// Compression selects how a FileSink encodes its bytes.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gz"
)

// ParseCompression maps a config value to a Compression. Unknown values
// return None and false.
func ParseCompression(s string) (Compression, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(None):
		return None, true
	case string(Gzip), "gzip":
		return Gzip, true
	}
	return None, false
}
