package sink

import (
	"fmt"
	"io"
	"sync/atomic"
)

// TeeSink mirrors raw bytes to a terminal stream. The first write failure is
// reported through onError, after which output is silently dropped. Writes
// never fail, so a broken terminal cannot disturb the transcript.
type TeeSink struct {
	w       io.Writer
	name    string
	onError func(error)
	failed  atomic.Bool
}

var _ Sink = &TeeSink{}

func NewTee(w io.Writer, name string, onError func(error)) *TeeSink {
	return &TeeSink{w: w, name: name, onError: onError}
}

func (t *TeeSink) Write(p []byte) (int, error) {
	if t.failed.Load() {
		return len(p), nil
	}
	if _, err := t.w.Write(p); err != nil {
		if t.failed.CompareAndSwap(false, true) && t.onError != nil {
			t.onError(fmt.Errorf("%w: %s: %w", ErrWrite, t.name, err))
		}
	}
	return len(p), nil
}

// Failed reports whether the terminal stream stopped accepting writes.
func (t *TeeSink) Failed() bool {
	return t.failed.Load()
}

func (t *TeeSink) Flush() error { return nil }

func (t *TeeSink) Close() error { return nil }
