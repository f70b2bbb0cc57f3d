package outputlog

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"time"
)

// Framer splits a byte stream into Records delimited by \n.
//
// Only the current incomplete line is buffered. A final line without a
// terminator is still returned. Carriage returns are data.
type Framer struct {
	stream Stream
	reader *bufio.Reader
	now    func() time.Time
	err    error
}

// NewFramer returns a Framer reading lines of stream from r.
func NewFramer(r io.Reader, stream Stream) *Framer {
	return &Framer{
		stream: stream,
		reader: bufio.NewReader(r),
		now:    time.Now,
	}
}

// WithClock replaces the clock used to stamp Records.
func (f *Framer) WithClock(now func() time.Time) *Framer {
	f.now = now
	return f
}

// Next returns the next line. At the end of the stream it returns io.EOF. A
// read error is returned after any partial line read before it.
func (f *Framer) Next() (Record, error) {
	if f.err != nil {
		return Record{}, f.err
	}

	var line []byte
	for {
		chunk, err := f.reader.ReadSlice('\n')
		// ReadSlice reuses its buffer, so copy before reading again
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			f.err = err
			if len(line) == 0 {
				return Record{}, err
			}
			return f.record(line, false), nil
		}
		return f.record(line[:len(line)-1], true), nil
	}
}

// All iterates over the remaining lines. Iteration stops at the end of the
// stream; any other error is yielded once as the last element.
func (f *Framer) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := f.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (f *Framer) record(line []byte, newline bool) Record {
	return Record{
		Stream:    f.stream,
		Timestamp: f.now(),
		Line:      line,
		Newline:   newline,
	}
}
