package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

const fileBufferSize = 64 * 1024

// FileSink writes to a file, optionally through a streaming gzip encoder.
// It is not safe for concurrent use; wrap it in a Writer.
type FileSink struct {
	path    string
	file    *os.File
	buf     *bufio.Writer
	gz      *gzip.Writer
	written int64
	closed  bool
}

var _ Sink = &FileSink{}

// OpenFile creates or truncates path, creating missing parent directories.
func OpenFile(path string, c Compression) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s := &FileSink{
		path: path,
		file: f,
		buf:  bufio.NewWriterSize(f, fileBufferSize),
	}
	if c == Gzip {
		s.gz = gzip.NewWriter(s.buf)
	}
	return s, nil
}

// Path returns the path the sink was opened with.
func (s *FileSink) Path() string {
	return s.path
}

// Written returns the number of bytes accepted so far, before compression.
func (s *FileSink) Written() int64 {
	return s.written
}

func (s *FileSink) Write(p []byte) (int, error) {
	var n int
	var err error
	if s.gz != nil {
		n, err = s.gz.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: %s: %w", ErrWrite, s.path, err)
	}
	return n, nil
}

// Flush writes buffered bytes to the file. Compressed bytes held by the
// gzip encoder stay there until Close.
func (s *FileSink) Flush() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, s.path, err)
	}
	return nil
}

// Close finishes the gzip stream, flushes, syncs and closes the file.
// Calling Close again is a no-op.
func (s *FileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.gz != nil {
		errs = append(errs, s.gz.Close())
	}
	errs = append(errs, s.buf.Flush(), s.file.Sync(), s.file.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrWrite, s.path, err)
	}
	return nil
}

// Remove closes the sink and deletes its file.
func (s *FileSink) Remove() error {
	_ = s.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
