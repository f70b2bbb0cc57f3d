package session

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"lg/internal/naming"
	"lg/pkg/outputlog"
)

const renameAttempts = 3

// finalize writes the trailers, closes the transcripts and gives deferred
// files their final names. It returns the paths left on disk.
func (s *Session) finalize(d *destination) []string {
	if !s.cfg.PlainLines {
		trailer := outputlog.FormatTrailer(s.exit.Code, s.exit.Signal)
		for _, t := range d.targets {
			_, _ = t.writer.Write(trailer)
		}
	}
	for _, t := range d.targets {
		if err := t.writer.Close(); err != nil {
			s.opts.Reporter.Warn("%v", err)
			s.fail(err)
		}
		s.log.Debug("closed transcript", "path", t.path, "size", humanize.Bytes(uint64(t.file.Written())))
	}

	paths := make([]string, 0, len(d.targets))
	if !d.deferred {
		for _, t := range d.targets {
			paths = append(paths, t.path)
		}
		return paths
	}

	name := naming.Render(s.cfg.FilenameTemplate, s.names.WithExitCode(s.exit.Code), s.namingOptions())
	finals := s.targetPaths(name)
	for i, t := range d.targets {
		t.final = finals[i]
		if err := renameWithRetry(t.path, t.final); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrRename, t.final, err)
			s.opts.Reporter.Error("%v; transcript kept at %s (%s)", err, t.path, humanize.Bytes(uint64(t.file.Written())))
			s.fail(err)
			paths = append(paths, t.path)
			continue
		}
		s.log.Debug("renamed transcript", "from", t.path, "to", t.final)
		paths = append(paths, t.final)
	}
	return paths
}

func renameWithRetry(from, to string) error {
	var lastErr error
	for i := range renameAttempts {
		err := os.Rename(from, to)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return lastErr
}
