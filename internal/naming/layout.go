package naming

import (
	"path/filepath"
	"strings"
)

// Layout maps a rendered name to transcript paths.
type Layout struct {
	Dir  string
	Gzip bool
}

// Combined returns the path of the single transcript file. A name without
// an extension gets ".log".
func (l Layout) Combined(name string) string {
	if filepath.Ext(name) == "" {
		name += ".log"
	}
	return filepath.Join(l.Dir, l.gz(name))
}

// Split returns the paths of the stdout and stderr transcripts.
func (l Layout) Split(name string) (stdout, stderr string) {
	stem := strings.TrimSuffix(name, ".log")
	return filepath.Join(l.Dir, l.gz(stem+".out.log")),
		filepath.Join(l.Dir, l.gz(stem+".err.log"))
}

func (l Layout) gz(name string) string {
	if l.Gzip && !strings.HasSuffix(name, ".gz") {
		return name + ".gz"
	}
	return name
}

// TempPath returns the hidden placeholder written until final can be named.
func TempPath(final string) string {
	return filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+".partial")
}
