// Package report prints user-facing problems on stderr.
package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Reporter prints tagged lines like "lg: [WARN] ...". It is safe for
// concurrent use; write failures are ignored.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	colors bool
}

// New returns a Reporter writing to out.
func New(out io.Writer, colors bool) *Reporter {
	return &Reporter{out: out, colors: colors}
}

// Stderr returns a Reporter on os.Stderr, colored when it is a terminal.
func Stderr() *Reporter {
	return New(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

func (r *Reporter) Warn(format string, args ...any) {
	r.printTagged(color.New(color.FgYellow), "[WARN]", format, args...)
}

func (r *Reporter) Error(format string, args ...any) {
	r.printTagged(color.New(color.FgRed, color.OpBold), "[ERROR]", format, args...)
}

func (r *Reporter) Hint(format string, args ...any) {
	r.printTagged(color.New(color.FgCyan), "Hint:", format, args...)
}

func (r *Reporter) printTagged(style color.Style, tag, format string, args ...any) {
	if r.colors {
		tag = style.Render(tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, "lg: %s %s\n", tag, fmt.Sprintf(format, args...))
}
