// Package naming renders transcript file names from a template.
//
// Placeholders: {cmd} {args} {date} {time} {ts} {exit_code} {hostname} {cwd}.
// {exit_code} renders as NA until the child has exited; a template using it
// is written under a temporary name and renamed afterwards.
package naming

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/samber/lo"
)

// ExitCodePlaceholder marks a template whose final name is known only after exit.
const ExitCodePlaceholder = "{exit_code}"

// Context holds the values substituted into a template. It is captured once
// when the session starts; only ExitCode is filled in later.
type Context struct {
	Cmd      string // base name of the command
	Args     string
	Date     string
	Time     string
	TS       string // unix seconds
	ExitCode *int
	Hostname string
	Cwd      string
}

// Options controls how a template is rendered.
type Options struct {
	DateFormat      string
	TimeFormat      string
	IncludeArgs     bool // substitute {args}; otherwise it renders empty
	IncludeFullArgs bool // keep arguments starting with '-'
	Sanitize        bool
}

// NewContext captures the naming context for command started at now. The
// hostname and working directory are read here and never again.
func NewContext(command string, args []string, now time.Time, opts Options) Context {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Context{
		Cmd:      filepath.Base(command),
		Args:     JoinArgs(args, opts.IncludeFullArgs),
		Date:     strftime.Format(opts.DateFormat, now),
		Time:     strftime.Format(opts.TimeFormat, now),
		TS:       strconv.FormatInt(now.Unix(), 10),
		Hostname: host,
		Cwd:      cwd,
	}
}

// WithExitCode returns a copy of c with the exit code set.
func (c Context) WithExitCode(code int) Context {
	c.ExitCode = &code
	return c
}

// JoinArgs joins args with spaces. Unless full is set, flags are dropped.
func JoinArgs(args []string, full bool) string {
	kept := lo.Filter(args, func(arg string, _ int) bool {
		return full || !strings.HasPrefix(arg, "-")
	})
	return strings.Join(kept, " ")
}

// Deferred reports whether the rendered name depends on the exit code.
func Deferred(template string) bool {
	return strings.Contains(template, ExitCodePlaceholder)
}

// Render substitutes ctx into template and normalizes the result. The
// result is never empty.
func Render(template string, ctx Context, opts Options) string {
	component := func(s string) string {
		s = stripSeparators(s)
		if opts.Sanitize {
			s = Sanitize(s)
		}
		return s
	}

	args := ""
	if opts.IncludeArgs {
		args = ctx.Args
	}
	exitCode := "NA"
	if ctx.ExitCode != nil {
		exitCode = strconv.Itoa(*ctx.ExitCode)
	}

	s := strings.NewReplacer(
		"{cmd}", component(ctx.Cmd),
		"{args}", component(args),
		"{date}", stripSeparators(ctx.Date),
		"{time}", stripSeparators(ctx.Time),
		"{ts}", ctx.TS,
		ExitCodePlaceholder, exitCode,
		"{hostname}", component(ctx.Hostname),
		"{cwd}", component(ctx.Cwd),
	).Replace(template)

	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = collapseUnderscores(s)
	s = strings.Trim(s, "_.")
	if s == "" {
		return "lg"
	}
	return s
}

// Sanitize keeps [A-Za-z0-9._-] and replaces every other character with '_'.
// Runs of '_' are collapsed and leading or trailing '_' trimmed.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isSafe(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return strings.Trim(collapseUnderscores(b.String()), "_")
}

func isSafe(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '.' || r == '_' || r == '-'
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == 0 {
			return '_'
		}
		return r
	}, s)
}

func collapseUnderscores(s string) string {
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
