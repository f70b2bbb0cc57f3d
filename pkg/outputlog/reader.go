package outputlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Entry is one captured line read back from a transcript.
type Entry struct {
	Stream Stream // empty when the transcript is not tagged
	Stamp  string // formatted timestamp, empty when absent
	Text   string
}

// Transcript is a parsed transcript file.
type Transcript struct {
	Header     Header
	Entries    []Entry
	HasTrailer bool
	ExitCode   int
	Signal     string
}

// ErrNoHeader is returned when the input does not start with a header block.
var ErrNoHeader = errors.New("transcript has no header")

// ReadTranscript parses a transcript written with the given Formatter. The
// Formatter must not be plain: plain transcripts carry only the child's bytes.
func ReadTranscript(r io.Reader, f Formatter) (*Transcript, error) {
	if f.Plain {
		return nil, fmt.Errorf("plain transcripts cannot be parsed")
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	t := &Transcript{}
	if err := readHeader(scanner, &t.Header); err != nil {
		return nil, err
	}

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	lines = t.cutTrailer(lines)
	for _, line := range lines {
		entry, err := parseEntry(line, f)
		if err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, entry)
	}
	return t, nil
}

// Text joins the text of all entries of stream, each followed by \n. An
// empty stream selects every entry.
func (t *Transcript) Text(stream Stream) string {
	var b strings.Builder
	for _, e := range t.Entries {
		if stream != "" && e.Stream != stream {
			continue
		}
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func readHeader(scanner *bufio.Scanner, h *Header) error {
	if !scanner.Scan() || scanner.Text() != "# lg log" {
		return ErrNoHeader
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == BeginMarker {
			return nil
		}
		if rest, ok := strings.CutPrefix(line, "env["); ok {
			h.Env = append(h.Env, strings.Replace(rest, "]=", "=", 1))
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			// continuation of a multi-line env value
			continue
		}
		switch key {
		case "run":
			h.RunID = value
		case "cmd":
			h.Command = value
		case "args":
			h.Args = value
		case "date":
			h.Date = value
		case "cwd":
			h.Cwd = value
		case "host":
			h.Host = value
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	return fmt.Errorf("header is missing %q", BeginMarker)
}

// cutTrailer strips the exit status block from the end of lines.
func (t *Transcript) cutTrailer(lines []string) []string {
	end := len(lines)
	if end > 0 {
		if name, ok := strings.CutPrefix(lines[end-1], "[signal] "); ok {
			t.Signal = name
			end--
		}
	}
	if end < 2 || lines[end-2] != "" {
		t.Signal = ""
		return lines
	}
	code, ok := strings.CutPrefix(lines[end-1], "[exit_code] ")
	if !ok {
		t.Signal = ""
		return lines
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		t.Signal = ""
		return lines
	}
	t.HasTrailer = true
	t.ExitCode = n
	return lines[:end-2]
}

func parseEntry(line string, f Formatter) (Entry, error) {
	var e Entry
	rest := line
	if f.Timestamps {
		stamp, after, ok := cutBracket(rest)
		if !ok {
			return e, fmt.Errorf("line %q has no timestamp", line)
		}
		e.Stamp, rest = stamp, after
	}
	if f.Tagged {
		tag, after, ok := cutBracket(rest)
		if !ok || (Stream(tag) != Stdout && Stream(tag) != Stderr) {
			return e, fmt.Errorf("line %q has no stream tag", line)
		}
		e.Stream, rest = Stream(tag), after
	}
	if f.Timestamps || f.Tagged {
		after, ok := strings.CutPrefix(rest, " ")
		if !ok {
			return e, fmt.Errorf("line %q has no separator", line)
		}
		rest = after
	}
	e.Text = rest
	return e, nil
}

func cutBracket(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	inner, after, ok := strings.Cut(s[1:], "]")
	return inner, after, ok
}
