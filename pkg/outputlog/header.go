package outputlog

import (
	"fmt"
)

// BeginMarker separates the header from the captured lines.
const BeginMarker = "----- BEGIN OUTPUT -----"

// Header is the metadata block written before the captured lines.
type Header struct {
	RunID   string
	Command string
	Args    string   // omitted when empty
	Date    string   // date and time of the start, already formatted
	Cwd     string
	Host    string
	Env     []string // KEY=VALUE pairs, omitted when empty
}

// FormatHeader formats the header block, ending with BeginMarker.
func FormatHeader(h Header) []byte {
	b := []byte("# lg log\n")
	if h.RunID != "" {
		b = fmt.Appendf(b, "run: %s\n", h.RunID)
	}
	b = fmt.Appendf(b, "cmd: %s\n", h.Command)
	if h.Args != "" {
		b = fmt.Appendf(b, "args: %s\n", h.Args)
	}
	b = fmt.Appendf(b, "date: %s\n", h.Date)
	b = fmt.Appendf(b, "cwd: %s\n", h.Cwd)
	b = fmt.Appendf(b, "host: %s\n", h.Host)
	for _, kv := range h.Env {
		key, value, _ := cutEnv(kv)
		b = fmt.Appendf(b, "env[%s]=%s\n", key, value)
	}
	b = append(b, BeginMarker...)
	return append(b, '\n')
}

// FormatTrailer formats the exit status block. signal is the name of the
// signal that killed the child, or empty.
func FormatTrailer(exitCode int, signal string) []byte {
	b := fmt.Appendf(nil, "\n[exit_code] %d\n", exitCode)
	if signal != "" {
		b = fmt.Appendf(b, "[signal] %s\n", signal)
	}
	return b
}

func cutEnv(kv string) (string, string, bool) {
	// Windows keeps per-drive variables like "=C:=C:\" in the environment
	for i := 1; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}
