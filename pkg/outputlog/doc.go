// Package outputlog turns the raw output of a child process into the lines of
// an lg transcript.
//
// # Transcript Format
//
// A transcript file has three parts: a header, the captured lines and a
// trailer. Header and trailer are omitted in plain mode.
//
//	# lg log
//	run: 6f1c0e1a-3c39-4d0c-9a4e-1f6f7b2b9d11
//	cmd: make
//	args: -j4 test
//	date: 2025-01-07 12-34-56
//	cwd: /home/me/src/project
//	host: buildbox
//	----- BEGIN OUTPUT -----
//	[12:34:56.789][STDOUT] go test ./...
//	[12:34:57.012][STDERR] warning: something
//
//	[exit_code] 0
//
// # Lines
//
// Each captured line is written as
//
//	[timestamp][STREAM] content
//
// where:
//
//   - timestamp: the moment the line was framed, in a strftime layout
//     (default %H:%M:%S.%L). Present only when per-line timestamps are enabled.
//   - STREAM: STDOUT or STDERR. Present only when both streams share one file.
//     Split transcripts already know their stream.
//   - content: the line without its terminator. Invalid UTF-8 is replaced by
//     U+FFFD. Carriage returns are kept.
//
// Every formatted line ends with \n, also the last line of a stream that was
// not terminated.
//
// # Plain Mode
//
// In plain mode a line is written exactly as the child produced it, including
// the original terminator (or its absence). Concatenating the plain output of
// one stream reproduces that stream byte for byte, binary data included.
package outputlog
