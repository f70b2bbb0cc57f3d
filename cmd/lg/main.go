package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"lg/internal/buildinfo"
	"lg/internal/config"
	"lg/internal/logging"
	"lg/internal/report"
	"lg/internal/session"
	"lg/internal/sink"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

type options struct {
	output           string
	filenameTemplate string
	includeArgs      bool
	splitStreams     bool
	plainLines       bool
	compress         string
	noTee            bool
	configPath       string
	envFile          string
}

// exitError carries the exit code of lg itself.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func newRootCmd(opts *options, rep *report.Reporter) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lg [flags] <command> [args...]",
		Short: "Run a command and keep a transcript of its output",
		Long: `lg runs a command, mirrors its output to the terminal and writes a
timestamped transcript of stdout and stderr to a log file. lg exits with the
exit code of the command.

Defaults are read from ~/.lg (TOML) and LG_* environment variables.`,
		Version:       buildinfo.String(),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.Flags(), args, rep)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.Flags()
	// Everything after the command belongs to the command
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.output, "output", "o", "", "Directory for transcripts (default: current directory)")
	flags.StringVar(&opts.filenameTemplate, "filename-template", "", "File name template, e.g. '{cmd}_{exit_code}.log'")
	flags.BoolVarP(&opts.includeArgs, "include-args", "a", false, "Substitute the arguments into {args}")
	flags.BoolVar(&opts.splitStreams, "split-streams", false, "Write stdout and stderr to separate files")
	flags.BoolVar(&opts.plainLines, "plain-lines", false, "Write the output unchanged, without header, prefixes or trailer")
	flags.StringVar(&opts.compress, "compress", "", "Compression of transcripts: none or gz")
	flags.BoolVar(&opts.noTee, "no-tee", false, "Do not mirror the output to the terminal")
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "Config file, created with defaults when missing")
	flags.StringVar(&opts.envFile, "env-file", "", "Read LG_* settings from a dotenv file")

	return cmd
}

func run(ctx context.Context, opts *options, flags *pflag.FlagSet, args []string, rep *report.Reporter) error {
	cfg, warnings, err := config.Load(opts.configPath, opts.envFile)
	for _, w := range warnings {
		rep.Warn("%s", w)
	}
	if err != nil {
		return &exitError{code: session.ExitLaunchFailure, err: err}
	}

	applyFlags(cfg, opts, flags, rep)
	if err := cfg.Validate(); err != nil {
		return &exitError{code: session.ExitLaunchFailure, err: err}
	}

	log := logging.New(os.Stderr, cfg.LogLevel)
	log.Debug("configuration loaded", "path", opts.configPath, "template", cfg.FilenameTemplate, "split", cfg.Split())

	s := session.New(args[0], args[1:], session.Options{
		Config:      cfg,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
		Reporter:    rep,
		Log:         log,
	})
	res := s.Run(ctx)
	for _, path := range res.Paths {
		log.Info("transcript written", "path", path)
	}
	if res.ExitCode != 0 {
		// The child's own code; its problems were already reported
		return &exitError{code: res.ExitCode}
	}
	return nil
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *config.Config, opts *options, flags *pflag.FlagSet, rep *report.Reporter) {
	if flags.Changed("output") {
		cfg.OutputDir = opts.output
	}
	if flags.Changed("filename-template") {
		cfg.FilenameTemplate = opts.filenameTemplate
	}
	if opts.includeArgs {
		cfg.IncludeArgsInName = true
	}
	if opts.splitStreams {
		cfg.SplitStreams = true
		cfg.CombineStreams = false
	}
	if opts.plainLines {
		cfg.PlainLines = true
	}
	if flags.Changed("compress") {
		c, ok := sink.ParseCompression(opts.compress)
		if !ok {
			rep.Warn("unknown --compress value %q, using %q", opts.compress, sink.None)
		}
		cfg.Compress = string(c)
	}
	if opts.noTee {
		cfg.Tee = false
	}
}

// execute runs lg with args and returns its exit code.
func execute(args []string) int {
	rep := report.Stderr()
	cmd := newRootCmd(&options{}, rep)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			rep.Error("%v", exitErr.err)
		}
		return exitErr.code
	}
	rep.Error("%v", err)
	rep.Hint("usage: lg [flags] <command> [args...]")
	return session.ExitLaunchFailure
}

func main() {
	os.Exit(execute(os.Args[1:]))
}
