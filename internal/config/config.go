// Package config loads the lg configuration.
//
// Sources, lowest precedence first: built-in defaults, the TOML file (~/.lg),
// an optional dotenv file, and LG_* environment variables. Command-line
// flags are applied by the caller on top of the result.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"lg/internal/sink"
)

// EnvPrefix starts the name of every environment override.
const EnvPrefix = "LG_"

//go:embed lg.example.toml
var exampleFile []byte

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config is the configuration snapshot of one run.
type Config struct {
	OutputDir         string `toml:"output_dir" envconfig:"LG_OUTPUT_DIR"`
	FilenameTemplate  string `toml:"filename_template" envconfig:"LG_FILENAME_TEMPLATE" validate:"required"`
	IncludeArgsInName bool   `toml:"include_args_in_name" envconfig:"LG_INCLUDE_ARGS_IN_NAME"`
	IncludeFullArgs   bool   `toml:"include_full_args" envconfig:"LG_INCLUDE_FULL_ARGS"`
	SanitizeFilename  bool   `toml:"sanitize_filename" envconfig:"LG_SANITIZE_FILENAME"`
	DateFormat        string `toml:"date_format" envconfig:"LG_DATE_FORMAT" validate:"required"`
	TimeFormat        string `toml:"time_format" envconfig:"LG_TIME_FORMAT" validate:"required"`
	LineTimeFormat    string `toml:"line_time_format" envconfig:"LG_LINE_TIME_FORMAT" validate:"required"`
	TimestampEachLine bool   `toml:"timestamp_each_line" envconfig:"LG_TIMESTAMP_EACH_LINE"`
	PlainLines        bool   `toml:"plain_lines" envconfig:"LG_PLAIN_LINES"`
	CombineStreams    bool   `toml:"combine_streams" envconfig:"LG_COMBINE_STREAMS"`
	SplitStreams      bool   `toml:"split_streams" envconfig:"LG_SPLIT_STREAMS"`
	Tee               bool   `toml:"tee" envconfig:"LG_TEE"`
	LogEnv            bool   `toml:"log_env" envconfig:"LG_LOG_ENV"`
	Compress          string `toml:"compress" envconfig:"LG_COMPRESS" validate:"oneof=none gz"`
	LogLevel          string `toml:"log_level" envconfig:"LG_LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		FilenameTemplate:  "{cmd}_{date}_{time}.log",
		IncludeFullArgs:   true,
		SanitizeFilename:  true,
		DateFormat:        "%Y-%m-%d",
		TimeFormat:        "%H-%M-%S",
		LineTimeFormat:    "%H:%M:%S.%L",
		TimestampEachLine: true,
		CombineStreams:    true,
		Tee:               true,
		Compress:          "none",
		LogLevel:          "warn",
	}
}

// Split reports whether each stream gets its own file.
func (c *Config) Split() bool {
	return c.SplitStreams || !c.CombineStreams
}

// Validate checks the snapshot before a run starts. Compression spellings
// accepted by sink.ParseCompression are normalized first, whatever their
// source.
func (c *Config) Validate() error {
	if compression, ok := sink.ParseCompression(c.Compress); ok {
		c.Compress = string(compression)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// DefaultPath returns ~/.lg, or an empty string without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lg")
}

// EnsureFile writes the commented example configuration to path unless a
// file already exists there.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil || !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.WriteFile(path, exampleFile, 0o644); err != nil {
		return fmt.Errorf("failed to create default config at %s: %w", path, err)
	}
	return nil
}

// LoadFile decodes the TOML file at path on top of c. Keys that match no
// option are returned so the caller can warn about them.
func (c *Config) LoadFile(path string) ([]string, error) {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}
	return unknown, nil
}

// LoadEnvFile exports the LG_* variables of a dotenv file that are not
// already set. Other keys are ignored so they do not leak into the child.
func LoadEnvFile(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	for key, value := range values {
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to export %s: %w", key, err)
		}
	}
	return nil
}

// ApplyEnv overrides c with the LG_* environment variables that are set.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process("", c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// Load builds the configuration from every source. path is created from the
// example file when missing; an empty path skips the file. Problems that do
// not prevent a run are returned as warnings.
func Load(path, envFile string) (*Config, []string, error) {
	cfg := Default()
	var warnings []string

	if path != "" {
		if err := EnsureFile(path); err != nil {
			warnings = append(warnings, err.Error())
		}
		if _, err := os.Stat(path); err == nil {
			unknown, err := cfg.LoadFile(path)
			if err != nil {
				return nil, warnings, err
			}
			for _, key := range unknown {
				warnings = append(warnings, fmt.Sprintf("unknown config key %q in %s", key, path))
			}
		}
	}

	if envFile != "" {
		if err := LoadEnvFile(envFile); err != nil {
			return nil, warnings, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}
