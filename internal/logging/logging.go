// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Exported constants.
const (
	FormatConsole     = "console"
	FormatJSON        = "json"
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	// File, when set, receives JSON logs too, rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Out is the primary destination. Nil means stderr.
	Out io.Writer
	// NoColor disables ANSI colours in console format.
	NoColor bool
}

// New returns a logger and a close function for the rotated file.
func New(opts Options) (zerolog.Logger, func() error, error) {
	level := zerolog.InfoLevel

	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}

		level = parsed
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	switch opts.Format {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: opts.NoColor}
	case FormatJSON:
	default:
		return zerolog.Nop(), nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
		}

		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
		}

		out = zerolog.MultiLevelWriter(out, rotated)
		closeFn = rotated.Close
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()

	return logger, closeFn, nil
}

// FileOnly returns a logger that writes to a rotated file only, for runs where the
// terminal belongs to the TUI. An empty path disables logging.
func FileOnly(opts Options) (zerolog.Logger, func() error, error) {
	if opts.File == "" {
		return zerolog.Nop(), func() error { return nil }, nil
	}

	opts.Out = io.Discard
	opts.Format = FormatJSON

	return New(opts)
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}

	return value
}
