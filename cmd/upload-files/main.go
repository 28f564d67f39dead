// Package main is the entry point for the upload-files application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/rs/zerolog"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection

	"github.com/joe/upload-files/internal/cli"
	"github.com/joe/upload-files/internal/config"
	"github.com/joe/upload-files/internal/logging"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args, parser, err := config.ParseArgs(argv)

	switch {
	case errors.Is(err, arg.ErrHelp):
		parser.WriteHelp(os.Stdout)

		return exitOK
	case errors.Is(err, arg.ErrVersion):
		fmt.Fprintln(os.Stdout, config.Args{}.Version())

		return exitOK
	case err != nil:
		if parser != nil {
			parser.WriteUsage(os.Stderr)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		return exitUsage
	}

	settings, err := config.Resolve(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		return exitUsage
	}

	interactive := !settings.NoTUI && term.IsTerminal(int(os.Stdout.Fd()))

	logger, closeLog, err := newLogger(settings, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		return exitUsage
	}

	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	interrupts := make(chan struct{}, 1)
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)

	defer signal.Stop(sigint)

	go func() {
		for range sigint {
			select {
			case interrupts <- struct{}{}:
			default:
			}
		}
	}()

	err = cli.Run(ctx, settings, cli.Env{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Interactive: interactive,
		Interrupts:  interrupts,
	}, logger)

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cli.ErrInterrupted):
		return exitInterrupted
	default:
		logger.Debug().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		return exitError
	}
}

// newLogger logs to stderr, or only to a file while the terminal UI owns the screen.
func newLogger(settings *config.Settings, interactive bool) (zerolog.Logger, func() error, error) {
	opts := logging.Options{
		Level:   settings.LogLevel,
		Format:  settings.LogFormat,
		File:    settings.LogFile,
		NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
	}

	if !interactive {
		return logging.New(opts)
	}

	if opts.File == "" {
		opts.File = filepath.Join(settings.StateDir, "upload-files.log")
	}

	return logging.FileOnly(opts)
}
