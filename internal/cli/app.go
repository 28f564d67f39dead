// Package cli wires configuration, the job service, storage and the orchestrator
// together and implements the upload-files commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/joe/upload-files/internal/config"
	"github.com/joe/upload-files/internal/jobservice"
	"github.com/joe/upload-files/internal/jobstore"
	"github.com/joe/upload-files/internal/orchestrator"
	"github.com/joe/upload-files/internal/payload"
	"github.com/joe/upload-files/internal/recovery"
	"github.com/joe/upload-files/internal/storage"
	"github.com/joe/upload-files/internal/tui/shared"
	"github.com/joe/upload-files/pkg/filesystem"
)

// Env is the process environment a command runs in.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	// Interactive selects the terminal UI over logged progress.
	Interactive bool
	// Interrupts delivers one value per user interrupt (SIGINT).
	Interrupts <-chan struct{}
}

// app holds every component a command may need.
type app struct {
	settings *config.Settings
	env      Env
	logger   zerolog.Logger

	service  jobservice.Client
	source   filesystem.FileSystem
	uploader *storage.Uploader
	recovery *recovery.List
	orch     *orchestrator.Orchestrator
	bridge   *shared.EventBridge

	closers []func() error
}

// openApp builds the component graph. The destination is only connected when
// settings name one.
func openApp(settings *config.Settings, env Env, logger zerolog.Logger) (*app, error) {
	a := &app{settings: settings, env: env, logger: logger}

	if a.env.Stdout == nil {
		a.env.Stdout = os.Stdout
	}

	if a.env.Stderr == nil {
		a.env.Stderr = os.Stderr
	}

	if err := os.MkdirAll(settings.StateDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", settings.StateDir, err)
	}

	service, err := a.openService()
	if err != nil {
		return nil, err
	}

	a.service = service
	a.source = filesystem.NewRealFileSystem()

	destFS, destRoot, err := a.openDestination()
	if err != nil {
		_ = a.Close()

		return nil, err
	}

	a.uploader = storage.New(a.service, a.source, destFS, storage.Options{
		DestRoot: destRoot,
		Platform: settings.Platform,
		Workers:  settings.Workers,
		Interval: settings.ProgressInterval,
		Logger:   logger.With().Str("component", "storage").Logger(),
	})

	a.recovery = recovery.Open(settings.RecoveryPath())

	var emitter orchestrator.EventEmitter = &logEmitter{logger: logger}
	if env.Interactive {
		a.bridge = shared.NewEventBridge()
		emitter = a.bridge
	}

	a.orch = orchestrator.New(a.uploader, a.service, a.recovery, orchestrator.Options{
		Validator: &payload.SchemaValidator{
			FS:       a.source,
			Required: settings.RequiredAnnotations,
			Types:    settings.AnnotationTypes,
		},
		Emitter: emitter,
		Logger:  logger.With().Str("component", "orchestrator").Logger(),
	})

	return a, nil
}

func (a *app) openService() (jobservice.Client, error) {
	if a.settings.JobServiceURL != "" {
		a.logger.Debug().Str("url", a.settings.JobServiceURL).Msg("using remote job service")

		return jobservice.WithRetry(jobservice.NewHTTPClient(a.settings.JobServiceURL), 0, 0, a.logger), nil
	}

	store, err := jobstore.Open(a.settings.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}

	a.closers = append(a.closers, store.Close)
	a.logger.Debug().Str("path", store.Path()).Msg("using local job database")

	return store, nil
}

func (a *app) openDestination() (filesystem.FileSystem, string, error) {
	if a.settings.DestRoot == "" {
		// Commands without a destination never copy.
		return filesystem.NewRealFileSystem(), "", nil
	}

	destFS, root, closer, err := filesystem.Open(a.settings.DestRoot)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open destination %s: %w", a.settings.DestRoot, err)
	}

	if closer != nil {
		a.closers = append(a.closers, func() error {
			closer()

			return nil
		})
	}

	return destFS, root, nil
}

// Close stops running uploads and releases connections in reverse order of opening.
func (a *app) Close() error {
	if a.uploader != nil {
		a.uploader.Shutdown()
	}

	if a.bridge != nil {
		a.bridge.Close()
	}

	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Run executes the command named in settings.
func Run(ctx context.Context, settings *config.Settings, env Env, logger zerolog.Logger) error {
	a, err := openApp(settings, env, logger)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close resources")
		}
	}()

	switch settings.Command {
	case config.CommandUpload:
		return a.upload(ctx)
	case config.CommandStatus:
		return a.status(ctx)
	case config.CommandRetry:
		return a.retry(ctx)
	case config.CommandCancel:
		return a.cancel(ctx)
	case config.CommandResume:
		return a.resume(ctx)
	default:
		return config.ErrNoCommand
	}
}
