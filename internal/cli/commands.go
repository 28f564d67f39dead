package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/joe/upload-files/internal/config"
	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/payload"
	"github.com/joe/upload-files/internal/tui"
)

func (a *app) upload(ctx context.Context) error {
	cmd := a.settings.Upload

	pattern := cmd.Include
	if pattern == "" {
		pattern = a.settings.IncludePattern
	}

	annotations, err := config.ParseAnnotations(cmd.Annotations)
	if err != nil {
		return err //nolint:wrapcheck // message names the bad flag
	}

	p, err := payload.FromPaths(cmd.Paths, payload.Options{
		Pattern:     pattern,
		Archive:     !cmd.NoArchive,
		Local:       cmd.Local,
		Workflows:   cmd.Workflows,
		Annotations: annotations,
	})
	if err != nil {
		return fmt.Errorf("failed to collect files: %w", err)
	}

	name := cmd.Name
	if name == "" {
		name = defaultJobName(cmd.Paths)
	}

	a.logger.Info().Str("job_name", name).Int("files", len(p.Files())).Msg("submitting upload")

	if err := a.orch.Submit(ctx, p, name); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	outcome, err := a.wait(ctx, a.orch)
	if err != nil {
		return err
	}

	return a.report(outcome, a.orch.Snapshot())
}

func (a *app) retry(ctx context.Context) error {
	if err := a.sync(ctx); err != nil {
		return err
	}

	jobID := a.settings.Retry.JobID

	if err := a.orch.Retry(ctx, jobID); err != nil {
		return fmt.Errorf("retry %s: %w", jobID, err)
	}

	tracker := newScopedTracker(a.orch, a.rootID(jobID))

	outcome, err := a.wait(ctx, tracker)
	if err != nil {
		return err
	}

	return a.report(outcome, tracker.Snapshot())
}

func (a *app) cancel(ctx context.Context) error {
	if err := a.sync(ctx); err != nil {
		return err
	}

	jobID := a.settings.Cancel.JobID

	if err := a.orch.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("cancel %s: %w", jobID, err)
	}

	_, _ = fmt.Fprintf(a.env.Stdout, "Cancelled upload %s\n", a.rootID(jobID))

	return nil
}

func (a *app) resume(ctx context.Context) error {
	if err := a.sync(ctx); err != nil {
		return err
	}

	candidates, err := a.orch.Resumable()
	if err != nil {
		return fmt.Errorf("find interrupted uploads: %w", err)
	}

	if len(candidates) == 0 {
		_, _ = fmt.Fprintln(a.env.Stdout, "Nothing to resume.")

		return nil
	}

	var (
		resumed []string
		errs    []error
	)

	for _, upload := range candidates {
		if err := a.orch.Resume(ctx, upload.JobID); err != nil {
			errs = append(errs, err)

			continue
		}

		a.logger.Info().Str("job_id", upload.JobID).Str("job_name", upload.JobName).Msg("resuming upload")
		resumed = append(resumed, upload.JobID)
	}

	if len(resumed) > 0 {
		tracker := newScopedTracker(a.orch, resumed...)

		outcome, err := a.wait(ctx, tracker)
		if err != nil {
			return err
		}

		errs = append(errs, a.report(outcome, tracker.Snapshot()))
	}

	return errors.Join(errs...)
}

// sync loads the service's jobs. Events it produces describe history, not this
// run, so they are discarded before the terminal UI starts.
func (a *app) sync(ctx context.Context) error {
	if err := a.orch.Sync(ctx); err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	if a.bridge != nil {
		events := a.bridge.Subscribe()

		for {
			select {
			case <-events:
			default:
				return nil
			}
		}
	}

	return nil
}

func (a *app) rootID(jobID string) string {
	return rootOf(parentIndex(a.orch.Snapshot()), jobID)
}

// report prints how the tracked uploads ended.
func (a *app) report(outcome tui.Outcome, tracked []jobs.Job) error {
	uploads := uploadsIn(tracked)

	if outcome == tui.OutcomeInterrupted || outcome == tui.OutcomeForced {
		_, _ = fmt.Fprintln(a.env.Stdout, "Stopped before all uploads finished. Run \"upload-files resume\" to continue.")

		return ErrInterrupted
	}

	_, _ = fmt.Fprintln(a.env.Stdout, a.jobTable(uploads, false))

	var failed int

	for _, upload := range uploads {
		if upload.Status != jobs.StatusSucceeded {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads did not succeed", failed, len(uploads))
	}

	return nil
}

func uploadsIn(in []jobs.Job) []jobs.Job {
	var out []jobs.Job

	for _, job := range in {
		if job.IsUpload() {
			out = append(out, job)
		}
	}

	return out
}

func defaultJobName(paths []string) string {
	name := filepath.Base(filepath.Clean(paths[0]))
	if len(paths) > 1 {
		name = fmt.Sprintf("%s and %d more", name, len(paths)-1)
	}

	return name
}
