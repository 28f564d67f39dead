// Package storage moves an upload's files into the archive and tracks the work as
// jobs: one upload job, a copy job beneath it and an add-metadata job once the
// copies are verified.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/joe/upload-files/internal/copypool"
	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/jobservice"
	"github.com/joe/upload-files/internal/payload"
	"github.com/joe/upload-files/pkg/fileops"
	"github.com/joe/upload-files/pkg/filesystem"
)

// Stages reported in Job.CurrentStage.
const (
	StageCopying    = "copying"
	StageMetadata   = "adding metadata"
	StageComplete   = "complete"
	InterruptReason = "Interrupted before the copy finished"
)

// Exported variables.
var (
	ErrNotUpload  = errors.New("job is not an upload")
	ErrInProgress = errors.New("upload already running")
	ErrNameClash  = errors.New("payload files share a destination")
)

// Observer receives job records as the service stores them and aggregate copy
// progress per upload. Calls come from the upload's goroutine.
type Observer interface {
	JobUpdated(job jobs.Job)
	UploadProgress(uploadID string, progress copypool.BatchProgress)
}

// Request is one batch to upload.
type Request struct {
	JobName string
	Payload payload.Payload
}

// Options configures an Uploader.
type Options struct {
	// DestRoot is the archive directory on the destination filesystem.
	DestRoot string
	// Platform overrides the destination path style (see fileops.TranslatePath).
	Platform string
	Workers  int
	Interval time.Duration
	Logger   zerolog.Logger
}

type run struct {
	uploadID  string
	copyJobID string
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
}

func (r *run) setCopyJob(id string) {
	r.mu.Lock()
	r.copyJobID = id
	r.mu.Unlock()
}

func (r *run) owns(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.uploadID == jobID || r.copyJobID == jobID
}

// Uploader drives uploads against a job service.
type Uploader struct {
	service jobservice.Client
	copier  *fileops.Copier
	source  filesystem.FileSystem
	opts    Options
	logger  zerolog.Logger

	runs *xsync.MapOf[string, *run]
	wg   sync.WaitGroup
}

// New creates an uploader that reads from sourceFS and writes under opts.DestRoot on destFS.
func New(service jobservice.Client, sourceFS, destFS filesystem.FileSystem, opts Options) *Uploader {
	copier := fileops.NewCopier(sourceFS, destFS, opts.Logger)
	if opts.Platform != "" {
		copier.Platform = opts.Platform
	}

	return &Uploader{
		service: service,
		copier:  copier,
		source:  sourceFS,
		opts:    opts,
		logger:  opts.Logger,
		runs:    xsync.NewMapOf[string, *run](),
	}
}

// Start creates the upload job and returns it once the service has acknowledged it.
// Copying and metadata happen afterwards on a separate goroutine.
func (u *Uploader) Start(ctx context.Context, req Request, obs Observer) (jobs.Job, error) {
	upload, err := u.service.CreateJob(ctx, jobs.Job{
		JobName: req.JobName,
		Status:  jobs.StatusWaiting,
		ServiceFields: jobs.ServiceFields{
			Type:    jobs.TypeUpload,
			Payload: req.Payload,
		},
	})
	if err != nil {
		return jobs.Job{}, fmt.Errorf("failed to create upload job %s: %w", req.JobName, err)
	}

	u.logger.Info().Str("job_id", upload.JobID).Str("job_name", upload.JobName).Msg("upload acknowledged")

	if err := u.launch(upload, obs); err != nil {
		return jobs.Job{}, err
	}

	return upload, nil
}

// Retry asks the service to retry a failed upload and runs the whole chain again
// from the stored payload.
func (u *Uploader) Retry(ctx context.Context, upload jobs.Job, obs Observer) (jobs.Job, error) {
	if !upload.IsUpload() {
		return jobs.Job{}, fmt.Errorf("retry %s: %w", upload.JobID, ErrNotUpload)
	}

	retried, err := u.service.RetryJob(ctx, upload.JobID)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("failed to retry job %s: %w", upload.JobID, err)
	}

	obs.JobUpdated(retried)

	if err := u.launch(retried, obs); err != nil {
		return jobs.Job{}, err
	}

	return retried, nil
}

// Resume restarts an upload whose process stopped before it finished. Unfinished
// child jobs are failed and the copy starts over.
func (u *Uploader) Resume(ctx context.Context, upload jobs.Job, obs Observer) error {
	if !upload.IsUpload() {
		return fmt.Errorf("resume %s: %w", upload.JobID, ErrNotUpload)
	}

	children, err := u.service.ListJobs(ctx, jobservice.Query{ParentID: upload.JobID})
	if err != nil {
		return fmt.Errorf("failed to list jobs under %s: %w", upload.JobID, err)
	}

	for _, child := range children {
		if child.Status.IsTerminal() || child.Status == jobs.StatusWaiting {
			continue
		}

		child.Status = jobs.StatusFailed
		child.ServiceFields.Error = InterruptReason

		stored, err := u.service.UpdateJob(ctx, child)
		if err != nil {
			return fmt.Errorf("failed to fail interrupted job %s: %w", child.JobID, err)
		}

		obs.JobUpdated(stored)
	}

	return u.launch(upload, obs)
}

// Cancel stops the copies of the upload that owns jobID and asks the service to
// mark the job and its unfinished descendants UNRECOVERABLE.
func (u *Uploader) Cancel(ctx context.Context, jobID string) (jobs.Job, error) {
	u.runs.Range(func(_ string, r *run) bool {
		if !r.owns(jobID) {
			return true
		}

		r.cancel()

		select {
		case <-r.done:
		case <-ctx.Done():
		}

		return false
	})

	cancelled, err := u.service.CancelJob(ctx, jobID, jobs.CancelReason)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}

	u.logger.Info().Str("job_id", jobID).Msg("upload cancelled")

	return cancelled, nil
}

// Running reports whether the upload has a live goroutine.
func (u *Uploader) Running(uploadID string) bool {
	_, ok := u.runs.Load(uploadID)

	return ok
}

// Wait blocks until every started upload has finished.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

// Shutdown cancels every running upload and waits for them.
func (u *Uploader) Shutdown() {
	u.runs.Range(func(_ string, r *run) bool {
		r.cancel()

		return true
	})

	u.wg.Wait()
}

func (u *Uploader) launch(upload jobs.Job, obs Observer) error {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{uploadID: upload.JobID, cancel: cancel, done: make(chan struct{})}

	if _, loaded := u.runs.LoadOrStore(upload.JobID, r); loaded {
		cancel()

		return fmt.Errorf("%s: %w", upload.JobID, ErrInProgress)
	}

	u.wg.Add(1)

	go func() {
		defer u.wg.Done()
		defer close(r.done)
		defer u.runs.Delete(upload.JobID)
		defer cancel()

		u.process(ctx, r, upload, obs)
	}()

	return nil
}

// process runs copy then metadata for one upload. Failures are recorded on the
// jobs; a cancelled context leaves the records to Cancel.
//
//nolint:funlen // Linear job chain reads best in one place
func (u *Uploader) process(ctx context.Context, r *run, upload jobs.Job, obs Observer) {
	log := u.logger.With().Str("job_id", upload.JobID).Logger()

	copyJob, err := u.create(ctx, obs, jobs.Job{
		ParentID:      upload.JobID,
		JobName:       upload.JobName,
		Status:        jobs.StatusWorking,
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeCopy},
	})
	if err != nil {
		u.fail(ctx, obs, log, err, upload)

		return
	}

	r.setCopyJob(copyJob.JobID)

	upload.Status = jobs.StatusWorking
	upload.CurrentStage = StageCopying
	upload.ServiceFields.CopyJobID = copyJob.JobID
	upload.ServiceFields.Error = ""

	upload, err = u.update(ctx, obs, upload)
	if err != nil {
		u.fail(ctx, obs, log, err, copyJob, upload)

		return
	}

	hashes, err := u.copyAll(ctx, upload, obs)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("copy stopped by cancellation")

			return
		}

		u.fail(ctx, obs, log, err, copyJob, upload)

		return
	}

	copyJob.Status = jobs.StatusSucceeded
	copyJob.ServiceFields.Output = hashes

	if _, err = u.update(ctx, obs, copyJob); err != nil {
		u.fail(ctx, obs, log, err, upload)

		return
	}

	if ctx.Err() != nil {
		return
	}

	upload.CurrentStage = StageMetadata

	upload, err = u.update(ctx, obs, upload)
	if err != nil {
		u.fail(ctx, obs, log, err, upload)

		return
	}

	metadataJob, err := u.create(ctx, obs, jobs.Job{
		ParentID:      upload.JobID,
		JobName:       upload.JobName,
		Status:        jobs.StatusWorking,
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeAddMetadata},
	})
	if err != nil {
		u.fail(ctx, obs, log, err, upload)

		return
	}

	metadataPath, err := u.writeMetadata(upload, hashes)
	if err != nil {
		u.fail(ctx, obs, log, err, metadataJob, upload)

		return
	}

	metadataJob.Status = jobs.StatusSucceeded
	metadataJob.ServiceFields.Output = map[string]string{"metadata": metadataPath}

	if _, err = u.update(ctx, obs, metadataJob); err != nil {
		u.fail(ctx, obs, log, err, upload)

		return
	}

	upload.Status = jobs.StatusSucceeded
	upload.CurrentStage = StageComplete

	if _, err = u.update(ctx, obs, upload); err != nil {
		log.Error().Err(err).Msg("failed to record finished upload")

		return
	}

	log.Info().Int("files", len(hashes)).Msg("upload finished")
}

// checkDestinations fails when two files would be copied to the same path.
func (u *Uploader) checkDestinations(files []string, destDir string) error {
	claimed := make(map[string]string, len(files))

	for _, file := range files {
		dst := u.copier.DestinationPath(file, destDir)

		if other, ok := claimed[dst]; ok {
			return fmt.Errorf("%w: %s and %s both copy to %s", ErrNameClash, other, file, dst)
		}

		claimed[dst] = file
	}

	return nil
}

// copyAll copies every payload file and returns source path -> md5.
// The first failure cancels the remaining copies.
func (u *Uploader) copyAll(ctx context.Context, upload jobs.Job, obs Observer) (map[string]string, error) {
	pool := copypool.New(u.copier, u.source, copypool.Options{
		Workers:  u.opts.Workers,
		Interval: u.opts.Interval,
		Logger:   u.logger,
	})
	defer pool.Close()

	destDir := path.Join(filepath.ToSlash(u.opts.DestRoot), upload.JobID)
	files := upload.ServiceFields.Payload.Files()

	if err := u.checkDestinations(files, destDir); err != nil {
		return nil, err
	}

	tracker := copypool.NewBatchTracker()

	for _, file := range files {
		handle, err := pool.Submit(ctx, file, destDir)
		if err != nil {
			pool.CancelAll()

			return nil, fmt.Errorf("failed to start copy of %s: %w", file, err)
		}

		tracker.Expect(file, handle.TotalBytes)
	}

	obs.UploadProgress(upload.JobID, tracker.Progress())

	hashes := make(map[string]string, len(files))

	var firstErr error

	for remaining := len(files); remaining > 0; {
		ev := <-pool.Events()

		progress := tracker.Apply(ev)

		switch e := ev.(type) {
		case copypool.Success:
			hashes[e.Source] = e.Hash
			remaining--
		case copypool.Failure:
			remaining--

			if firstErr == nil {
				firstErr = e.Err

				pool.CancelAll()
			}
		case copypool.Progress:
		}

		if firstErr == nil {
			obs.UploadProgress(upload.JobID, progress)
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}

	return hashes, nil
}

func (u *Uploader) create(ctx context.Context, obs Observer, job jobs.Job) (jobs.Job, error) {
	stored, err := u.service.CreateJob(ctx, job)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("failed to create %s job: %w", job.ServiceFields.Type, err)
	}

	obs.JobUpdated(stored)

	return stored, nil
}

// update stores job and returns the service's record, or job itself on error.
func (u *Uploader) update(ctx context.Context, obs Observer, job jobs.Job) (jobs.Job, error) {
	stored, err := u.service.UpdateJob(ctx, job)
	if err != nil {
		return job, fmt.Errorf("failed to update job %s: %w", job.JobID, err)
	}

	obs.JobUpdated(stored)

	return stored, nil
}

// fail marks each job FAILED with cause, in order. Errors recording the failure are logged.
func (u *Uploader) fail(ctx context.Context, obs Observer, log zerolog.Logger, cause error, failed ...jobs.Job) {
	if ctx.Err() != nil {
		log.Info().Err(cause).Msg("upload stopped by cancellation")

		return
	}

	log.Error().Err(cause).Msg("upload failed")

	for _, job := range failed {
		if job.Status.IsTerminal() {
			continue
		}

		job.Status = jobs.StatusFailed
		job.ServiceFields.Error = cause.Error()

		if _, err := u.update(ctx, obs, job); err != nil {
			log.Warn().Err(err).Str("failed_job", job.JobID).Msg("failed to record job failure")
		}
	}
}
