// Package orchestrator accepts upload batches, tracks every job they produce in one
// graph and answers whether work is finished or safe to interrupt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joe/upload-files/internal/copypool"
	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/jobservice"
	"github.com/joe/upload-files/internal/payload"
	"github.com/joe/upload-files/internal/storage"
	pkgerrors "github.com/joe/upload-files/pkg/errors"
)

// Storage runs uploads and reports on them through an observer.
type Storage interface {
	Start(ctx context.Context, req storage.Request, obs storage.Observer) (jobs.Job, error)
	Retry(ctx context.Context, upload jobs.Job, obs storage.Observer) (jobs.Job, error)
	Resume(ctx context.Context, upload jobs.Job, obs storage.Observer) error
	Cancel(ctx context.Context, jobID string) (jobs.Job, error)
}

// RecoveryList remembers job names of uploads that may need resuming.
type RecoveryList interface {
	Add(name string) error
	Remove(name string) error
	Names() ([]string, error)
}

// Options configures an Orchestrator. Zero values fall back to no-ops.
type Options struct {
	Validator payload.Validator
	Emitter   EventEmitter
	Enricher  pkgerrors.Enricher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Orchestrator owns the job graph. Graph changes are serialized by mu, which is
// never held across a call to storage, the job service or the recovery list.
type Orchestrator struct {
	storage  Storage
	service  jobservice.Client
	recovery RecoveryList

	validator payload.Validator
	emitter   EventEmitter
	enricher  pkgerrors.Enricher
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	graph *jobs.Graph
}

// New creates an orchestrator with an empty graph.
func New(store Storage, service jobservice.Client, recovery RecoveryList, opts Options) *Orchestrator {
	o := &Orchestrator{
		storage:   store,
		service:   service,
		recovery:  recovery,
		validator: opts.Validator,
		emitter:   opts.Emitter,
		enricher:  opts.Enricher,
		logger:    opts.Logger,
		now:       opts.Now,
		graph:     jobs.NewGraph(),
	}

	if o.emitter == nil {
		o.emitter = noopEmitter{}
	}

	if o.enricher == nil {
		o.enricher = pkgerrors.NewEnricher()
	}

	if o.now == nil {
		o.now = time.Now
	}

	return o
}

// Submit validates p and hands it to storage as a new upload named jobName.
// Until storage acknowledges it the upload is tracked as a pending WAITING job.
func (o *Orchestrator) Submit(ctx context.Context, p payload.Payload, jobName string) error {
	if o.validator != nil {
		if err := o.validator.Validate(p); err != nil {
			o.alert("", jobName, err)

			return err //nolint:wrapcheck // callers match *payload.ValidationError
		}
	}

	pending := jobs.NewPendingJob(jobName, p, o.now())

	o.mu.Lock()
	err := o.graph.Put(pending)
	o.mu.Unlock()

	if err != nil {
		return fmt.Errorf("track pending upload %s: %w", jobName, err)
	}

	o.emitter.Emit(JobUpdated{Job: pending.Clone()})

	if err := o.recovery.Add(jobName); err != nil {
		return o.rollback(pending, false, err)
	}

	acknowledged, err := o.storage.Start(ctx, storage.Request{JobName: jobName, Payload: p}, observer{o})
	if err != nil {
		return o.rollback(pending, true, err)
	}

	o.mu.Lock()

	// Updates from the upload's goroutine may have beaten the acknowledgement here.
	if _, known := o.graph.Get(acknowledged.JobID); known {
		o.graph.Remove(pending.JobID)
	} else {
		err = o.graph.Promote(pending.JobID, acknowledged)
	}

	current, _ := o.graph.Get(acknowledged.JobID)
	o.mu.Unlock()

	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", acknowledged.JobID).Msg("failed to promote pending upload")
	}

	o.logger.Info().Str("job_id", acknowledged.JobID).Str("job_name", jobName).Msg("upload submitted")
	o.emitter.Emit(JobPromoted{PendingID: pending.JobID, Job: current.Clone()})

	return nil
}

func (o *Orchestrator) rollback(pending jobs.Job, recorded bool, cause error) error {
	o.mu.Lock()
	o.graph.Remove(pending.JobID)
	o.mu.Unlock()

	if recorded {
		if err := o.recovery.Remove(pending.JobName); err != nil {
			o.logger.Warn().Err(err).Str("job_name", pending.JobName).Msg("failed to clear recovery entry")
		}
	}

	o.emitter.Emit(JobRemoved{JobID: pending.JobID})

	err := &SubmissionError{JobName: pending.JobName, Err: cause}
	o.alert(pending.JobID, pending.JobName, err)

	return err
}

// Retry asks for a failed job to be retried. The whole upload containing it runs again,
// so its top-level upload must be FAILED as well.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) error {
	job, root, err := o.lookup(jobID)
	if err == nil {
		err = jobs.CheckRetry(job)
	}

	if err == nil && root.JobID != job.JobID {
		err = jobs.CheckRetry(root)
	}

	if err != nil {
		o.alert(jobID, job.JobName, err)

		return err
	}

	if err := o.recovery.Add(root.JobName); err != nil {
		o.logger.Warn().Err(err).Str("job_name", root.JobName).Msg("failed to record retried upload")
	}

	if _, err := o.storage.Retry(ctx, root, observer{o}); err != nil {
		err = fmt.Errorf("retry upload %s: %w", root.JobID, err)
		o.alert(root.JobID, root.JobName, err)

		return err
	}

	return nil
}

// Cancel stops the upload containing jobID and marks it and its unfinished jobs
// UNRECOVERABLE.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, root, err := o.lookup(jobID)
	if err == nil {
		err = jobs.CheckCancel(job)
	}

	if err == nil {
		err = jobs.CheckCancel(root)
	}

	if err != nil {
		o.alert(jobID, job.JobName, err)

		return err
	}

	cancelled, err := o.storage.Cancel(ctx, root.JobID)
	if err != nil {
		err = fmt.Errorf("cancel upload %s: %w", root.JobID, err)
		o.alert(root.JobID, root.JobName, err)

		return err
	}

	o.mu.Lock()
	descendants := o.graph.Descendants(root.JobID)
	o.mu.Unlock()

	for _, child := range descendants {
		if !child.Status.IsTerminal() {
			o.apply(jobs.Cancelled(child))
		}
	}

	o.apply(cancelled)

	return nil
}

// Resume restarts an unfinished upload left behind by an earlier run.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	job, _, err := o.lookup(jobID)
	if err == nil && (!job.IsUpload() || job.Status.IsTerminal() || job.Pending) {
		err = fmt.Errorf("job %s (%s) cannot be resumed", jobID, job.Status)
	}

	if err != nil {
		o.alert(jobID, job.JobName, err)

		return err
	}

	if err := o.storage.Resume(ctx, job, observer{o}); err != nil {
		err = fmt.Errorf("resume upload %s: %w", jobID, err)
		o.alert(jobID, job.JobName, err)

		return err
	}

	return nil
}

// Sync loads every job the service knows about into the graph.
func (o *Orchestrator) Sync(ctx context.Context) error {
	found, err := o.service.ListJobs(ctx, jobservice.Query{})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	// Parents before children, oldest first.
	slices.SortStableFunc(found, func(a, b jobs.Job) int {
		if a.IsRoot() != b.IsRoot() {
			if a.IsRoot() {
				return -1
			}

			return 1
		}

		return a.Created.Compare(b.Created)
	})

	var stale int

	o.mu.Lock()
	for _, job := range found {
		if err := o.put(job); err != nil {
			stale++
		}
	}
	o.mu.Unlock()

	if stale > 0 {
		o.logger.Debug().Int("stale", stale).Msg("ignored older job records during sync")
	}

	for _, job := range found {
		o.emitter.Emit(JobUpdated{Job: job.Clone()})
	}

	return nil
}

// Resumable returns unfinished uploads named in the recovery list. Names whose
// uploads have all finished are dropped from the list.
func (o *Orchestrator) Resumable() ([]jobs.Job, error) {
	names, err := o.recovery.Names()
	if err != nil {
		return nil, fmt.Errorf("read recovery list: %w", err)
	}

	o.mu.Lock()
	uploads := o.graph.Uploads()
	o.mu.Unlock()

	var out []jobs.Job

	for _, name := range names {
		before := len(out)

		for _, upload := range uploads {
			if upload.JobName == name && !upload.Status.IsTerminal() && !upload.Pending {
				out = append(out, upload)
			}
		}

		if len(out) == before {
			if err := o.recovery.Remove(name); err != nil {
				o.logger.Warn().Err(err).Str("job_name", name).Msg("failed to prune recovery entry")
			}
		}
	}

	return out, nil
}

// Snapshot returns a copy of every tracked job.
func (o *Orchestrator) Snapshot() []jobs.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.graph.Snapshot()
}

// Job returns one tracked job.
func (o *Orchestrator) Job(jobID string) (jobs.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.graph.Get(jobID)

	return job.Clone(), ok
}

// IsSafeToExit reports whether stopping now would interrupt work that cannot be resumed.
func (o *Orchestrator) IsSafeToExit() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return jobs.IsSafeToExit(o.graph)
}

// BlockingJobs lists the jobs that make IsSafeToExit false.
func (o *Orchestrator) BlockingJobs() []jobs.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	return jobs.BlockingJobs(o.graph)
}

// AreAllJobsComplete reports whether every top-level upload has finished.
func (o *Orchestrator) AreAllJobsComplete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return jobs.AreAllJobsComplete(o.graph)
}

func (o *Orchestrator) lookup(jobID string) (jobs.Job, jobs.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.graph.Get(jobID)
	if !ok {
		return jobs.Job{JobID: jobID}, jobs.Job{}, fmt.Errorf("job %s: %w", jobID, jobs.ErrJobNotFound)
	}

	root, _ := o.graph.RootOf(jobID)

	return job.Clone(), root.Clone(), nil
}

// put stores job in the graph. Only a RETRYING record may move a FAILED job back
// into play; any other update to a terminal job is rejected. Callers hold mu.
func (o *Orchestrator) put(job jobs.Job) error {
	existing, ok := o.graph.Get(job.JobID)
	if ok && existing.Status == jobs.StatusFailed && job.Status == jobs.StatusRetrying {
		return o.graph.Reopen(job) //nolint:wrapcheck // TransitionError carries the job id
	}

	return o.graph.Put(job) //nolint:wrapcheck // TransitionError carries the job id
}

// apply records an update from storage and runs the follow-ups for finished uploads.
func (o *Orchestrator) apply(job jobs.Job) {
	o.mu.Lock()
	err := o.put(job)
	o.mu.Unlock()

	if err != nil {
		o.logger.Debug().Err(err).Str("job_id", job.JobID).Msg("ignored out-of-date job update")

		return
	}

	o.emitter.Emit(JobUpdated{Job: job.Clone()})

	if !job.IsUpload() || !job.Status.IsTerminal() {
		return
	}

	if err := o.recovery.Remove(job.JobName); err != nil {
		o.alert(job.JobID, job.JobName, fmt.Errorf("clear recovery entry: %w", err))
	}

	if job.Status == jobs.StatusUnrecoverable {
		o.alert(job.JobID, job.JobName, &jobs.UnrecoverableJobError{
			JobID:   job.JobID,
			JobName: job.JobName,
			Reason:  job.ServiceFields.Error,
		})
	}
}

func (o *Orchestrator) progress(uploadID string, progress copypool.BatchProgress) {
	o.mu.Lock()
	upload, _ := o.graph.Get(uploadID)
	o.mu.Unlock()

	o.emitter.Emit(UploadProgress{UploadID: uploadID, JobName: upload.JobName, Progress: progress})
}

func (o *Orchestrator) alert(jobID, jobName string, err error) {
	alert := Alert{JobID: jobID, JobName: jobName, Err: err, Category: pkgerrors.CategoryUnknown}

	var actionable pkgerrors.ActionableError
	if errors.As(o.enricher.Enrich(err, ""), &actionable) {
		alert.Category = actionable.Category()
		alert.Suggestions = actionable.Suggestions()
	}

	o.logger.Warn().Err(err).Str("job_id", jobID).Str("category", string(alert.Category)).Msg("alert")
	o.emitter.Emit(alert)
}

// observer adapts the orchestrator to storage.Observer.
type observer struct {
	o *Orchestrator
}

func (ob observer) JobUpdated(job jobs.Job) {
	ob.o.apply(job)
}

func (ob observer) UploadProgress(uploadID string, progress copypool.BatchProgress) {
	ob.o.progress(uploadID, progress)
}
