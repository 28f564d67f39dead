package cli

import (
	"context"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/tui"
)

// pollInterval is how often headless runs re-check the job graph.
const pollInterval = 250 * time.Millisecond

// ErrInterrupted is returned when the user stopped a command before its uploads finished.
var ErrInterrupted = errors.New("interrupted before all uploads finished")

// scopedTracker narrows a tracker to a set of uploads and every job beneath them.
// Uploads left unfinished by a crashed run stay in the graph after a sync and
// must not keep retry or resume waiting.
type scopedTracker struct {
	next    tui.Tracker
	uploads mapset.Set[string]
}

func newScopedTracker(next tui.Tracker, uploadIDs ...string) *scopedTracker {
	return &scopedTracker{next: next, uploads: mapset.NewSet(uploadIDs...)}
}

func (s *scopedTracker) filter(in []jobs.Job) []jobs.Job {
	parents := parentIndex(s.next.Snapshot())

	var out []jobs.Job

	for _, job := range in {
		if s.uploads.Contains(rootOf(parents, job.JobID)) {
			out = append(out, job)
		}
	}

	return out
}

func (s *scopedTracker) Snapshot() []jobs.Job {
	return s.filter(s.next.Snapshot())
}

func (s *scopedTracker) BlockingJobs() []jobs.Job {
	return s.filter(s.next.BlockingJobs())
}

func (s *scopedTracker) IsSafeToExit() bool {
	return len(s.BlockingJobs()) == 0
}

func (s *scopedTracker) AreAllJobsComplete() bool {
	for _, job := range s.Snapshot() {
		if job.IsUpload() && !job.Status.IsTerminal() {
			return false
		}
	}

	return true
}

// parentIndex maps each job id to its parent id.
func parentIndex(all []jobs.Job) map[string]string {
	parents := make(map[string]string, len(all))
	for _, job := range all {
		parents[job.JobID] = job.ParentID
	}

	return parents
}

// rootOf follows parent links from jobID to the top-level job. A parent missing
// from the index ends the walk.
func rootOf(parents map[string]string, jobID string) string {
	for hops := 0; hops <= len(parents); hops++ {
		parent := parents[jobID]
		if parent == "" {
			return jobID
		}

		jobID = parent
	}

	return jobID
}

// wait blocks until every upload tracker knows about has finished or the user quits.
func (a *app) wait(ctx context.Context, tracker tui.Tracker) (tui.Outcome, error) {
	if a.bridge != nil {
		return tui.Run(ctx, tracker, a.bridge, a.env.Stdout) //nolint:wrapcheck // already wrapped by tui
	}

	return a.watch(ctx, tracker), nil
}

// watch is the headless form of wait. The first interrupt while unfinished work
// cannot be resumed only logs a warning; a second one forces the exit.
func (a *app) watch(ctx context.Context, tracker tui.Tracker) tui.Outcome {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	warned := false

	for {
		if tracker.AreAllJobsComplete() {
			return tui.OutcomeComplete
		}

		select {
		case <-ctx.Done():
			if tracker.IsSafeToExit() {
				return tui.OutcomeInterrupted
			}

			return tui.OutcomeForced
		case <-a.env.Interrupts:
			if tracker.IsSafeToExit() {
				return tui.OutcomeInterrupted
			}

			if warned {
				return tui.OutcomeForced
			}

			warned = true

			for _, job := range tracker.BlockingJobs() {
				a.logger.Warn().
					Str("job_id", job.JobID).
					Str("job_name", job.JobName).
					Str("type", string(job.ServiceFields.Type)).
					Msg("exiting now would interrupt work that cannot be resumed; interrupt again to force")
			}
		case <-ticker.C:
		}
	}
}
