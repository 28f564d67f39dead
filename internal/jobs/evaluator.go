package jobs

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// IsComplete reports whether the job has reached a terminal status.
func IsComplete(job Job) bool {
	return job.Status.IsTerminal()
}

// AreAllJobsComplete reports whether no top-level upload is still in progress.
func AreAllJobsComplete(g *Graph) bool {
	return len(g.InProgress()) == 0
}

// IsSafeToExit reports whether the process can stop without interrupting work that
// cannot be resumed. Copies can be restarted on the next launch, so an upload whose
// only outstanding work is its copy job is safe; any other non-terminal job below an
// unfinished upload (in practice the add-metadata attach) is not.
func IsSafeToExit(g *Graph) bool {
	return len(BlockingJobs(g)) == 0
}

// BlockingJobs lists the non-terminal jobs that make IsSafeToExit false.
func BlockingJobs(g *Graph) []Job {
	var out []Job

	for _, upload := range g.Uploads() {
		if upload.Status.IsTerminal() {
			continue
		}

		skip := copySubtree(g, upload)

		for _, job := range g.Descendants(upload.JobID) {
			if !skip.Contains(job.JobID) && !job.Status.IsTerminal() {
				out = append(out, job)
			}
		}
	}

	return out
}

// CanRetry reports whether the job service may be asked to retry the job.
func CanRetry(job Job) bool {
	return job.Status == StatusFailed
}

// CanCancel reports whether the job can still be cancelled.
func CanCancel(job Job) bool {
	switch job.Status {
	case StatusWaiting, StatusWorking, StatusRetrying, StatusBlocked:
		return true
	case StatusSucceeded, StatusFailed, StatusUnrecoverable:
		return false
	}

	return false
}

// CheckRetry returns a *RetryRejectedError when CanRetry is false.
func CheckRetry(job Job) error {
	if !CanRetry(job) {
		return &RetryRejectedError{JobID: job.JobID, Status: job.Status}
	}

	return nil
}

// CheckCancel returns a *CancelRejectedError when CanCancel is false.
func CheckCancel(job Job) error {
	if !CanCancel(job) {
		return &CancelRejectedError{JobID: job.JobID, Status: job.Status}
	}

	return nil
}

// Cancelled returns job as it looks after a user cancellation.
func Cancelled(job Job) Job {
	job.Status = StatusUnrecoverable
	job.ServiceFields.Error = CancelReason

	return job
}

// copySubtree returns the ids of the upload's copy job and everything below it.
func copySubtree(g *Graph, upload Job) mapset.Set[string] {
	skip := mapset.NewThreadUnsafeSet[string]()

	copyJob, ok := g.CopyJob(upload.JobID)
	if !ok {
		return skip
	}

	skip.Add(copyJob.JobID)

	for _, job := range g.Descendants(copyJob.JobID) {
		skip.Add(job.JobID)
	}

	return skip
}
