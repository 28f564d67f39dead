package jobs

import (
	"errors"
	"fmt"
)

// Exported variables.
var (
	ErrJobNotFound = errors.New("job not found")
)

// RetryRejectedError is returned when retry is attempted on a job that is not FAILED.
type RetryRejectedError struct {
	JobID  string
	Status Status
}

func (e *RetryRejectedError) Error() string {
	return fmt.Sprintf("cannot retry job %s: status is %s, only FAILED jobs can be retried", e.JobID, e.Status)
}

// CancelRejectedError is returned when cancel is attempted on a finished job.
type CancelRejectedError struct {
	JobID  string
	Status Status
}

func (e *CancelRejectedError) Error() string {
	return fmt.Sprintf("cannot cancel job %s: status is already %s", e.JobID, e.Status)
}

// UnrecoverableJobError reports that a job ended UNRECOVERABLE. It is informational.
type UnrecoverableJobError struct {
	JobID   string
	JobName string
	Reason  string
}

func (e *UnrecoverableJobError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("upload %s (%s) is unrecoverable", e.JobName, e.JobID)
	}

	return fmt.Sprintf("upload %s (%s) is unrecoverable: %s", e.JobName, e.JobID, e.Reason)
}
