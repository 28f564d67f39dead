package jobs

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a job as reported by the job service.
type Status string

// Job statuses.
const (
	StatusWaiting       Status = "WAITING"
	StatusWorking       Status = "WORKING"
	StatusRetrying      Status = "RETRYING"
	StatusBlocked       Status = "BLOCKED"
	StatusSucceeded     Status = "SUCCEEDED"
	StatusFailed        Status = "FAILED"
	StatusUnrecoverable Status = "UNRECOVERABLE"
)

// Exported variables.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusWaiting, StatusWorking, StatusRetrying, StatusBlocked,
		StatusSucceeded, StatusFailed, StatusUnrecoverable,
	}
}

// IsTerminal reports whether no further transitions are expected from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusUnrecoverable:
		return true
	case StatusWaiting, StatusWorking, StatusRetrying, StatusBlocked:
		return false
	}

	return false
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}

	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown job status %q", value)
	}

	return status, nil
}

// TransitionError reports a status change that would break monotonicity.
type TransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidateTransition checks that moving a job from from to to keeps its history monotonic.
// Repeating the current status is always allowed. RETRYING and BLOCKED are only entered
// from an active job; leaving a terminal status goes through Graph.Reopen instead.
func ValidateTransition(jobID string, from, to Status) error {
	if !to.IsValid() {
		return &TransitionError{JobID: jobID, From: from, To: to}
	}

	if from == to {
		return nil
	}

	switch {
	case from.IsTerminal():
		return &TransitionError{JobID: jobID, From: from, To: to}
	case to == StatusWaiting:
		return &TransitionError{JobID: jobID, From: from, To: to}
	case to == StatusRetrying || to == StatusBlocked:
		if from == StatusWaiting {
			return &TransitionError{JobID: jobID, From: from, To: to}
		}
	}

	return nil
}
