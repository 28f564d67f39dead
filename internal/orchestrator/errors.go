package orchestrator

import "fmt"

// SubmissionError reports that a batch could not be handed to the storage client.
// Nothing is left behind: the pending job and its recovery entry are removed.
type SubmissionError struct {
	JobName string
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit upload %s: %v", e.JobName, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
