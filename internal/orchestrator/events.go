package orchestrator

import (
	"github.com/joe/upload-files/internal/copypool"
	"github.com/joe/upload-files/internal/jobs"
	pkgerrors "github.com/joe/upload-files/pkg/errors"
)

// Event is the interface implemented by all orchestrator events.
type Event interface {
	isEvent()
}

// EventEmitter receives orchestrator events. Emit must not block.
type EventEmitter interface {
	Emit(event Event)
}

// JobUpdated is emitted after a job record changed in the graph.
type JobUpdated struct {
	Job jobs.Job
}

func (JobUpdated) isEvent() {}

// JobPromoted is emitted when a pending upload has been acknowledged. Job is the
// record that now stands in for PendingID.
type JobPromoted struct {
	PendingID string
	Job       jobs.Job
}

func (JobPromoted) isEvent() {}

// JobRemoved is emitted when a pending upload is rolled back.
type JobRemoved struct {
	JobID string
}

func (JobRemoved) isEvent() {}

// UploadProgress is emitted as an upload's files are copied.
type UploadProgress struct {
	UploadID string
	JobName  string
	Progress copypool.BatchProgress
}

func (UploadProgress) isEvent() {}

// Alert is a user-visible failure or notice. Err keeps the original error chain.
type Alert struct {
	JobID       string
	JobName     string
	Err         error
	Category    pkgerrors.ErrorCategory
	Suggestions []string
}

func (Alert) isEvent() {}

type noopEmitter struct{}

func (noopEmitter) Emit(Event) {}
