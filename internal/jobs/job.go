// Package jobs models the upload job forest and answers lifecycle questions about it.
package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joe/upload-files/internal/payload"
)

// Type classifies a job within an upload.
type Type string

// Job types.
const (
	TypeUpload      Type = "upload"
	TypeCopy        Type = "copy"
	TypeAddMetadata Type = "add_metadata"
)

// PendingPrefix marks ids generated locally before the job service acknowledges a job.
const PendingPrefix = "pending-"

// CancelReason is recorded in ServiceFields.Error when a user cancels a job.
const CancelReason = "Cancelled by user"

// ServiceFields are the job-service fields the pipeline relies on.
type ServiceFields struct {
	Type      Type   `json:"type,omitempty"`
	CopyJobID string `json:"copyJobId,omitempty"`
	Error     string `json:"error,omitempty"`

	// Payload is kept on upload jobs so a retry can resubmit without re-reading disk.
	Payload payload.Payload `json:"payload,omitempty"`

	// Output maps copied file paths to their MD5.
	Output map[string]string `json:"output,omitempty"`
}

// Job is one unit of work in the job service.
type Job struct {
	JobID         string        `json:"jobId"`
	ParentID      string        `json:"parentId,omitempty"`
	JobName       string        `json:"jobName"`
	Status        Status        `json:"status"`
	CurrentStage  string        `json:"currentStage,omitempty"`
	Created       time.Time     `json:"created"`
	Modified      time.Time     `json:"modified"`
	Pending       bool          `json:"pending,omitempty"`
	ServiceFields ServiceFields `json:"serviceFields"`
}

// NewPendingJob synthesizes a WAITING upload job for a batch that has not been acknowledged yet.
func NewPendingJob(jobName string, p payload.Payload, now time.Time) Job {
	return Job{
		JobID:        PendingPrefix + uuid.NewString(),
		JobName:      jobName,
		Status:       StatusWaiting,
		CurrentStage: "pending",
		Created:      now,
		Modified:     now,
		Pending:      true,
		ServiceFields: ServiceFields{
			Type:    TypeUpload,
			Payload: p,
		},
	}
}

// IsPendingID reports whether id was generated locally.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// IsRoot reports whether the job has no parent.
func (j Job) IsRoot() bool {
	return j.ParentID == ""
}

// IsUpload reports whether the job is a top-level upload.
func (j Job) IsUpload() bool {
	return j.IsRoot() && (j.ServiceFields.Type == TypeUpload || j.ServiceFields.Type == "")
}

// Clone returns a copy that shares no maps with j.
func (j Job) Clone() Job {
	out := j
	out.ServiceFields.Payload = j.ServiceFields.Payload.Clone()

	if j.ServiceFields.Output != nil {
		out.ServiceFields.Output = make(map[string]string, len(j.ServiceFields.Output))
		for k, v := range j.ServiceFields.Output {
			out.ServiceFields.Output[k] = v
		}
	}

	return out
}
