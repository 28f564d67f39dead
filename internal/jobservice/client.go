// Package jobservice is the contract with the service that tracks upload jobs,
// plus an HTTP implementation and a decorator that retries transient failures.
package jobservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/joe/upload-files/internal/jobs"
)

// Exported variables.
var (
	ErrNotFound = errors.New("job not found")
)

// Query selects jobs from ListJobs. Zero fields match everything.
type Query struct {
	JobName   string
	ParentID  string
	RootsOnly bool
	Type      jobs.Type
	Statuses  []jobs.Status
}

// Matches reports whether job satisfies the query.
func (q Query) Matches(job jobs.Job) bool {
	if q.JobName != "" && job.JobName != q.JobName {
		return false
	}

	if q.ParentID != "" && job.ParentID != q.ParentID {
		return false
	}

	if q.RootsOnly && !job.IsRoot() {
		return false
	}

	if q.Type != "" && job.ServiceFields.Type != q.Type {
		return false
	}

	if len(q.Statuses) == 0 {
		return true
	}

	for _, status := range q.Statuses {
		if job.Status == status {
			return true
		}
	}

	return false
}

// Client creates, updates and queries jobs.
type Client interface {
	// CreateJob stores a new job and returns it with its assigned id and timestamps.
	CreateJob(ctx context.Context, job jobs.Job) (jobs.Job, error)
	// UpdateJob replaces a job's mutable fields and returns the stored record.
	UpdateJob(ctx context.Context, job jobs.Job) (jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (jobs.Job, error)
	ListJobs(ctx context.Context, query Query) ([]jobs.Job, error)
	// RetryJob moves a FAILED job to RETRYING.
	RetryJob(ctx context.Context, jobID string) (jobs.Job, error)
	// CancelJob marks a job and its unfinished descendants UNRECOVERABLE.
	CancelJob(ctx context.Context, jobID, reason string) (jobs.Job, error)
}

// StatusError is a non-2xx response from the job service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job service returned %d %s", e.Code, http.StatusText(e.Code))
	}

	return fmt.Sprintf("job service returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// IsTransient reports whether err is worth retrying: an unavailable gateway,
// a DNS failure or a refused connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}

		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED)
}
