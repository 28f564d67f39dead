package jobservice

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/joe/upload-files/internal/jobs"
)

// Retry defaults.
const (
	DefaultAttempts = 4
	DefaultDelay    = 500 * time.Millisecond
)

// RetryingClient retries transient failures of another Client with exponential backoff.
type RetryingClient struct {
	next     Client
	attempts uint
	delay    time.Duration
	logger   zerolog.Logger
}

// WithRetry wraps next. attempts counts the first call; zero values select the defaults.
func WithRetry(next Client, attempts uint, delay time.Duration, logger zerolog.Logger) *RetryingClient {
	if attempts == 0 {
		attempts = DefaultAttempts
	}

	if delay <= 0 {
		delay = DefaultDelay
	}

	return &RetryingClient{next: next, attempts: attempts, delay: delay, logger: logger}
}

// CreateJob implements Client.
func (r *RetryingClient) CreateJob(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	return retryJob(ctx, r, "create", func() (jobs.Job, error) { return r.next.CreateJob(ctx, job) })
}

// UpdateJob implements Client.
func (r *RetryingClient) UpdateJob(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	return retryJob(ctx, r, "update", func() (jobs.Job, error) { return r.next.UpdateJob(ctx, job) })
}

// GetJob implements Client.
func (r *RetryingClient) GetJob(ctx context.Context, jobID string) (jobs.Job, error) {
	return retryJob(ctx, r, "get", func() (jobs.Job, error) { return r.next.GetJob(ctx, jobID) })
}

// ListJobs implements Client.
func (r *RetryingClient) ListJobs(ctx context.Context, query Query) ([]jobs.Job, error) {
	var out []jobs.Job

	err := r.do(ctx, "list", func() error {
		var err error

		out, err = r.next.ListJobs(ctx, query)

		return err
	})

	return out, err
}

// RetryJob implements Client.
func (r *RetryingClient) RetryJob(ctx context.Context, jobID string) (jobs.Job, error) {
	return retryJob(ctx, r, "retry", func() (jobs.Job, error) { return r.next.RetryJob(ctx, jobID) })
}

// CancelJob implements Client.
func (r *RetryingClient) CancelJob(ctx context.Context, jobID, reason string) (jobs.Job, error) {
	return retryJob(ctx, r, "cancel", func() (jobs.Job, error) { return r.next.CancelJob(ctx, jobID, reason) })
}

func retryJob(ctx context.Context, r *RetryingClient, op string, call func() (jobs.Job, error)) (jobs.Job, error) {
	var out jobs.Job

	err := r.do(ctx, op, func() error {
		var err error

		out, err = call()

		return err
	})

	return out, err
}

func (r *RetryingClient) do(ctx context.Context, op string, call func() error) error {
	return retry.Do(call,
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn().Err(err).Str("op", op).Uint("attempt", n+1).Msg("job service call failed, retrying")
		}),
	)
}
