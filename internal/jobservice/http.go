package jobservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/joe/upload-files/internal/jobs"
)

// DefaultTimeout bounds a single request to the job service.
const DefaultTimeout = 30 * time.Second

// HTTPClient speaks JSON to a job service at a base URL.
type HTTPClient struct {
	client *resty.Client
}

// NewHTTPClient creates a client for baseURL (for example http://jobs.internal:8080/api).
func NewHTTPClient(baseURL string) *HTTPClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(DefaultTimeout)

	return &HTTPClient{client: client}
}

// CreateJob posts a new job.
func (c *HTTPClient) CreateJob(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	var out jobs.Job

	resp, err := c.client.R().SetContext(ctx).SetBody(job).SetResult(&out).Post("/jobs")
	if err = checkResponse(resp, err, "create job "+job.JobName); err != nil {
		return jobs.Job{}, err
	}

	return out, nil
}

// UpdateJob puts the job record.
func (c *HTTPClient) UpdateJob(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	var out jobs.Job

	resp, err := c.client.R().SetContext(ctx).
		SetPathParam("id", job.JobID).
		SetBody(job).
		SetResult(&out).
		Put("/jobs/{id}")
	if err = checkResponse(resp, err, "update job "+job.JobID); err != nil {
		return jobs.Job{}, err
	}

	return out, nil
}

// GetJob fetches one job.
func (c *HTTPClient) GetJob(ctx context.Context, jobID string) (jobs.Job, error) {
	var out jobs.Job

	resp, err := c.client.R().SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&out).
		Get("/jobs/{id}")
	if err = checkResponse(resp, err, "get job "+jobID); err != nil {
		return jobs.Job{}, err
	}

	return out, nil
}

// ListJobs queries jobs. Filters the server does not understand are applied locally.
func (c *HTTPClient) ListJobs(ctx context.Context, query Query) ([]jobs.Job, error) {
	var out []jobs.Job

	req := c.client.R().SetContext(ctx).SetResult(&out)

	if query.JobName != "" {
		req.SetQueryParam("jobName", query.JobName)
	}

	if query.ParentID != "" {
		req.SetQueryParam("parentId", query.ParentID)
	}

	if query.RootsOnly {
		req.SetQueryParam("roots", "true")
	}

	if query.Type != "" {
		req.SetQueryParam("type", string(query.Type))
	}

	for _, status := range query.Statuses {
		req.QueryParam.Add("status", string(status))
	}

	resp, err := req.Get("/jobs")
	if err = checkResponse(resp, err, "list jobs"); err != nil {
		return nil, err
	}

	filtered := out[:0]
	for _, job := range out {
		if query.Matches(job) {
			filtered = append(filtered, job)
		}
	}

	return filtered, nil
}

// RetryJob asks the service to retry a FAILED job.
func (c *HTTPClient) RetryJob(ctx context.Context, jobID string) (jobs.Job, error) {
	var out jobs.Job

	resp, err := c.client.R().SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&out).
		Post("/jobs/{id}/retry")
	if err = checkResponse(resp, err, "retry job "+jobID); err != nil {
		return jobs.Job{}, err
	}

	return out, nil
}

// CancelJob asks the service to cancel a job.
func (c *HTTPClient) CancelJob(ctx context.Context, jobID, reason string) (jobs.Job, error) {
	var out jobs.Job

	resp, err := c.client.R().SetContext(ctx).
		SetPathParam("id", jobID).
		SetBody(map[string]string{"reason": reason}).
		SetResult(&out).
		Post("/jobs/{id}/cancel")
	if err = checkResponse(resp, err, "cancel job "+jobID); err != nil {
		return jobs.Job{}, err
	}

	return out, nil
}

func checkResponse(resp *resty.Response, err error, action string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}

	if resp.IsError() {
		return fmt.Errorf("failed to %s: %w", action, &StatusError{
			Code:    resp.StatusCode(),
			Message: strings.TrimSpace(resp.String()),
		})
	}

	return nil
}
