// Package jobstore is a job service backed by a local SQLite database. It lets the
// pipeline run without a remote service and survives restarts for resume.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/jobservice"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id         TEXT PRIMARY KEY,
    parent_id      TEXT NOT NULL DEFAULT '',
    job_name       TEXT NOT NULL,
    status         TEXT NOT NULL,
    current_stage  TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL,
    modified_at    TEXT NOT NULL,
    service_fields TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_id);
CREATE INDEX IF NOT EXISTS idx_jobs_name ON jobs(job_name);
`

const jobColumns = `job_id, parent_id, job_name, status, current_stage, created_at, modified_at, service_fields`

// Store implements jobservice.Client on SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time

	// mu serializes read-validate-write sequences within this process.
	mu sync.Mutex
}

var _ jobservice.Client = (*Store)(nil)

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("ensure job store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetClock replaces the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// CreateJob inserts a job, assigning an id when it has none or a pending one.
func (s *Store) CreateJob(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	if job.JobID == "" || jobs.IsPendingID(job.JobID) {
		job.JobID = uuid.NewString()
	}

	if job.Status == "" {
		job.Status = jobs.StatusWaiting
	}

	if !job.Status.IsValid() {
		return jobs.Job{}, fmt.Errorf("create job %s: unknown status %q", job.JobName, job.Status)
	}

	now := s.now()
	if job.Created.IsZero() {
		job.Created = now
	}

	job.Modified = job.Created
	job.Pending = false

	fields, err := json.Marshal(job.ServiceFields)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("marshal service fields: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.JobID,
			job.ParentID,
			job.JobName,
			string(job.Status),
			job.CurrentStage,
			formatTime(job.Created),
			formatTime(job.Modified),
			string(fields),
		)

		return execErr
	})
	if err != nil {
		return jobs.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

// UpdateJob replaces a job's record. Status changes must keep the history monotonic.
func (s *Store) UpdateJob(ctx context.Context, job jobs.Job) (jobs.Job, error) {
	var out jobs.Job

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := getJob(ctx, tx, job.JobID)
		if err != nil {
			return err
		}

		err = jobs.ValidateTransition(job.JobID, existing.Status, job.Status)
		if err != nil {
			return err
		}

		job.Created = existing.Created
		job.Modified = s.modifiedAfter(existing)
		job.Pending = false

		out = job

		return putJob(ctx, tx, job)
	})
	if err != nil {
		return jobs.Job{}, fmt.Errorf("update job %s: %w", job.JobID, err)
	}

	return out, nil
}

// GetJob returns one job or jobservice.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (jobs.Job, error) {
	job, err := getJob(ctx, s.db, jobID)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}

	return job, nil
}

// ListJobs returns the jobs matching query, oldest first.
func (s *Store) ListJobs(ctx context.Context, query jobservice.Query) ([]jobs.Job, error) {
	var (
		clauses []string
		args    []any
	)

	if query.JobName != "" {
		clauses = append(clauses, "job_name = ?")
		args = append(args, query.JobName)
	}

	if query.ParentID != "" {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, query.ParentID)
	}

	if query.RootsOnly {
		clauses = append(clauses, "parent_id = ''")
	}

	if len(query.Statuses) > 0 {
		placeholders := make([]string, len(query.Statuses))
		for i, status := range query.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}

		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	stmt := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		stmt += ` WHERE ` + strings.Join(clauses, " AND ")
	}

	stmt += ` ORDER BY created_at, job_id`

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var out []jobs.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		if query.Matches(job) {
			out = append(out, job)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return out, nil
}

// RetryJob moves a FAILED job to RETRYING and clears its error.
func (s *Store) RetryJob(ctx context.Context, jobID string) (jobs.Job, error) {
	var out jobs.Job

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		job, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if err := jobs.CheckRetry(job); err != nil {
			return err
		}

		job.Status = jobs.StatusRetrying
		job.ServiceFields.Error = ""
		job.Modified = s.modifiedAfter(job)
		out = job

		return putJob(ctx, tx, job)
	})
	if err != nil {
		return jobs.Job{}, fmt.Errorf("retry job %s: %w", jobID, err)
	}

	return out, nil
}

// CancelJob marks the job and every unfinished descendant UNRECOVERABLE with reason.
func (s *Store) CancelJob(ctx context.Context, jobID, reason string) (jobs.Job, error) {
	var out jobs.Job

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		job, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if err := jobs.CheckCancel(job); err != nil {
			return err
		}

		queue := []jobs.Job{job}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			if !current.Status.IsTerminal() {
				current.Status = jobs.StatusUnrecoverable
				current.ServiceFields.Error = reason
				current.Modified = s.modifiedAfter(current)

				if err := putJob(ctx, tx, current); err != nil {
					return err
				}
			}

			if current.JobID == jobID {
				out = current
			}

			children, err := childJobs(ctx, tx, current.JobID)
			if err != nil {
				return err
			}

			queue = append(queue, children...)
		}

		return nil
	})
	if err != nil {
		return jobs.Job{}, fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	return out, nil
}

func (s *Store) modifiedAfter(job jobs.Job) time.Time {
	now := s.now()
	if now.Before(job.Created) {
		return job.Created
	}

	return now
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}

		return tx.Commit()
	})
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func getJob(ctx context.Context, q querier, jobID string) (jobs.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, jobservice.ErrNotFound
	}

	return job, err
}

func childJobs(ctx context.Context, q querier, parentID string) ([]jobs.Job, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE parent_id = ? ORDER BY created_at, job_id`, parentID)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rows.Close()
	}()

	var out []jobs.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, job)
	}

	return out, rows.Err()
}

func putJob(ctx context.Context, tx *sql.Tx, job jobs.Job) error {
	fields, err := json.Marshal(job.ServiceFields)
	if err != nil {
		return fmt.Errorf("marshal service fields: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET parent_id = ?, job_name = ?, status = ?, current_stage = ?,
            modified_at = ?, service_fields = ? WHERE job_id = ?`,
		job.ParentID,
		job.JobName,
		string(job.Status),
		job.CurrentStage,
		formatTime(job.Modified),
		string(fields),
		job.JobID,
	)

	return err
}

func scanJob(row scanner) (jobs.Job, error) {
	var (
		job      jobs.Job
		status   string
		created  string
		modified string
		fields   string
	)

	err := row.Scan(&job.JobID, &job.ParentID, &job.JobName, &status, &job.CurrentStage, &created, &modified, &fields)
	if err != nil {
		return jobs.Job{}, err
	}

	job.Status = jobs.Status(status)

	if job.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return jobs.Job{}, fmt.Errorf("parse created_at: %w", err)
	}

	if job.Modified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
		return jobs.Job{}, fmt.Errorf("parse modified_at: %w", err)
	}

	if err := json.Unmarshal([]byte(fields), &job.ServiceFields); err != nil {
		return jobs.Job{}, fmt.Errorf("unmarshal service fields: %w", err)
	}

	return job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}

	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff

	var lastErr error

	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}

	return lastErr
}
