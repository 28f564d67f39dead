package jobs_test

import (
	"time"

	"github.com/joe/upload-files/internal/jobs"
)

//nolint:gochecknoglobals // Fixed clock for deterministic ordering
var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func upload(id string, status jobs.Status, copyJobID string) jobs.Job {
	return jobs.Job{
		JobID:         id,
		JobName:       "batch-" + id,
		Status:        status,
		Created:       epoch,
		Modified:      epoch,
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeUpload, CopyJobID: copyJobID},
	}
}

func child(id, parentID string, kind jobs.Type, status jobs.Status, offset time.Duration) jobs.Job {
	return jobs.Job{
		JobID:         id,
		ParentID:      parentID,
		JobName:       string(kind) + "-" + id,
		Status:        status,
		Created:       epoch.Add(offset),
		Modified:      epoch.Add(offset),
		ServiceFields: jobs.ServiceFields{Type: kind},
	}
}

func graphOf(list ...jobs.Job) *jobs.Graph {
	g := jobs.NewGraph()
	for _, job := range list {
		if err := g.Put(job); err != nil {
			panic(err)
		}
	}

	return g
}
