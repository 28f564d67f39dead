package jobs

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Graph is an indexed, in-memory view of the job forest.
// It is not safe for concurrent use; the owner serializes access.
type Graph struct {
	byID       map[string]Job
	children   map[string]mapset.Set[string]
	inProgress mapset.Set[string]
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byID:       make(map[string]Job),
		children:   make(map[string]mapset.Set[string]),
		inProgress: mapset.NewThreadUnsafeSet[string](),
	}
}

// Put inserts a job or applies an update to a known one.
// Updates that would move a job backwards are rejected with a *TransitionError.
// A Modified time earlier than Created is raised to Created.
func (g *Graph) Put(job Job) error {
	if job.JobID == "" {
		return fmt.Errorf("job %q has no id", job.JobName)
	}

	if existing, ok := g.byID[job.JobID]; ok {
		err := ValidateTransition(job.JobID, existing.Status, job.Status)
		if err != nil {
			return err
		}

		if job.Created.IsZero() {
			job.Created = existing.Created
		}
	}

	g.store(job)

	return nil
}

// Reopen moves a FAILED job to RETRYING after the job service accepted a retry.
// The retried record must be modified after the one it replaces, so a stale
// RETRYING record cannot revive a job that failed again later.
func (g *Graph) Reopen(job Job) error {
	existing, ok := g.byID[job.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.JobID, ErrJobNotFound)
	}

	if existing.Status != StatusFailed || job.Status != StatusRetrying || !job.Modified.After(existing.Modified) {
		return &TransitionError{JobID: job.JobID, From: existing.Status, To: job.Status}
	}

	if job.Created.IsZero() {
		job.Created = existing.Created
	}

	g.store(job)

	return nil
}

// Promote replaces a pending job with the job the service acknowledged.
func (g *Graph) Promote(pendingID string, acknowledged Job) error {
	if _, ok := g.byID[pendingID]; !ok {
		return fmt.Errorf("pending job %s: %w", pendingID, ErrJobNotFound)
	}

	if acknowledged.JobID == "" {
		return fmt.Errorf("acknowledged job for %s has no id", pendingID)
	}

	g.Remove(pendingID)

	acknowledged.Pending = false

	return g.Put(acknowledged)
}

// Remove drops a job and its index entries. Children are kept.
func (g *Graph) Remove(jobID string) {
	job, ok := g.byID[jobID]
	if !ok {
		return
	}

	g.unindex(job)
	delete(g.byID, jobID)
}

// Get returns a job by id.
func (g *Graph) Get(jobID string) (Job, bool) {
	job, ok := g.byID[jobID]

	return job, ok
}

// Len returns the number of tracked jobs.
func (g *Graph) Len() int {
	return len(g.byID)
}

// Children returns the direct children of a job, oldest first.
func (g *Graph) Children(jobID string) []Job {
	ids, ok := g.children[jobID]
	if !ok {
		return nil
	}

	out := make([]Job, 0, ids.Cardinality())
	for _, id := range ids.ToSlice() {
		if job, ok := g.byID[id]; ok {
			out = append(out, job)
		}
	}

	sortJobs(out)

	return out
}

// Descendants returns every job below jobID, breadth first.
func (g *Graph) Descendants(jobID string) []Job {
	var out []Job

	seen := mapset.NewThreadUnsafeSet(jobID)
	queue := []string{jobID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, child := range g.Children(current) {
			if !seen.Add(child.JobID) {
				continue
			}

			out = append(out, child)
			queue = append(queue, child.JobID)
		}
	}

	return out
}

// CopyJob returns the copy job linked from an upload job.
func (g *Graph) CopyJob(uploadID string) (Job, bool) {
	upload, ok := g.byID[uploadID]
	if !ok || upload.ServiceFields.CopyJobID == "" {
		return Job{}, false
	}

	return g.Get(upload.ServiceFields.CopyJobID)
}

// Uploads returns the top-level upload jobs, oldest first.
func (g *Graph) Uploads() []Job {
	var out []Job

	for _, job := range g.byID {
		if job.IsUpload() {
			out = append(out, job)
		}
	}

	sortJobs(out)

	return out
}

// RootOf walks parent links up to the top-level job.
func (g *Graph) RootOf(jobID string) (Job, bool) {
	job, ok := g.byID[jobID]

	for hops := 0; ok && !job.IsRoot() && hops <= len(g.byID); hops++ {
		parent, found := g.byID[job.ParentID]
		if !found {
			return job, true
		}

		job = parent
	}

	return job, ok
}

// InProgress returns the ids of top-level uploads that are not terminal.
func (g *Graph) InProgress() []string {
	ids := g.inProgress.ToSlice()
	sort.Strings(ids)

	return ids
}

// Snapshot returns copies of every job, oldest first.
func (g *Graph) Snapshot() []Job {
	out := make([]Job, 0, len(g.byID))
	for _, job := range g.byID {
		out = append(out, job.Clone())
	}

	sortJobs(out)

	return out
}

func (g *Graph) store(job Job) {
	if job.Modified.Before(job.Created) {
		job.Modified = job.Created
	}

	if existing, ok := g.byID[job.JobID]; ok {
		g.unindex(existing)
	}

	g.byID[job.JobID] = job

	if job.ParentID != "" {
		set, ok := g.children[job.ParentID]
		if !ok {
			set = mapset.NewThreadUnsafeSet[string]()
			g.children[job.ParentID] = set
		}

		set.Add(job.JobID)
	}

	if job.IsUpload() && !job.Status.IsTerminal() {
		g.inProgress.Add(job.JobID)
	}
}

func (g *Graph) unindex(job Job) {
	if set, ok := g.children[job.ParentID]; ok {
		set.Remove(job.JobID)

		if set.Cardinality() == 0 {
			delete(g.children, job.ParentID)
		}
	}

	g.inProgress.Remove(job.JobID)
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].Created.Equal(jobs[j].Created) {
			return jobs[i].Created.Before(jobs[j].Created)
		}

		return jobs[i].JobID < jobs[j].JobID
	})
}
