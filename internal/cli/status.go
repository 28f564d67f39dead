package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/joe/upload-files/internal/jobs"
)

func (a *app) status(ctx context.Context) error {
	if err := a.sync(ctx); err != nil {
		return err
	}

	snapshot := a.orch.Snapshot()
	if len(snapshot) == 0 {
		_, _ = fmt.Fprintln(a.env.Stdout, "No jobs.")

		return nil
	}

	_, _ = fmt.Fprintln(a.env.Stdout, a.jobTable(snapshot, a.settings.Status.All))
	_, _ = fmt.Fprintln(a.env.Stdout, a.exitVerdict())

	resumable, err := a.orch.Resumable()
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to read recovery list")
	} else if len(resumable) > 0 {
		_, _ = fmt.Fprintf(a.env.Stdout, "%d interrupted upload(s) can be continued with \"upload-files resume\".\n", len(resumable))
	}

	return nil
}

// jobTable renders uploads, oldest first. withChildren adds each upload's copy and
// metadata jobs beneath it.
func (a *app) jobTable(all []jobs.Job, withChildren bool) string {
	children := make(map[string][]jobs.Job)

	var roots []jobs.Job

	for _, job := range all {
		if job.IsRoot() {
			roots = append(roots, job)
		} else {
			children[job.ParentID] = append(children[job.ParentID], job)
		}
	}

	byCreated := func(x, y jobs.Job) int { return x.Created.Compare(y.Created) }
	slices.SortStableFunc(roots, byCreated)

	rows := make([][]string, 0, len(all))

	for _, root := range roots {
		files := root.ServiceFields.Payload.Files()
		rows = append(rows, []string{
			root.JobID,
			root.JobName,
			string(root.Status),
			root.CurrentStage,
			strconv.Itoa(len(files)),
			a.sizeOf(files),
			humanize.Time(root.Modified),
		})

		if !withChildren {
			continue
		}

		kids := children[root.JobID]
		slices.SortStableFunc(kids, byCreated)

		for _, child := range kids {
			rows = append(rows, []string{
				"  " + child.JobID,
				"  " + string(child.ServiceFields.Type),
				string(child.Status),
				child.CurrentStage,
				"",
				"",
				humanize.Time(child.Modified),
			})
		}
	}

	return renderTable(
		[]string{"Job", "Name", "Status", "Stage", "Files", "Size", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

// sizeOf sums the sizes of files that are still readable locally.
func (a *app) sizeOf(files []string) string {
	var (
		total int64
		found bool
	)

	for _, file := range files {
		info, err := a.source.Stat(file)
		if err != nil {
			continue
		}

		total += info.Size()
		found = true
	}

	if !found {
		return "-"
	}

	return humanize.Bytes(uint64(total))
}

func (a *app) exitVerdict() string {
	blocking := a.orch.BlockingJobs()
	if len(blocking) == 0 {
		return "Safe to exit: yes"
	}

	parts := make([]string, 0, len(blocking))
	for _, job := range blocking {
		parts = append(parts, fmt.Sprintf("%s (%s %s)", job.JobID, job.ServiceFields.Type, job.Status))
	}

	return "Safe to exit: no, waiting on " + strings.Join(parts, ", ")
}
