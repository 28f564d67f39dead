//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package jobs_test

import (
	"errors"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/upload-files/internal/jobs"
)

func TestIsSafeToExit_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		graph *jobs.Graph
		want  bool
	}{
		{
			name:  "empty graph",
			graph: jobs.NewGraph(),
			want:  true,
		},
		{
			name:  "failed upload without children",
			graph: graphOf(upload("u1", jobs.StatusFailed, "")),
			want:  true,
		},
		{
			name: "working upload with succeeded add-metadata job",
			graph: graphOf(
				upload("u1", jobs.StatusWorking, ""),
				child("m1", "u1", jobs.TypeAddMetadata, jobs.StatusSucceeded, time.Second),
			),
			want: true,
		},
		{
			name: "working upload with working add-metadata job",
			graph: graphOf(
				upload("u1", jobs.StatusWorking, ""),
				child("m1", "u1", jobs.TypeAddMetadata, jobs.StatusWorking, time.Second),
			),
			want: false,
		},
		{
			name: "working upload whose only outstanding work is the copy",
			graph: graphOf(
				upload("u1", jobs.StatusWorking, "c1"),
				child("c1", "u1", jobs.TypeCopy, jobs.StatusWorking, time.Second),
			),
			want: true,
		},
		{
			name: "copy subtree is skipped entirely",
			graph: graphOf(
				upload("u1", jobs.StatusWorking, "c1"),
				child("c1", "u1", jobs.TypeCopy, jobs.StatusWorking, time.Second),
				child("c1-part", "c1", jobs.TypeCopy, jobs.StatusWaiting, 2*time.Second),
			),
			want: true,
		},
		{
			name: "non-terminal grandchild below metadata job",
			graph: graphOf(
				upload("u1", jobs.StatusWorking, "c1"),
				child("c1", "u1", jobs.TypeCopy, jobs.StatusSucceeded, time.Second),
				child("m1", "u1", jobs.TypeAddMetadata, jobs.StatusSucceeded, 2*time.Second),
				child("m1-part", "m1", jobs.TypeAddMetadata, jobs.StatusRetrying, 3*time.Second),
			),
			want: false,
		},
		{
			name: "succeeded upload ignores stale children",
			graph: graphOf(
				upload("u1", jobs.StatusSucceeded, ""),
				child("m1", "u1", jobs.TypeAddMetadata, jobs.StatusWorking, time.Second),
			),
			want: true,
		},
		{
			name: "one unsafe upload among safe ones",
			graph: graphOf(
				upload("u1", jobs.StatusFailed, ""),
				upload("u2", jobs.StatusWorking, ""),
				child("m2", "u2", jobs.TypeAddMetadata, jobs.StatusBlocked, time.Second),
			),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			g.Expect(jobs.IsSafeToExit(tt.graph)).Should(Equal(tt.want))
			g.Expect(jobs.BlockingJobs(tt.graph) == nil).Should(Equal(tt.want))
		})
	}
}

func TestAreAllJobsComplete(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(jobs.AreAllJobsComplete(jobs.NewGraph())).Should(BeTrue())

	graph := graphOf(upload("u1", jobs.StatusWorking, ""), upload("u2", jobs.StatusSucceeded, ""))
	g.Expect(jobs.AreAllJobsComplete(graph)).Should(BeFalse())

	finished := upload("u1", jobs.StatusFailed, "")
	g.Expect(graph.Put(finished)).Should(Succeed())
	g.Expect(jobs.AreAllJobsComplete(graph)).Should(BeTrue())
}

func TestRetryAndCancelGating(t *testing.T) {
	t.Parallel()

	for _, status := range jobs.AllStatuses() {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			job := upload("u1", status, "")

			g.Expect(jobs.IsComplete(job)).Should(Equal(status.IsTerminal()))
			g.Expect(jobs.CanRetry(job)).Should(Equal(status == jobs.StatusFailed))
			g.Expect(jobs.CanCancel(job)).Should(Equal(!status.IsTerminal()))

			var retryErr *jobs.RetryRejectedError
			g.Expect(errors.As(jobs.CheckRetry(job), &retryErr)).Should(Equal(status != jobs.StatusFailed))

			var cancelErr *jobs.CancelRejectedError
			g.Expect(errors.As(jobs.CheckCancel(job), &cancelErr)).Should(Equal(status.IsTerminal()))
		})
	}
}

func TestCancelled_IsTerminalAndNotRetryable(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	graph := graphOf(upload("u1", jobs.StatusWorking, ""))

	job, _ := graph.Get("u1")
	g.Expect(jobs.CheckCancel(job)).Should(Succeed())
	g.Expect(graph.Put(jobs.Cancelled(job))).Should(Succeed())

	cancelled, _ := graph.Get("u1")
	g.Expect(cancelled.Status).Should(Equal(jobs.StatusUnrecoverable))
	g.Expect(cancelled.ServiceFields.Error).Should(Equal(jobs.CancelReason))
	g.Expect(jobs.CanRetry(cancelled)).Should(BeFalse())

	// A second cancel is rejected before any state change.
	var cancelErr *jobs.CancelRejectedError
	g.Expect(errors.As(jobs.CheckCancel(cancelled), &cancelErr)).Should(BeTrue())
	g.Expect(cancelErr.Status).Should(Equal(jobs.StatusUnrecoverable))

	after, _ := graph.Get("u1")
	g.Expect(after).Should(Equal(cancelled))
}
