//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers
	"github.com/spf13/afero"

	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/jobstore"
	"github.com/joe/upload-files/internal/orchestrator"
	"github.com/joe/upload-files/internal/payload"
	"github.com/joe/upload-files/internal/recovery"
	"github.com/joe/upload-files/internal/storage"
	pkgerrors "github.com/joe/upload-files/pkg/errors"
	"github.com/joe/upload-files/pkg/filesystem"
)

//nolint:gochecknoglobals // fixed test clock
var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSubmit_TracksPendingThenAcknowledged(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)

	g.Expect(f.orch.Submit(context.Background(), f.payload(g), "plate-7")).Should(Succeed())

	events := f.emitter.all()
	g.Expect(events).Should(HaveLen(2))

	first, ok := events[0].(orchestrator.JobUpdated)
	g.Expect(ok).Should(BeTrue())
	g.Expect(first.Job.Pending).Should(BeTrue())
	g.Expect(first.Job.Status).Should(Equal(jobs.StatusWaiting))

	promoted, ok := events[1].(orchestrator.JobPromoted)
	g.Expect(ok).Should(BeTrue())
	g.Expect(promoted.PendingID).Should(Equal(first.Job.JobID))
	g.Expect(promoted.Job.JobID).Should(Equal("u1"))

	snapshot := f.orch.Snapshot()
	g.Expect(snapshot).Should(HaveLen(1))
	g.Expect(snapshot[0].JobID).Should(Equal("u1"))
	g.Expect(snapshot[0].Pending).Should(BeFalse())

	g.Expect(f.recoveryNames(g)).Should(Equal([]string{"plate-7"}))
	g.Expect(f.orch.AreAllJobsComplete()).Should(BeFalse())
	g.Expect(f.orch.IsSafeToExit()).Should(BeTrue())
}

func TestSubmit_ValidationFailureCreatesNothing(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)

	err := f.orch.Submit(context.Background(), payload.Payload{}, "plate-7")

	var validationErr *payload.ValidationError
	g.Expect(errors.As(err, &validationErr)).Should(BeTrue())
	g.Expect(f.orch.Snapshot()).Should(BeEmpty())
	g.Expect(f.storage.startCalls()).Should(BeZero())
	g.Expect(f.recoveryNames(g)).Should(BeEmpty())

	alerts := f.emitter.alerts()
	g.Expect(alerts).Should(HaveLen(1))
	g.Expect(alerts[0].Category).Should(Equal(pkgerrors.CategoryValidation))
	g.Expect(alerts[0].Suggestions).ShouldNot(BeEmpty())
}

func TestSubmit_StorageFailureRollsBack(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	refused := errors.New("dial tcp: connection refused")
	f.storage.startErr = refused

	err := f.orch.Submit(context.Background(), f.payload(g), "plate-7")

	var submissionErr *orchestrator.SubmissionError
	g.Expect(errors.As(err, &submissionErr)).Should(BeTrue())
	g.Expect(submissionErr.JobName).Should(Equal("plate-7"))
	g.Expect(errors.Is(err, refused)).Should(BeTrue())

	g.Expect(f.orch.Snapshot()).Should(BeEmpty())
	g.Expect(f.recoveryNames(g)).Should(BeEmpty())
	g.Expect(f.orch.AreAllJobsComplete()).Should(BeTrue())

	var removed bool

	for _, ev := range f.emitter.all() {
		if _, ok := ev.(orchestrator.JobRemoved); ok {
			removed = true
		}
	}

	g.Expect(removed).Should(BeTrue())

	alerts := f.emitter.alerts()
	g.Expect(alerts).Should(HaveLen(1))
	g.Expect(alerts[0].Category).Should(Equal(pkgerrors.CategoryNetwork))
}

func TestSubmit_UpdatesBeforeAcknowledgementWin(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	f.storage.beforeAck = func(obs storage.Observer, upload jobs.Job) {
		obs.JobUpdated(copyJob("c1", upload.JobID, jobs.StatusWorking))

		upload.Status = jobs.StatusWorking
		upload.ServiceFields.CopyJobID = "c1"
		obs.JobUpdated(upload)
	}

	g.Expect(f.orch.Submit(context.Background(), f.payload(g), "plate-7")).Should(Succeed())

	upload, ok := f.orch.Job("u1")
	g.Expect(ok).Should(BeTrue())
	g.Expect(upload.Status).Should(Equal(jobs.StatusWorking))

	for _, job := range f.orch.Snapshot() {
		g.Expect(job.Pending).Should(BeFalse())
	}

	g.Expect(f.orch.Snapshot()).Should(HaveLen(2))
}

func TestLifecycle_SafeToExitAndCompletion(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	g.Expect(f.orch.Submit(context.Background(), f.payload(g), "plate-7")).Should(Succeed())

	upload, _ := f.orch.Job("u1")

	f.storage.push(copyJob("c1", "u1", jobs.StatusWorking))

	upload.Status = jobs.StatusWorking
	upload.ServiceFields.CopyJobID = "c1"
	f.storage.push(upload)

	g.Expect(f.orch.IsSafeToExit()).Should(BeTrue())

	f.storage.push(copyJob("c1", "u1", jobs.StatusSucceeded))
	f.storage.push(jobs.Job{
		JobID: "m1", ParentID: "u1", JobName: "plate-7", Status: jobs.StatusWorking,
		Created: epoch, ServiceFields: jobs.ServiceFields{Type: jobs.TypeAddMetadata},
	})

	g.Expect(f.orch.IsSafeToExit()).Should(BeFalse())
	g.Expect(f.orch.BlockingJobs()).Should(HaveLen(1))
	g.Expect(f.orch.BlockingJobs()[0].JobID).Should(Equal("m1"))

	f.storage.push(jobs.Job{
		JobID: "m1", ParentID: "u1", JobName: "plate-7", Status: jobs.StatusSucceeded,
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeAddMetadata},
	})

	upload.Status = jobs.StatusSucceeded
	f.storage.push(upload)

	g.Expect(f.orch.IsSafeToExit()).Should(BeTrue())
	g.Expect(f.orch.AreAllJobsComplete()).Should(BeTrue())
	g.Expect(f.recoveryNames(g)).Should(BeEmpty())

	var progressed bool

	f.storage.progress("u1")

	for _, ev := range f.emitter.all() {
		if p, ok := ev.(orchestrator.UploadProgress); ok {
			progressed = p.JobName == "plate-7"
		}
	}

	g.Expect(progressed).Should(BeTrue())
}

func TestLifecycle_OutOfDateUpdateIsIgnored(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	g.Expect(f.orch.Submit(context.Background(), f.payload(g), "plate-7")).Should(Succeed())

	upload, _ := f.orch.Job("u1")

	upload.Status = jobs.StatusSucceeded
	f.storage.push(upload)

	upload.Status = jobs.StatusWorking
	f.storage.push(upload)

	current, _ := f.orch.Job("u1")
	g.Expect(current.Status).Should(Equal(jobs.StatusSucceeded))
}

func TestLifecycle_StaleUpdateDoesNotReviveFailedJob(t *testing.T) {
	t.Parallel()

	for _, status := range []jobs.Status{jobs.StatusWorking, jobs.StatusWaiting, jobs.StatusBlocked, jobs.StatusRetrying} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			f := newFixture(t)
			g.Expect(f.orch.Submit(context.Background(), f.payload(g), "plate-7")).Should(Succeed())

			upload, _ := f.orch.Job("u1")
			stale := upload

			upload.Status = jobs.StatusWorking
			f.storage.push(upload)

			upload.Status = jobs.StatusFailed
			upload.Modified = epoch.Add(time.Second)
			f.storage.push(upload)

			stale.Status = status
			f.storage.push(stale)

			current, _ := f.orch.Job("u1")
			g.Expect(current.Status).Should(Equal(jobs.StatusFailed))
			g.Expect(f.orch.AreAllJobsComplete()).Should(BeTrue())
		})
	}
}

func TestRetry_Gating(t *testing.T) {
	t.Parallel()

	for _, status := range jobs.AllStatuses() {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			f := newFixture(t)
			f.seed(g, status)

			err := f.orch.Retry(context.Background(), "u1")

			if status != jobs.StatusFailed {
				var rejected *jobs.RetryRejectedError
				g.Expect(errors.As(err, &rejected)).Should(BeTrue())
				g.Expect(rejected.Status).Should(Equal(status))
				g.Expect(f.storage.retried()).Should(BeEmpty())
				g.Expect(f.emitter.alerts()).ShouldNot(BeEmpty())

				return
			}

			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(f.storage.retried()).Should(Equal([]string{"u1"}))

			upload, _ := f.orch.Job("u1")
			g.Expect(upload.Status).Should(Equal(jobs.StatusRetrying))
			g.Expect(f.recoveryNames(g)).Should(ContainElement("plate-7"))
		})
	}
}

func TestRetry_ChildRetriesWholeUpload(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	f.seed(g, jobs.StatusFailed)
	f.storage.push(copyJob("c1", "u1", jobs.StatusFailed))

	g.Expect(f.orch.Retry(context.Background(), "c1")).Should(Succeed())
	g.Expect(f.storage.retried()).Should(Equal([]string{"u1"}))
}

func TestCancel_Gating(t *testing.T) {
	t.Parallel()

	for _, status := range jobs.AllStatuses() {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			f := newFixture(t)
			f.seed(g, status)

			err := f.orch.Cancel(context.Background(), "u1")

			if !jobs.CanCancel(jobs.Job{Status: status}) {
				var rejected *jobs.CancelRejectedError
				g.Expect(errors.As(err, &rejected)).Should(BeTrue())
				g.Expect(f.storage.cancelled()).Should(BeEmpty())

				return
			}

			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(f.storage.cancelled()).Should(Equal([]string{"u1"}))
		})
	}
}

func TestCancel_MarksUploadAndChildrenUnrecoverable(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	f.seed(g, jobs.StatusWorking)
	f.storage.push(copyJob("c1", "u1", jobs.StatusWorking))

	g.Expect(f.orch.Cancel(context.Background(), "c1")).Should(Succeed())
	g.Expect(f.storage.cancelled()).Should(Equal([]string{"u1"}))

	for _, id := range []string{"u1", "c1"} {
		job, _ := f.orch.Job(id)
		g.Expect(job.Status).Should(Equal(jobs.StatusUnrecoverable), id)
		g.Expect(job.ServiceFields.Error).Should(Equal(jobs.CancelReason), id)
	}

	g.Expect(f.recoveryNames(g)).Should(BeEmpty())
	g.Expect(f.orch.AreAllJobsComplete()).Should(BeTrue())

	var unrecoverable *jobs.UnrecoverableJobError

	alerts := f.emitter.alerts()
	g.Expect(alerts).ShouldNot(BeEmpty())
	g.Expect(errors.As(alerts[len(alerts)-1].Err, &unrecoverable)).Should(BeTrue())
	g.Expect(unrecoverable.JobName).Should(Equal("plate-7"))

	// A second cancel is rejected and changes nothing.
	err := f.orch.Cancel(context.Background(), "u1")

	var rejected *jobs.CancelRejectedError
	g.Expect(errors.As(err, &rejected)).Should(BeTrue())
	g.Expect(f.storage.cancelled()).Should(HaveLen(1))

	job, _ := f.orch.Job("u1")
	g.Expect(job.Status).Should(Equal(jobs.StatusUnrecoverable))
}

func TestCancel_UnknownJob(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)

	err := f.orch.Cancel(context.Background(), "missing")
	g.Expect(errors.Is(err, jobs.ErrJobNotFound)).Should(BeTrue())
}

func TestSyncAndResumable(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	ctx := context.Background()

	unfinished, err := f.service.CreateJob(ctx, jobs.Job{
		JobName: "plate-7", Status: jobs.StatusWorking, Created: epoch,
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeUpload},
	})
	g.Expect(err).ShouldNot(HaveOccurred())

	_, err = f.service.CreateJob(ctx, jobs.Job{
		ParentID: unfinished.JobID, JobName: "plate-7", Status: jobs.StatusWorking, Created: epoch.Add(time.Second),
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeCopy},
	})
	g.Expect(err).ShouldNot(HaveOccurred())

	_, err = f.service.CreateJob(ctx, jobs.Job{
		JobName: "plate-8", Status: jobs.StatusSucceeded, Created: epoch,
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeUpload},
	})
	g.Expect(err).ShouldNot(HaveOccurred())

	for _, name := range []string{"plate-7", "plate-8", "plate-9"} {
		g.Expect(f.recovery.Add(name)).Should(Succeed())
	}

	g.Expect(f.orch.Sync(ctx)).Should(Succeed())
	g.Expect(f.orch.Snapshot()).Should(HaveLen(3))

	resumable, err := f.orch.Resumable()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(resumable).Should(HaveLen(1))
	g.Expect(resumable[0].JobID).Should(Equal(unfinished.JobID))
	g.Expect(f.recoveryNames(g)).Should(Equal([]string{"plate-7"}))

	g.Expect(f.orch.Resume(ctx, unfinished.JobID)).Should(Succeed())
	g.Expect(f.storage.resumed()).Should(Equal([]string{unfinished.JobID}))
}

func TestResume_RejectsFinishedUpload(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	f := newFixture(t)
	f.seed(g, jobs.StatusSucceeded)

	g.Expect(f.orch.Resume(context.Background(), "u1")).ShouldNot(Succeed())
	g.Expect(f.storage.resumed()).Should(BeEmpty())
}

type fixture struct {
	orch     *orchestrator.Orchestrator
	storage  *fakeStorage
	service  *jobstore.Store
	recovery *recovery.List
	emitter  *recorder
	source   *filesystem.AferoFileSystem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	service, err := jobstore.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("failed to open job store: %v", err)
	}

	t.Cleanup(func() { _ = service.Close() })

	source := filesystem.NewMemFileSystem()
	if err := afero.WriteFile(source.Fs(), "/data/a.czi", []byte("alpha"), 0o600); err != nil {
		t.Fatalf("failed to seed source: %v", err)
	}

	f := &fixture{
		storage:  &fakeStorage{jobs: make(map[string]jobs.Job)},
		service:  service,
		recovery: recovery.Open(filepath.Join(dir, "recovery.json")),
		emitter:  &recorder{},
		source:   source,
	}

	f.orch = orchestrator.New(f.storage, service, f.recovery, orchestrator.Options{
		Validator: &payload.SchemaValidator{FS: source},
		Emitter:   f.emitter,
		Now:       func() time.Time { return epoch },
	})

	return f
}

func (f *fixture) payload(g *WithT) payload.Payload {
	p := payload.Payload{}
	g.Expect(p.Add(payload.Record{File: "/data/a.czi", ShouldBeInArchive: true})).Should(Succeed())

	return p
}

// seed submits plate-7 and moves its upload u1 to status.
func (f *fixture) seed(g *WithT, status jobs.Status) {
	g.Expect(f.orch.Submit(context.Background(), f.payload(g), "plate-7")).Should(Succeed())

	if status == jobs.StatusWaiting {
		return
	}

	upload, _ := f.orch.Job("u1")

	if status != jobs.StatusWorking {
		upload.Status = jobs.StatusWorking
		f.storage.push(upload)
	}

	upload.Status = status
	f.storage.push(upload)
}

func (f *fixture) recoveryNames(g *WithT) []string {
	names, err := f.recovery.Names()
	g.Expect(err).ShouldNot(HaveOccurred())

	return names
}

func copyJob(id, parent string, status jobs.Status) jobs.Job {
	return jobs.Job{
		JobID:         id,
		ParentID:      parent,
		JobName:       "plate-7",
		Status:        status,
		Created:       epoch,
		ServiceFields: jobs.ServiceFields{Type: jobs.TypeCopy},
	}
}

// fakeStorage acknowledges uploads as u1, u2, ... and lets tests push updates.
type fakeStorage struct {
	mu sync.Mutex

	startErr  error
	beforeAck func(obs storage.Observer, upload jobs.Job)

	next   int
	starts int
	obs    storage.Observer
	jobs   map[string]jobs.Job

	retriedIDs   []string
	cancelledIDs []string
	resumedIDs   []string
}

func (s *fakeStorage) Start(_ context.Context, req storage.Request, obs storage.Observer) (jobs.Job, error) {
	s.mu.Lock()
	s.starts++

	if s.startErr != nil {
		s.mu.Unlock()

		return jobs.Job{}, s.startErr
	}

	s.next++
	upload := jobs.Job{
		JobID:   fmt.Sprintf("u%d", s.next),
		JobName: req.JobName,
		Status:  jobs.StatusWaiting,
		Created: epoch,
		ServiceFields: jobs.ServiceFields{
			Type:    jobs.TypeUpload,
			Payload: req.Payload,
		},
	}
	s.obs = obs
	s.jobs[upload.JobID] = upload
	beforeAck := s.beforeAck
	s.mu.Unlock()

	if beforeAck != nil {
		beforeAck(obs, upload)
	}

	return upload, nil
}

func (s *fakeStorage) Retry(_ context.Context, upload jobs.Job, obs storage.Observer) (jobs.Job, error) {
	s.mu.Lock()
	s.retriedIDs = append(s.retriedIDs, upload.JobID)
	s.mu.Unlock()

	upload.Status = jobs.StatusRetrying
	upload.ServiceFields.Error = ""
	upload.Modified = upload.Modified.Add(time.Second)
	obs.JobUpdated(upload)

	return upload, nil
}

func (s *fakeStorage) Resume(_ context.Context, upload jobs.Job, _ storage.Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resumedIDs = append(s.resumedIDs, upload.JobID)

	return nil
}

func (s *fakeStorage) Cancel(_ context.Context, jobID string) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelledIDs = append(s.cancelledIDs, jobID)

	return jobs.Cancelled(s.jobs[jobID]), nil
}

func (s *fakeStorage) push(job jobs.Job) {
	s.mu.Lock()
	s.jobs[job.JobID] = job
	obs := s.obs
	s.mu.Unlock()

	obs.JobUpdated(job)
}

func (s *fakeStorage) progress(uploadID string) {
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()

	obs.UploadProgress(uploadID, copyBatch())
}

func (s *fakeStorage) startCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.starts
}

func (s *fakeStorage) retried() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.retriedIDs...)
}

func (s *fakeStorage) cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.cancelledIDs...)
}

func (s *fakeStorage) resumed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.resumedIDs...)
}

type recorder struct {
	mu     sync.Mutex
	events []orchestrator.Event
}

func (r *recorder) Emit(event orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) all() []orchestrator.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]orchestrator.Event(nil), r.events...)
}

func (r *recorder) alerts() []orchestrator.Alert {
	var out []orchestrator.Alert

	for _, ev := range r.all() {
		if alert, ok := ev.(orchestrator.Alert); ok {
			out = append(out, alert)
		}
	}

	return out
}
