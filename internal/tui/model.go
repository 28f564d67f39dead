// Package tui renders upload progress, job statuses and alerts in the terminal
// while the orchestrator works.
package tui

import (
	"slices"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joe/upload-files/internal/copypool"
	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/orchestrator"
	"github.com/joe/upload-files/internal/tui/shared"
)

// MaxAlerts is how many alerts stay on screen.
const MaxAlerts = 5

// Tracker answers the lifecycle questions the view needs. *orchestrator.Orchestrator
// satisfies it.
type Tracker interface {
	Snapshot() []jobs.Job
	IsSafeToExit() bool
	BlockingJobs() []jobs.Job
	AreAllJobsComplete() bool
}

// Outcome says why the program stopped.
type Outcome int

// Outcomes.
const (
	OutcomeRunning Outcome = iota
	// OutcomeComplete means every upload reached a terminal status.
	OutcomeComplete
	// OutcomeInterrupted means the user quit while it was safe to do so.
	OutcomeInterrupted
	// OutcomeForced means the user quit despite the unsafe-exit warning.
	OutcomeForced
)

type uploadView struct {
	job      jobs.Job
	progress copypool.BatchProgress
	bar      progress.Model
}

// Model is the bubble tea model for an upload run.
type Model struct {
	tracker Tracker
	bridge  *shared.EventBridge

	spinner spinner.Model
	order   []string
	uploads map[string]*uploadView
	alerts  []orchestrator.Alert

	width    int
	warning  []jobs.Job
	outcome  Outcome
	barWidth int
}

// NewModel creates the model. Uploads already known to tracker are shown at once.
func NewModel(tracker Tracker, bridge *shared.EventBridge) *Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(shared.PrimaryColor())

	m := &Model{
		tracker:  tracker,
		bridge:   bridge,
		spinner:  spin,
		uploads:  make(map[string]*uploadView),
		barWidth: shared.ProgressBarWidth,
	}

	for _, job := range tracker.Snapshot() {
		if job.IsUpload() {
			m.upsert(job)
		}
	}

	return m
}

// Outcome returns why the program stopped, or OutcomeRunning.
func (m *Model) Outcome() Outcome {
	return m.outcome
}

// Alerts returns the alerts currently shown.
func (m *Model) Alerts() []orchestrator.Alert {
	return slices.Clone(m.alerts)
}

// UploadIDs returns the displayed uploads in the order they appeared.
func (m *Model) UploadIDs() []string {
	return slices.Clone(m.order)
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.bridge.ListenCmd(),
		shared.TickCmd(),
	)
}

func (m *Model) upsert(job jobs.Job) *uploadView {
	view, ok := m.uploads[job.JobID]
	if !ok {
		view = &uploadView{bar: shared.NewProgressModel(m.barWidth)}
		m.uploads[job.JobID] = view
		m.order = append(m.order, job.JobID)
	}

	view.job = job

	return view
}

func (m *Model) remove(jobID string) {
	delete(m.uploads, jobID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == jobID })
}

// rename moves a pending upload's row to its acknowledged id, keeping its place.
func (m *Model) rename(pendingID string, job jobs.Job) {
	view, ok := m.uploads[pendingID]
	if !ok {
		m.upsert(job)

		return
	}

	delete(m.uploads, pendingID)

	if existing, dup := m.uploads[job.JobID]; dup {
		// Storage reported on the real id before the promotion arrived.
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == pendingID })
		existing.job = job

		return
	}

	idx := slices.Index(m.order, pendingID)
	m.order[idx] = job.JobID
	view.job = job
	m.uploads[job.JobID] = view
}

func (m *Model) pushAlert(alert orchestrator.Alert) {
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > MaxAlerts {
		m.alerts = m.alerts[len(m.alerts)-MaxAlerts:]
	}
}
