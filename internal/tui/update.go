package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/upload-files/internal/orchestrator"
	"github.com/joe/upload-files/internal/tui/shared"
)

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case shared.OrchestratorEventMsg:
		m.handleEvent(msg.Event)

		if cmd := m.checkComplete(); cmd != nil {
			return m, cmd
		}

		return m, m.bridge.ListenCmd()
	case shared.TickMsg:
		if cmd := m.checkComplete(); cmd != nil {
			return m, cmd
		}

		return m, shared.TickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m *Model) handleEvent(event orchestrator.Event) {
	switch ev := event.(type) {
	case orchestrator.JobUpdated:
		if ev.Job.IsUpload() {
			m.upsert(ev.Job)
		}
	case orchestrator.JobPromoted:
		m.rename(ev.PendingID, ev.Job)
	case orchestrator.JobRemoved:
		m.remove(ev.JobID)
	case orchestrator.UploadProgress:
		if view, ok := m.uploads[ev.UploadID]; ok {
			view.progress = ev.Progress
		}
	case orchestrator.Alert:
		m.pushAlert(ev)
	}

	// Any change may have made exit safe again.
	if m.warning != nil && m.tracker.IsSafeToExit() {
		m.warning = nil
	}
}

func (m *Model) checkComplete() tea.Cmd {
	if len(m.order) == 0 || !m.tracker.AreAllJobsComplete() {
		return nil
	}

	m.outcome = OutcomeComplete

	return tea.Quit
}

// handleKeyMsg quits on ctrl+c or q when nothing would be lost. Otherwise the
// first press lists the blocking jobs and a second press forces the exit.
func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case shared.KeyCtrlC, "q":
	default:
		return m, nil
	}

	if m.tracker.IsSafeToExit() {
		m.outcome = OutcomeInterrupted

		return m, tea.Quit
	}

	if m.warning != nil {
		m.outcome = OutcomeForced

		return m, tea.Quit
	}

	m.warning = m.tracker.BlockingJobs()

	return m, nil
}

func (m *Model) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.barWidth = min(max(msg.Width-4*shared.DefaultPadding-30, 10), shared.MaxProgressBarWidth)

	for _, view := range m.uploads {
		view.bar.Width = m.barWidth
	}

	return m, nil
}
