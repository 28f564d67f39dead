package tui

import (
	"fmt"
	"strings"

	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/tui/shared"
)

// View implements tea.Model
func (m *Model) View() string {
	var builder strings.Builder

	builder.WriteString(shared.RenderTitle("upload-files"))
	builder.WriteString("\n")

	if len(m.order) == 0 {
		builder.WriteString(m.spinner.View())
		builder.WriteString(" Waiting for uploads...\n")
	}

	for _, id := range m.order {
		m.renderUpload(&builder, m.uploads[id])
	}

	if len(m.alerts) > 0 {
		builder.WriteString("\n")
		builder.WriteString(shared.RenderLabel("Alerts"))
		builder.WriteString("\n")

		for _, alert := range m.alerts {
			renderAlert(&builder, alert.JobName, alert.Err, alert.Suggestions)
		}
	}

	builder.WriteString("\n")
	builder.WriteString(m.renderFooter())

	return builder.String()
}

func (m *Model) renderUpload(builder *strings.Builder, view *uploadView) {
	job := view.job

	marker := " "
	if !job.Status.IsTerminal() {
		marker = m.spinner.View()
	}

	fmt.Fprintf(builder, "%s %s  %s", marker, job.JobName, shared.RenderStatus(job.Status))

	if job.CurrentStage != "" {
		builder.WriteString(shared.RenderDim("  " + job.CurrentStage))
	}

	builder.WriteString("\n")

	switch {
	case job.Status == jobs.StatusSucceeded && view.progress.TotalBytes > 0:
		fmt.Fprintf(builder, "  %s\n", shared.RenderSuccess(shared.FormatBytes(view.progress.TotalBytes)+" uploaded"))
	case job.Status.IsTerminal():
		if job.ServiceFields.Error != "" {
			fmt.Fprintf(builder, "  %s\n", shared.RenderError(job.ServiceFields.Error))
		}
	case view.progress.TotalBytes > 0:
		fmt.Fprintf(builder, "  %s\n", shared.RenderBatchProgress(view.bar, view.progress))
	}
}

func renderAlert(builder *strings.Builder, jobName string, err error, suggestions []string) {
	text := "unknown error"
	if err != nil {
		text = err.Error()
	}

	if jobName != "" {
		text = jobName + ": " + text
	}

	fmt.Fprintf(builder, "  %s\n", shared.RenderError(text))

	for _, suggestion := range suggestions {
		fmt.Fprintf(builder, "    %s\n", shared.RenderDim(shared.Bullet+suggestion))
	}
}

func (m *Model) renderFooter() string {
	if m.warning == nil {
		return shared.RenderDim("Press q or ctrl+c to stop. Interrupted copies can be resumed later.")
	}

	var builder strings.Builder

	builder.WriteString(shared.RenderWarning("Exiting now will interrupt work that cannot be resumed:"))
	builder.WriteString("\n")

	for _, job := range m.warning {
		fmt.Fprintf(&builder, "  %s%s (%s, %s)\n", shared.Bullet, job.JobName, job.ServiceFields.Type, job.Status)
	}

	builder.WriteString(shared.RenderDim("Press ctrl+c again to exit anyway."))

	return builder.String()
}
