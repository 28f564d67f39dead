package cli

import (
	"github.com/rs/zerolog"

	"github.com/joe/upload-files/internal/orchestrator"
	"github.com/joe/upload-files/internal/tui/shared"
)

// logEmitter reports orchestrator events as log lines when there is no terminal UI.
type logEmitter struct {
	logger zerolog.Logger
}

func (e *logEmitter) Emit(event orchestrator.Event) {
	switch ev := event.(type) {
	case orchestrator.JobUpdated:
		job := ev.Job
		if !job.IsUpload() {
			e.logger.Debug().
				Str("job_id", job.JobID).
				Str("type", string(job.ServiceFields.Type)).
				Str("status", string(job.Status)).
				Msg("job updated")

			return
		}

		e.logger.Info().
			Str("job_id", job.JobID).
			Str("job_name", job.JobName).
			Str("status", string(job.Status)).
			Str("stage", job.CurrentStage).
			Msg("upload updated")
	case orchestrator.JobPromoted:
		e.logger.Debug().Str("pending_id", ev.PendingID).Str("job_id", ev.Job.JobID).Msg("upload acknowledged")
	case orchestrator.JobRemoved:
		e.logger.Debug().Str("job_id", ev.JobID).Msg("pending upload removed")
	case orchestrator.UploadProgress:
		e.logger.Info().
			Str("job_id", ev.UploadID).
			Str("job_name", ev.JobName).
			Str("copied", shared.FormatBytes(ev.Progress.CompletedBytes)).
			Str("total", shared.FormatBytes(ev.Progress.TotalBytes)).
			Int("percent", int(ev.Progress.Fraction()*shared.ProgressPercentageScale)).
			Msg("copy progress")
	case orchestrator.Alert:
		e.logger.Error().
			Err(ev.Err).
			Str("job_id", ev.JobID).
			Str("job_name", ev.JobName).
			Str("category", string(ev.Category)).
			Strs("suggestions", ev.Suggestions).
			Msg("upload alert")
	}
}
