package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/upload-files/internal/tui/shared"
)

// Run shows the progress view until every upload finishes or the user quits.
// bridge must be the emitter the orchestrator was created with.
func Run(ctx context.Context, tracker Tracker, bridge *shared.EventBridge, output io.Writer) (Outcome, error) {
	model := NewModel(tracker, bridge)

	program := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithOutput(output),
		tea.WithoutSignalHandler(),
	)

	final, err := program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return OutcomeRunning, fmt.Errorf("failed to run progress view: %w", err)
	}

	if m, ok := final.(*Model); ok {
		return m.Outcome(), nil
	}

	return model.Outcome(), nil
}
