package shared

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"

	"github.com/joe/upload-files/internal/copypool"
)

//nolint:gochecknoglobals // Terminal capability is detected once per process
var colorsDisabled = os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"

// ColorsDisabled reports whether progress falls back to plain ASCII.
func ColorsDisabled() bool {
	return colorsDisabled
}

// SetColorsDisabledForTesting overrides terminal detection.
func SetColorsDisabledForTesting(disabled bool) {
	colorsDisabled = disabled
}

// NewProgressModel creates a new progress bar model with the specified width.
func NewProgressModel(width int) progress.Model {
	progressBar := progress.New(progress.WithDefaultGradient())
	progressBar.Width = width
	progressBar.ShowPercentage = false // We render percentage ourselves

	if !colorsDisabled {
		progressBar.EmptyColor = dimColorCode
		progressBar.FullColor = accentColorCode
	}

	return progressBar
}

// RenderASCIIProgress renders fraction (0..1) as a bar of width cells,
// e.g. "[=====>    ] 60%".
func RenderASCIIProgress(fraction float64, width int) string {
	fraction = clamp(fraction)
	width = max(width, 1)

	filled := int(fraction * float64(width))

	var bar string

	switch {
	case fraction >= 1:
		bar = strings.Repeat("=", width)
	case filled > 0:
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(" ", width-filled)
	default:
		bar = strings.Repeat(" ", width)
	}

	return fmt.Sprintf("[%s] %d%%", bar, int(fraction*ProgressPercentageScale))
}

// RenderProgress renders fraction with the bubbles bar, or the ASCII bar when
// colors are disabled (NO_COLOR or TERM=dumb).
func RenderProgress(model progress.Model, fraction float64) string {
	if colorsDisabled {
		return RenderASCIIProgress(fraction, model.Width)
	}

	return fmt.Sprintf("%s %3d%%", model.ViewAs(clamp(fraction)), int(clamp(fraction)*ProgressPercentageScale))
}

// FormatBytes formats n as a human-readable size (e.g. "1.5 GB").
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}

	return humanize.Bytes(uint64(n))
}

// RenderBatchProgress renders a bar followed by "copied / total".
func RenderBatchProgress(model progress.Model, batch copypool.BatchProgress) string {
	return fmt.Sprintf("%s  %s / %s",
		RenderProgress(model, batch.Fraction()),
		FormatBytes(batch.CompletedBytes),
		FormatBytes(batch.TotalBytes))
}

func clamp(fraction float64) float64 {
	return min(max(fraction, 0), 1)
}
