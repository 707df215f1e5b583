package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"video-extender/internal/domain"
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	styleLabel = lipgloss.NewStyle().Bold(true)
	styleDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3fb950"))
	styleFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#d29922"))
)

const barWidth = 30

// progressBar renders percent as a fixed-width bar.
func progressBar(percent int) string {
	percent = min(max(percent, 0), 100)
	filled := percent * barWidth / 100
	return styleOK.Render(strings.Repeat("█", filled)) +
		styleDim.Render(strings.Repeat("░", barWidth-filled)) +
		fmt.Sprintf(" %3d%%", percent)
}

// statusStyle colours a job status by outcome.
func statusStyle(s domain.JobStatus) lipgloss.Style {
	switch s {
	case domain.JobStatusDone:
		return styleOK
	case domain.JobStatusFailed:
		return styleFail
	case domain.JobStatusCancelled:
		return styleWarn
	default:
		return styleDim
	}
}
