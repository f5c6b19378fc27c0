package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorPrimary = lipgloss.Color("#bd93f9") // Dracula Purple
	colorSuccess = lipgloss.Color("#50fa7b") // Dracula Green
	colorError   = lipgloss.Color("#ff5555") // Dracula Red
	colorWarning = lipgloss.Color("#ffb86c") // Dracula Orange
	colorText    = lipgloss.Color("#f8f8f2") // Dracula Foreground
	colorSubtext = lipgloss.Color("#6272a4") // Dracula Comment

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	itemStyle = lipgloss.NewStyle().
			Foreground(colorText)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorSubtext)

	statusStyles = map[string]lipgloss.Style{
		"pending":   lipgloss.NewStyle().Foreground(colorSubtext),
		"uploading": lipgloss.NewStyle().Foreground(colorPrimary),
		"retrying":  lipgloss.NewStyle().Foreground(colorWarning),
		"completed": lipgloss.NewStyle().Foreground(colorSuccess),
		"failed":    lipgloss.NewStyle().Foreground(colorError),
		"cancelled": lipgloss.NewStyle().Foreground(colorSubtext),
	}
)
