package main

import "github.com/charmbracelet/lipgloss"

var (
	// Color palette
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	errorColor   = lipgloss.Color("#FF4B4B")
	mutedColor   = lipgloss.Color("#666666")

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor)

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(successColor)

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	diffHunkStyle = lipgloss.NewStyle().Foreground(mutedColor)
	diffAddStyle  = lipgloss.NewStyle().Foreground(successColor)
	diffDelStyle  = lipgloss.NewStyle().Foreground(errorColor)
)
