package main

import "github.com/charmbracelet/lipgloss"

// Centralized style definitions for the TUI.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))             // gray
	sentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))             // red
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))             // yellow
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))             // magenta

	// Error block style.
	errorBlockStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("1"))
)

// Event markers.
const (
	markSent   = "✓"
	markFailed = "✗"
	markInfo   = "•"
)
