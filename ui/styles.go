package ui

import (
	"github.com/charmbracelet/lipgloss"
	te "github.com/muesli/termenv"
)

type styles struct {
	title    lipgloss.Style
	cursor   lipgloss.Style
	item     lipgloss.Style
	playing  lipgloss.Style
	provider lipgloss.Style
	status   lipgloss.Style
	err      lipgloss.Style
	help     lipgloss.Style
}

func newStyles(dark *bool) styles {
	var isDark bool
	if dark != nil {
		isDark = *dark
	} else {
		isDark = te.HasDarkBackground()
	}

	fg, faint := lipgloss.Color("252"), lipgloss.Color("241")
	if !isDark {
		fg, faint = lipgloss.Color("235"), lipgloss.Color("245")
	}

	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginBottom(1),
		cursor:   lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true),
		item:     lipgloss.NewStyle().Foreground(fg),
		playing:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		provider: lipgloss.NewStyle().Foreground(faint),
		status:   lipgloss.NewStyle().Foreground(faint),
		err:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		help:     lipgloss.NewStyle().Foreground(faint).MarginTop(1),
	}
}
