package main

import (
	"github.com/charmbracelet/lipgloss"

	"wolfden/internal/den"
)

type uiTheme struct {
	root         lipgloss.Style
	header       lipgloss.Style
	title        lipgloss.Style
	panel        lipgloss.Style
	panelTitle   lipgloss.Style
	footer       lipgloss.Style
	status       lipgloss.Style
	errorStatus  lipgloss.Style
	inputPanel   lipgloss.Style
	helpText     lipgloss.Style
	statKey      lipgloss.Style
	statValue    lipgloss.Style
	online       lipgloss.Style
	offline      lipgloss.Style
	trophyEarned lipgloss.Style
	trophyLocked lipgloss.Style
	badge        map[den.AgentState]lipgloss.Style
	feedKind     map[den.Kind]lipgloss.Style
	campfire     map[string]lipgloss.Style
}

func newTheme() uiTheme {
	amber := lipgloss.Color("#f4a259")
	moon := lipgloss.Color("#8ecae6")
	pine := lipgloss.Color("#52b788")
	ember := lipgloss.Color("#e63946")
	violet := lipgloss.Color("#b197fc")
	bg := lipgloss.Color("#0d1321")
	panelBg := lipgloss.Color("#1d2d44")
	text := lipgloss.Color("#f0ebd8")
	muted := lipgloss.Color("#8d99ae")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1),
		title: lipgloss.NewStyle().Foreground(amber).Bold(true),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(moon).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(pine).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(moon).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(ember).Bold(true),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pine).
			Padding(0, 1),
		helpText:     lipgloss.NewStyle().Foreground(muted),
		statKey:      lipgloss.NewStyle().Foreground(moon),
		statValue:    lipgloss.NewStyle().Foreground(text).Bold(true),
		online:       lipgloss.NewStyle().Foreground(pine).Bold(true),
		offline:      lipgloss.NewStyle().Foreground(ember).Bold(true),
		trophyEarned: lipgloss.NewStyle().Foreground(amber).Bold(true),
		trophyLocked: lipgloss.NewStyle().Foreground(muted).Faint(true),
		badge: map[den.AgentState]lipgloss.Style{
			den.StateIdle:     lipgloss.NewStyle().Foreground(bg).Background(moon).Bold(true).Padding(0, 1),
			den.StateWorking:  lipgloss.NewStyle().Foreground(bg).Background(amber).Bold(true).Padding(0, 1),
			den.StateDreaming: lipgloss.NewStyle().Foreground(bg).Background(violet).Bold(true).Padding(0, 1),
			den.StateAlert:    lipgloss.NewStyle().Foreground(text).Background(ember).Bold(true).Padding(0, 1),
		},
		feedKind: map[den.Kind]lipgloss.Style{
			den.KindSuccess: lipgloss.NewStyle().Foreground(pine),
			den.KindError:   lipgloss.NewStyle().Foreground(ember),
			den.KindVigil:   lipgloss.NewStyle().Foreground(amber),
			den.KindDream:   lipgloss.NewStyle().Foreground(violet),
			den.KindRule:    lipgloss.NewStyle().Foreground(moon),
			den.KindInfo:    lipgloss.NewStyle().Foreground(muted),
		},
		campfire: map[string]lipgloss.Style{
			"high":   lipgloss.NewStyle().Foreground(amber).Bold(true),
			"steady": lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb703")),
			"low":    lipgloss.NewStyle().Foreground(muted),
		},
	}
}
