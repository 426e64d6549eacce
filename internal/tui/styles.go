package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles are bound to a renderer so reports written to a pipe or a test
// buffer degrade to plain text.
type Styles struct {
	Header  lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Subtle  lipgloss.Style
	Box     lipgloss.Style
	Speaker func(id int) lipgloss.Style
}

func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Header:  r.NewStyle().Bold(true).Foreground(ColorPrimary).MarginBottom(1),
		Label:   r.NewStyle().Foreground(ColorText).Bold(true),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Error:   r.NewStyle().Foreground(ColorError).Bold(true),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Muted:   r.NewStyle().Foreground(ColorMuted),
		Subtle:  r.NewStyle().Foreground(ColorSubtle).Italic(true),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(0, 1),
		Speaker: func(id int) lipgloss.Style {
			if id < 0 {
				return r.NewStyle().Foreground(ColorMuted).Bold(true)
			}
			return r.NewStyle().Foreground(speakerColors[id%len(speakerColors)]).Bold(true)
		},
	}
}

// Default styles render to stdout.
var Default = NewStyles(lipgloss.DefaultRenderer())

const logoASCII = `
               _ _       __ _
 ___  ___ _ __(_) |__   / _| | _____      __
/ __|/ __| '__| | '_ \ | |_| |/ _ \ \ /\ / /
\__ \ (__| |  | | |_) ||  _| | (_) \ V  V /
|___/\___|_|  |_|_.__/ |_| |_|\___/ \_/\_/  `

// Logo returns the scribeflow ASCII art
func Logo() string {
	return Default.Header.Render(strings.Trim(logoASCII, "\n"))
}
