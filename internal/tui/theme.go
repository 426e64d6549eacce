package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for scribeflow terminal output
var (
	// Primary colors
	ColorPrimary   = lipgloss.Color("#0EA5E9") // Sky - main accent
	ColorSecondary = lipgloss.Color("#A78BFA") // Violet - secondary accent

	// Status colors
	ColorSuccess = lipgloss.Color("#22C55E") // Green
	ColorError   = lipgloss.Color("#EF4444") // Red
	ColorWarning = lipgloss.Color("#F59E0B") // Amber

	// Text colors
	ColorText   = lipgloss.Color("#F8FAFC") // Bright white
	ColorMuted  = lipgloss.Color("#94A3B8") // Slate gray
	ColorSubtle = lipgloss.Color("#64748B") // Darker gray
)

// speakerColors cycle across speakers in transcript reports.
var speakerColors = []lipgloss.Color{
	"#38BDF8",
	"#F472B6",
	"#A3E635",
	"#FBBF24",
	"#C084FC",
	"#2DD4BF",
}
