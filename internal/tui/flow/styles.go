package flow

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Catppuccin Mocha
var (
	colorPrimary   = lipgloss.Color("#cba6f7") // Mauve
	colorSecondary = lipgloss.Color("#b4befe") // Lavender
	colorText      = lipgloss.Color("#cdd6f4")
	colorBase      = lipgloss.Color("#1e1e2e")
	colorMantle    = lipgloss.Color("#181825")
	colorSurface0  = lipgloss.Color("#313244")
	colorSurface2  = lipgloss.Color("#585b70")
	colorOverlay0  = lipgloss.Color("#6c7086")
	colorSubtext0  = lipgloss.Color("#a6adc8")
	colorSubtext1  = lipgloss.Color("#bac2de")
	colorGreen     = lipgloss.Color("#a6e3a1")
	colorRed       = lipgloss.Color("#f38ba8")
	colorPeach     = lipgloss.Color("#fab387")
)

var (
	styleModalContainer = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorSecondary).
				Background(colorBase).
				Padding(1, 2)

	styleModalTitle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleStepDone    = lipgloss.NewStyle().Foreground(colorGreen)
	styleStepCurrent = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleStepPending = lipgloss.NewStyle().Foreground(colorOverlay0)

	styleItem         = lipgloss.NewStyle().Foreground(colorText)
	styleItemSelected = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	styleLabel        = lipgloss.NewStyle().Foreground(colorSubtext1)
	styleMuted        = lipgloss.NewStyle().Foreground(colorSubtext0)
	styleError        = lipgloss.NewStyle().Foreground(colorRed)
	styleWarn         = lipgloss.NewStyle().Foreground(colorPeach)
	styleSuccess      = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)

	styleBarFilled = lipgloss.NewStyle().Foreground(colorSecondary)
	styleBarEmpty  = lipgloss.NewStyle().Foreground(colorSurface2)
)

var (
	styleHintKey       = lipgloss.NewStyle().Foreground(colorSubtext1).Bold(true)
	styleHintDesc      = lipgloss.NewStyle().Foreground(colorSubtext0)
	styleHintSeparator = lipgloss.NewStyle().Foreground(colorSurface2)
)

// renderHintBar renders key/description pairs:
// renderHintBar("enter", "next", "esc", "back") -> "enter next • esc back"
func renderHintBar(pairs ...string) string {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		if i > 0 {
			b.WriteString(" " + styleHintSeparator.Render("•") + " ")
		}
		b.WriteString(styleHintKey.Render(pairs[i]) + " " + styleHintDesc.Render(pairs[i+1]))
	}
	return b.String()
}
