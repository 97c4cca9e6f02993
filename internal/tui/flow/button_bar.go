package flow

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// ButtonState is the visual state of a button.
type ButtonState int

const (
	ButtonNormal ButtonState = iota
	ButtonDisabled
	ButtonFocused
)

// Button is one entry in a ButtonBar.
type Button struct {
	Label string
	State ButtonState
}

// ButtonBar renders a centered row of buttons.
type ButtonBar struct {
	buttons []Button
	width   int
}

func NewButtonBar(buttons []Button) *ButtonBar {
	return &ButtonBar{buttons: buttons, width: 60}
}

func (b *ButtonBar) SetWidth(width int) { b.width = width }

func (b *ButtonBar) Render() string {
	if len(b.buttons) == 0 {
		return ""
	}

	base := lipgloss.NewStyle().Padding(0, 2).MarginLeft(1).MarginRight(1)
	styles := map[ButtonState]lipgloss.Style{
		ButtonNormal:   base.Foreground(colorText).Background(colorSurface0),
		ButtonDisabled: base.Foreground(colorOverlay0).Background(colorMantle),
		ButtonFocused:  base.Foreground(colorBase).Background(colorSecondary).Bold(true),
	}

	rendered := make([]string, 0, len(b.buttons))
	for _, btn := range b.buttons {
		rendered = append(rendered, styles[btn.State].Render(btn.Label))
	}
	return lipgloss.Place(b.width, 1, lipgloss.Center, lipgloss.Center, strings.Join(rendered, ""))
}

// navButtons builds the Back/Next pair. Next is focused when the step
// validates and disabled otherwise.
func navButtons(canGoBack, valid bool, nextLabel string) []Button {
	back := Button{Label: "← Back"}
	if !canGoBack {
		back.State = ButtonDisabled
	}

	next := Button{Label: nextLabel, State: ButtonFocused}
	if !valid {
		next.State = ButtonDisabled
	}
	return []Button{back, next}
}
