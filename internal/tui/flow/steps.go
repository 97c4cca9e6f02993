package flow

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// stepView is one page of the production flow.
type stepView interface {
	Update(msg tea.Msg) tea.Cmd
	View() string
	Focus() tea.Cmd
	Blur()
	SetWidth(width int)
	// Enter lets the step consume enter before it means "next".
	Enter() bool
	// Problem explains why the step is not valid yet; "" means valid.
	Problem() string
	// TakesText reports whether printable keys belong to a text input.
	TakesText() bool
}

func newInput(placeholder string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.Prompt = "› "
	in.SetStyles(textinput.Styles{
		Focused: textinput.StyleState{
			Text:        lipgloss.NewStyle().Foreground(colorText),
			Placeholder: lipgloss.NewStyle().Foreground(colorSubtext0),
			Prompt:      lipgloss.NewStyle().Foreground(colorSecondary),
		},
		Blurred: textinput.StyleState{
			Text:        lipgloss.NewStyle().Foreground(colorSubtext0),
			Placeholder: lipgloss.NewStyle().Foreground(colorSubtext0),
			Prompt:      lipgloss.NewStyle().Foreground(colorOverlay0),
		},
		Cursor: textinput.CursorStyle{
			Color: colorPrimary,
			Shape: tea.CursorBar,
			Blink: true,
		},
	})
	in.SetWidth(50)
	return in
}

// choiceStep picks one of a fixed set of options.
type choiceStep struct {
	prompt   string
	options  []string
	selected int
}

func newChoiceStep(prompt string, options ...string) *choiceStep {
	return &choiceStep{prompt: prompt, options: options}
}

func (c *choiceStep) Value() string { return c.options[c.selected] }

// Select moves the cursor to option if it exists.
func (c *choiceStep) Select(option string) {
	for i, o := range c.options {
		if o == option {
			c.selected = i
			return
		}
	}
}

func (c *choiceStep) Update(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyPressMsg)
	if !ok {
		return nil
	}
	switch key.String() {
	case "up", "k":
		if c.selected > 0 {
			c.selected--
		}
	case "down", "j":
		if c.selected < len(c.options)-1 {
			c.selected++
		}
	}
	return nil
}

func (c *choiceStep) View() string {
	var b strings.Builder
	b.WriteString(styleLabel.Render(c.prompt) + "\n\n")
	for i, o := range c.options {
		if i == c.selected {
			b.WriteString(styleItemSelected.Render("› " + o))
		} else {
			b.WriteString(styleItem.Render("  " + o))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *choiceStep) Focus() tea.Cmd  { return nil }
func (c *choiceStep) Blur()           {}
func (c *choiceStep) SetWidth(int)    {}
func (c *choiceStep) Enter() bool     { return false }
func (c *choiceStep) Problem() string { return "" }
func (c *choiceStep) TakesText() bool { return false }

// shotlistStep collects shot descriptions. Enter with text adds a shot;
// enter on an empty input moves on.
type shotlistStep struct {
	input textinput.Model
	shots []string
}

func newShotlistStep() *shotlistStep {
	return &shotlistStep{input: newInput("Describe a shot...")}
}

func (s *shotlistStep) Shots() []string { return append([]string(nil), s.shots...) }

func (s *shotlistStep) Enter() bool {
	text := strings.TrimSpace(s.input.Value())
	if text == "" {
		return false
	}
	s.shots = append(s.shots, text)
	s.input.SetValue("")
	return true
}

func (s *shotlistStep) Update(msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyPressMsg); ok && key.String() == "ctrl+x" {
		if n := len(s.shots); n > 0 {
			s.shots = s.shots[:n-1]
		}
		return nil
	}
	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)
	return cmd
}

func (s *shotlistStep) View() string {
	var b strings.Builder
	b.WriteString(styleLabel.Render("Shots") + "\n\n")
	if len(s.shots) == 0 {
		b.WriteString(styleMuted.Render("  No shots yet") + "\n")
	}
	for i, shot := range s.shots {
		b.WriteString(styleItem.Render(fmt.Sprintf("  %d. %s", i+1, shot)) + "\n")
	}
	b.WriteString("\n" + s.input.View())
	return b.String()
}

func (s *shotlistStep) Focus() tea.Cmd     { return s.input.Focus() }
func (s *shotlistStep) Blur()              { s.input.Blur() }
func (s *shotlistStep) SetWidth(width int) { s.input.SetWidth(max(width-10, 20)) }
func (s *shotlistStep) TakesText() bool    { return true }

func (s *shotlistStep) Problem() string {
	if len(s.shots) == 0 {
		return "Add at least one shot"
	}
	return ""
}

// castWorldStep takes a comma-separated cast and a world description.
type castWorldStep struct {
	cast  textinput.Model
	world textinput.Model
	focus int // 0=cast, 1=world
}

func newCastWorldStep() *castWorldStep {
	return &castWorldStep{
		cast:  newInput("Mara, The Courier, ..."),
		world: newInput("Rain-soaked neon city, 2089"),
	}
}

func (c *castWorldStep) Cast() []string {
	var out []string
	for name := range strings.SplitSeq(c.cast.Value(), ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (c *castWorldStep) World() string { return strings.TrimSpace(c.world.Value()) }

// Enter on the cast field moves to the world field.
func (c *castWorldStep) Enter() bool {
	if c.focus == 0 {
		c.setFocus(1)
		return true
	}
	return false
}

func (c *castWorldStep) setFocus(i int) tea.Cmd {
	c.focus = i
	if i == 0 {
		c.world.Blur()
		return c.cast.Focus()
	}
	c.cast.Blur()
	return c.world.Focus()
}

func (c *castWorldStep) Update(msg tea.Msg) tea.Cmd {
	if key, ok := msg.(tea.KeyPressMsg); ok {
		switch key.String() {
		case "tab", "shift+tab", "up", "down":
			return c.setFocus(1 - c.focus)
		}
	}
	var cmd tea.Cmd
	if c.focus == 0 {
		c.cast, cmd = c.cast.Update(msg)
	} else {
		c.world, cmd = c.world.Update(msg)
	}
	return cmd
}

func (c *castWorldStep) View() string {
	return strings.Join([]string{
		styleLabel.Render("Cast"),
		c.cast.View(),
		"",
		styleLabel.Render("World"),
		c.world.View(),
	}, "\n")
}

func (c *castWorldStep) Focus() tea.Cmd { return c.setFocus(0) }

func (c *castWorldStep) Blur() {
	c.cast.Blur()
	c.world.Blur()
}

func (c *castWorldStep) SetWidth(width int) {
	c.cast.SetWidth(max(width-10, 20))
	c.world.SetWidth(max(width-10, 20))
}

func (c *castWorldStep) TakesText() bool { return true }

func (c *castWorldStep) Problem() string {
	if c.World() == "" {
		return "Describe the world"
	}
	return ""
}
