// Package flow hosts the production wizard and the job progress view as
// bubbletea programs.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	uv "github.com/charmbracelet/ultraviolet"

	"github.com/mark3labs/reelsmith/internal/wizard"
)

// ErrCancelled is returned by Run when the user leaves the wizard.
var ErrCancelled = errors.New("wizard cancelled by user")

var (
	kinds       = []string{"short", "longform", "trailer", "music-video"}
	audioModes  = []string{"narration", "music", "none"}
	resolutions = []string{"720p", "1080p", "4k"}
)

// Brief is what the production wizard collects.
type Brief struct {
	Kind       string   `json:"kind"`
	Shots      []string `json:"shots"`
	Cast       []string `json:"cast,omitempty"`
	World      string   `json:"world"`
	Audio      string   `json:"audio"`
	Resolution string   `json:"resolution"`
}

// Model is the bubbletea model for the production wizard.
type Model struct {
	ctrl *wizard.Controller

	kind       *choiceStep
	shotlist   *shotlistStep
	castWorld  *castWorldStep
	audio      *choiceStep
	resolution *choiceStep

	problem   string
	finished  bool
	cancelled bool
	width     int
	height    int
}

// NewModel builds the wizard over the production steps.
func NewModel() (*Model, error) {
	m := &Model{
		kind:       newChoiceStep("What are we making?", kinds...),
		shotlist:   newShotlistStep(),
		castWorld:  newCastWorldStep(),
		audio:      newChoiceStep("Soundtrack", audioModes...),
		resolution: newChoiceStep("Export resolution", resolutions...),
	}
	m.resolution.Select("1080p")

	ctrl, err := wizard.New(wizard.ProductionSteps(), wizard.WithValidator(func(n int) bool {
		s := m.step(n)
		return s != nil && s.Problem() == ""
	}))
	if err != nil {
		return nil, err
	}
	m.ctrl = ctrl
	return m, nil
}

// Run shows the wizard and returns the collected brief.
func Run(ctx context.Context) (Brief, error) {
	m, err := NewModel()
	if err != nil {
		return Brief{}, err
	}

	final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if err != nil {
		return Brief{}, fmt.Errorf("wizard failed: %w", err)
	}
	fm, ok := final.(*Model)
	if !ok {
		return Brief{}, errors.New("unexpected model type")
	}
	if !fm.finished {
		return Brief{}, ErrCancelled
	}
	return fm.Brief(), nil
}

func (m *Model) step(n int) stepView {
	switch n {
	case wizard.StepType:
		return m.kind
	case wizard.StepShotlist:
		return m.shotlist
	case wizard.StepCastWorld:
		return m.castWorld
	case wizard.StepAudio:
		return m.audio
	case wizard.StepExport:
		return m.resolution
	}
	return nil
}

func (m *Model) current() stepView { return m.step(m.ctrl.CurrentStep()) }

// Controller exposes the underlying step machine.
func (m *Model) Controller() *wizard.Controller { return m.ctrl }

func (m *Model) Finished() bool  { return m.finished }
func (m *Model) Cancelled() bool { return m.cancelled }

// Brief returns the values entered so far.
func (m *Model) Brief() Brief {
	return Brief{
		Kind:       m.kind.Value(),
		Shots:      m.shotlist.Shots(),
		Cast:       m.castWorld.Cast(),
		World:      m.castWorld.World(),
		Audio:      m.audio.Value(),
		Resolution: m.resolution.Value(),
	}
}

func (m *Model) Init() tea.Cmd {
	return m.current().Focus()
}

// moveTo runs fn, which may change the current step, and moves focus along.
func (m *Model) moveTo(fn func()) tea.Cmd {
	before := m.ctrl.CurrentStep()
	fn()
	if m.ctrl.CurrentStep() == before {
		return nil
	}
	m.step(before).Blur()
	m.problem = ""
	return m.current().Focus()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for n := 1; n <= m.ctrl.StepCount(); n++ {
			m.step(n).SetWidth(m.contentWidth())
		}
		return m, nil

	case tea.KeyPressMsg:
		switch key := msg.String(); key {
		case "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		case "esc":
			if !m.ctrl.CanGoBack() {
				m.cancelled = true
				return m, tea.Quit
			}
			return m, m.moveTo(m.ctrl.PreviousStep)
		case "enter":
			return m, m.enter()
		case "s":
			if m.ctrl.Current().Skippable && !m.current().TakesText() {
				return m, m.skip()
			}
		case "1", "2", "3", "4", "5", "6", "7", "8", "9":
			if !m.current().TakesText() {
				n, _ := strconv.Atoi(key)
				return m, m.moveTo(func() { m.ctrl.GoToStep(n) })
			}
		}
	}

	return m, m.current().Update(msg)
}

func (m *Model) enter() tea.Cmd {
	cur := m.current()
	if cur.Enter() {
		m.problem = ""
		return nil
	}

	if m.ctrl.IsLastStep() {
		// Digit jumps can reach the end past steps that never validated.
		if n := m.ctrl.FirstInvalidStep(); n != 0 {
			cmd := m.moveTo(func() { m.ctrl.GoToStep(n) })
			m.problem = m.step(n).Problem()
			return cmd
		}
		m.ctrl.MarkStepCompleted(m.ctrl.CurrentStep())
		m.finished = true
		return tea.Quit
	}

	var advanced bool
	cmd := m.moveTo(func() { advanced = m.ctrl.Advance() })
	if !advanced {
		m.problem = cur.Problem()
	}
	return cmd
}

// skip leaves an optional step without content. A skipped soundtrack means
// no audio.
func (m *Model) skip() tea.Cmd {
	n := m.ctrl.CurrentStep()
	var skipped bool
	cmd := m.moveTo(func() { skipped = m.ctrl.Skip() })
	if skipped && n == wizard.StepAudio {
		m.audio.Select("none")
	}
	return cmd
}

func (m *Model) contentWidth() int {
	return min(max(m.width-10, 60), 100)
}

func (m *Model) View() tea.View {
	var view tea.View
	view.AltScreen = true

	if m.width == 0 || m.height == 0 {
		view.Content = lipgloss.NewLayer("")
		return view
	}

	centered := lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.render())

	canvas := uv.NewScreenBuffer(m.width, m.height)
	uv.NewStyledString(centered).Draw(canvas, uv.Rectangle{
		Min: uv.Position{X: 0, Y: 0},
		Max: uv.Position{X: m.width, Y: m.height},
	})
	view.Content = lipgloss.NewLayer(canvas.Render())
	return view
}

// render draws the modal: title, step strip, step body, problem line,
// buttons and hints.
func (m *Model) render() string {
	width := m.contentWidth()
	cur := m.ctrl.Current()

	sections := []string{
		styleModalTitle.Render(fmt.Sprintf("Step %d of %d: %s", cur.Number, m.ctrl.StepCount(), cur.Title)),
		m.renderStepStrip(),
		"",
		m.current().View(),
		"",
	}
	if m.problem != "" {
		sections = append(sections, styleError.Render(m.problem), "")
	}

	nextLabel := "Next →"
	if m.ctrl.IsLastStep() {
		nextLabel = "Finish"
	}
	valid := m.ctrl.ValidateStep(m.ctrl.CurrentStep())
	bar := NewButtonBar(navButtons(m.ctrl.CanGoBack(), valid, nextLabel))
	bar.SetWidth(width - 4)
	sections = append(sections, bar.Render(), "", m.renderHints())

	return styleModalContainer.Width(width).Render(strings.Join(sections, "\n"))
}

func (m *Model) renderStepStrip() string {
	parts := make([]string, 0, m.ctrl.StepCount())
	for _, s := range m.ctrl.Steps() {
		label := fmt.Sprintf("%d %s", s.Number, s.Title)
		switch {
		case s.Number == m.ctrl.CurrentStep():
			parts = append(parts, styleStepCurrent.Render("› "+label))
		case m.ctrl.IsCompleted(s.Number):
			parts = append(parts, styleStepDone.Render("✓ "+label))
		default:
			parts = append(parts, styleStepPending.Render("  "+label))
		}
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderHints() string {
	back := "back"
	if !m.ctrl.CanGoBack() {
		back = "cancel"
	}
	switch m.ctrl.CurrentStep() {
	case wizard.StepShotlist:
		return renderHintBar("enter", "add / next", "ctrl+x", "remove last", "esc", back)
	case wizard.StepCastWorld:
		return renderHintBar("tab", "switch field", "enter", "next", "esc", back)
	case wizard.StepAudio:
		return renderHintBar("↑↓", "choose", "s", "skip", "enter", "next", "esc", back)
	default:
		return renderHintBar("↑↓", "choose", "1-5", "jump", "enter", "next", "esc", back)
	}
}
