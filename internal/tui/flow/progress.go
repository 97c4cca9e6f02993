package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/mark3labs/reelsmith/internal/tracker"
)

type snapshotMsg struct{ snap tracker.Snapshot }

type subscriptionClosedMsg struct{}

type cancelResultMsg struct{ err error }

// waitForSnapshot blocks on the subscription and hands the next value to
// the program.
func waitForSnapshot(ch <-chan tracker.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return subscriptionClosedMsg{}
		}
		return snapshotMsg{snap: snap}
	}
}

// ProgressModel shows a job's progress as it is polled.
type ProgressModel struct {
	jobID   string
	updates <-chan tracker.Snapshot
	cancel  func() error
	spinner spinner.Model
	width   int

	latest     tracker.Snapshot
	have       bool
	settled    bool
	closed     bool
	detached   bool
	cancelling bool
	cancelled  bool
	cancelErr  error
}

// NewProgress renders snapshots arriving on updates. cancel, if non-nil, is
// invoked when the user presses x.
func NewProgress(jobID string, updates <-chan tracker.Snapshot, cancel func() error) *ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPrimary)

	return &ProgressModel{
		jobID:   jobID,
		updates: updates,
		cancel:  cancel,
		spinner: s,
		width:   60,
	}
}

// RunProgress shows m until the job settles or the user leaves. It returns
// the last snapshot seen.
func RunProgress(ctx context.Context, m *ProgressModel) (tracker.Snapshot, error) {
	final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("progress view failed: %w", err)
	}
	pm, ok := final.(*ProgressModel)
	if !ok {
		return tracker.Snapshot{}, errors.New("unexpected model type")
	}
	return pm.latest, nil
}

// Latest returns the most recent snapshot, if any arrived.
func (m *ProgressModel) Latest() (tracker.Snapshot, bool) { return m.latest, m.have }

// Settled reports whether a terminal snapshot was received.
func (m *ProgressModel) Settled() bool { return m.settled }

// Detached reports whether the view closed before the job settled.
func (m *ProgressModel) Detached() bool { return m.detached }

// Cancelled reports whether a cancel request from the view was accepted.
func (m *ProgressModel) Cancelled() bool { return m.cancelled }

// CancelErr is the error from the last cancel request, if it failed.
func (m *ProgressModel) CancelErr() error { return m.cancelErr }

func (m *ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = min(max(msg.Width-4, 20), 80)
		return m, nil

	case snapshotMsg:
		if msg.snap.JobID != "" && msg.snap.JobID != m.jobID {
			return m, waitForSnapshot(m.updates)
		}
		m.latest = msg.snap
		m.have = true
		if msg.snap.Status.IsTerminal() {
			m.settled = true
			return m, tea.Quit
		}
		return m, waitForSnapshot(m.updates)

	case subscriptionClosedMsg:
		m.closed = true
		if m.cancelling {
			return m, nil
		}
		if !m.settled {
			m.detached = true
		}
		return m, tea.Quit

	case cancelResultMsg:
		m.cancelling = false
		m.cancelErr = msg.err
		if msg.err == nil {
			m.cancelled = true
			return m, tea.Quit
		}
		if m.closed {
			m.detached = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.settled {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.detached = true
			return m, tea.Quit
		case "x":
			if m.cancel == nil || m.cancelling {
				return m, nil
			}
			m.cancelling = true
			cancel := m.cancel
			return m, func() tea.Msg { return cancelResultMsg{err: cancel()} }
		}
	}
	return m, nil
}

func (m *ProgressModel) View() tea.View {
	var view tea.View
	view.Content = lipgloss.NewLayer(m.render())
	return view
}

func (m *ProgressModel) render() string {
	var b strings.Builder

	status := "waiting"
	if m.have {
		status = string(m.latest.Status)
	}
	head := fmt.Sprintf("Job %s  %s", m.jobID, statusStyle(m.latest.Status, m.have).Render(status))
	if !m.settled {
		head = m.spinner.View() + " " + head
	}
	b.WriteString(head + "\n")

	pct := m.latest.Percent()
	b.WriteString(renderBar(pct, m.width) + fmt.Sprintf(" %3.0f%%", pct))
	if m.latest.Total > 0 {
		b.WriteString(styleMuted.Render(fmt.Sprintf("  %d/%d segments", m.latest.Completed, m.latest.Total)))
	}
	b.WriteString("\n")

	switch {
	case m.latest.Status == tracker.StatusFailed && m.latest.Error != "":
		b.WriteString(styleError.Render(m.latest.Error) + "\n")
	case m.latest.Status == tracker.StatusDone && m.latest.ResultURL != "":
		b.WriteString(styleLabel.Render("Result: ") + m.latest.ResultURL + "\n")
	case m.cancelling:
		b.WriteString(styleWarn.Render("Cancelling...") + "\n")
	case m.cancelErr != nil:
		b.WriteString(styleError.Render("Cancel failed: "+m.cancelErr.Error()) + "\n")
	}

	if !m.settled {
		pairs := []string{"q", "detach"}
		if m.cancel != nil {
			pairs = append([]string{"x", "cancel job"}, pairs...)
		}
		b.WriteString(renderHintBar(pairs...) + "\n")
	}
	return b.String()
}

func statusStyle(s tracker.Status, have bool) lipgloss.Style {
	switch {
	case !have:
		return styleMuted
	case s == tracker.StatusDone:
		return styleSuccess
	case s == tracker.StatusFailed:
		return styleError
	case s == tracker.StatusCancelled:
		return styleWarn
	}
	return styleLabel
}

// renderBar draws a bar width cells wide filled to pct.
func renderBar(pct float64, width int) string {
	width = max(width, 1)
	filled := int(pct / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return styleBarFilled.Render(strings.Repeat("█", filled)) +
		styleBarEmpty.Render(strings.Repeat("░", width-filled))
}
