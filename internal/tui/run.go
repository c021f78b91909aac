package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressMsg carries a new run percentage.
type ProgressMsg int

// RowMsg reports one finished row.
type RowMsg struct {
	RecordID    string
	Skipped     bool
	FieldErrors int
}

// DoneMsg ends the view with the run notice.
type DoneMsg struct {
	Failed  bool
	Message string
}

type RunModel struct {
	title    string
	spinner  spinner.Model
	bar      progress.Model
	percent  int
	peak     int
	rows     int
	skipped  int
	errors   int
	done     *DoneMsg
	stopping bool
	cancel   context.CancelFunc
}

// NewRunModel builds the run view. cancel is called when the user asks to
// stop; the view keeps running until DoneMsg arrives.
func NewRunModel(title string, cancel context.CancelFunc) *RunModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &RunModel{
		title:   title,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel:  cancel,
	}
}

func (m *RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done != nil {
				return m, tea.Quit
			}
			if !m.stopping && m.cancel != nil {
				m.stopping = true
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		w := msg.Width - 10
		if w > 60 {
			w = 60
		}
		if w > 10 {
			m.bar.Width = w
		}
		return m, nil
	case ProgressMsg:
		m.percent = int(msg)
		if m.percent > m.peak {
			m.peak = m.percent
		}
		return m, nil
	case RowMsg:
		m.rows++
		if msg.Skipped {
			m.skipped++
		}
		m.errors += msg.FieldErrors
		return m, nil
	case DoneMsg:
		m.done = &msg
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *RunModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	shown := m.percent
	if m.done != nil {
		shown = m.peak
	}
	if m.done == nil {
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(m.bar.ViewAs(float64(shown) / 100))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("rows %s  skipped %s  field errors %s",
		countStyle.Render(fmt.Sprint(m.rows)),
		countStyle.Render(fmt.Sprint(m.skipped)),
		countStyle.Render(fmt.Sprint(m.errors))))
	b.WriteString("\n\n")

	switch {
	case m.done != nil && m.done.Failed:
		b.WriteString(errorStyle.Render("FAILED") + " " + m.done.Message)
	case m.done != nil:
		b.WriteString(successStyle.Render("DONE") + " " + m.done.Message)
	case m.stopping:
		b.WriteString(hintStyle.Render("stopping after in-flight calls..."))
	default:
		b.WriteString(hintStyle.Render("q / ctrl+c to stop"))
	}
	return lipgloss.NewStyle().Margin(1, 2).Render(b.String()) + "\n"
}

// Percent is the last percentage received.
func (m *RunModel) Percent() int { return m.percent }

// Done returns the final notice, or nil while running.
func (m *RunModel) Done() *DoneMsg { return m.done }
