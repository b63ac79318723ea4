package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/dialogue"
	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/progress"
	"github.com/apresai/dualogue/internal/session"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	agent1Style   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	agent2Style   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	narratorStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#FFB86C"))
	labelStyle    = lipgloss.NewStyle().Width(12).Align(lipgloss.Right).MarginRight(1)
	valueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555")).Italic(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).MarginTop(1)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#555555")).Padding(0, 1).MarginRight(1)
	activePanel   = panelStyle.BorderForeground(lipgloss.Color("#7D56F4"))
	headerBorder  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("#7D56F4")).MarginBottom(1)
)

// eventMsg carries one progress event with the session state right after it.
type eventMsg struct {
	event progress.Event
	state session.State
}

// doneMsg is sent once the run has returned to idle.
type doneMsg struct {
	summary dialogue.Summary
	err     error
}

type dashboardModel struct {
	events <-chan tea.Msg
	cancel func()

	state session.State
	last  progress.Event

	cancelling bool
	done       bool
	summary    dialogue.Summary
	err        error

	width  int
	height int
}

func newDashboard(st session.State, events <-chan tea.Msg, cancel func()) dashboardModel {
	return dashboardModel{
		events: events,
		cancel: cancel,
		state:  st,
		width:  100,
		height: 30,
	}
}

// waitForEvent blocks on the next run message. A closed channel yields nil,
// which bubbletea ignores.
func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				m.cancel()
			}
		}
		return m, nil

	case eventMsg:
		m.last = msg.event
		m.state = msg.state
		return m, waitForEvent(m.events)

	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		if m.cancelling {
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m dashboardModel) View() string {
	var b strings.Builder

	title := titleStyle.Render("Dualogue") + "  " + dimStyle.Render(truncateLine(m.state.Params.Topic, m.width-12))
	b.WriteString(headerBorder.Render(title))
	b.WriteString("\n")

	next := m.state.NextSlot()
	panels := make([]string, 2)
	for i := range panels {
		style := panelStyle
		if !m.done && next == i+1 {
			style = activePanel
		}
		panels[i] = style.Render(agentPanel(i+1, m.state.Agents[i]))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	for _, line := range m.transcriptTail() {
		b.WriteString(line)
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + errorStyle.Render("  Error: "+m.err.Error()) + "\n")
		b.WriteString(helpStyle.Render("  q to exit"))
	case m.done:
		b.WriteString(helpStyle.Render("  " + describeSummary(m.summary, nil) + " | q to exit"))
	case m.cancelling:
		b.WriteString(helpStyle.Render("  cancelling after the current turn..."))
	default:
		b.WriteString(helpStyle.Render("  q to cancel the run"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m dashboardModel) statusLine() string {
	e := m.last
	if e.Stage == "" {
		return dimStyle.Render("  starting...")
	}
	turn := ""
	if e.TurnTotal > 0 {
		turn = fmt.Sprintf("turn %d/%d  ", e.Turn, e.TurnTotal)
	}
	return "  " + valueStyle.Render(turn) + e.Message
}

// transcriptTail renders the latest messages that fit under the panels.
func (m dashboardModel) transcriptTail() []string {
	room := m.height - 18
	if room < 4 {
		room = 4
	}
	var lines []string
	for _, msg := range m.state.Transcript {
		lines = append(lines, speakerLabel(msg)+" "+truncateLine(msg.Text, m.width-len(msg.Speaker)-6))
	}
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	return lines
}

func speakerLabel(msg session.Message) string {
	switch msg.Slot {
	case 1:
		return agent1Style.Render(msg.Speaker + ":")
	case 2:
		return agent2Style.Render(msg.Speaker + ":")
	default:
		return narratorStyle.Render("[" + msg.Speaker + "]")
	}
}

func agentPanel(slot int, p agent.Profile) string {
	name := agent1Style.Render(p.Name())
	if slot == 2 {
		name = agent2Style.Render(p.Name())
	}
	e, k := p.Matrix.EmotionIndex, p.Matrix.MatrixConnection
	rows := []struct {
		label string
		value agent.Score
	}{
		{"health", e.Health},
		{"appearance", e.Appearance},
		{"iq", e.IQ},
		{"eq", e.EQ},
		{"antipathy", e.Antipathy},
		{"connection", k.Connection},
		{"trust", k.Trust},
		{"intimacy", k.Intimacy},
		{"dependency", k.Dependency},
	}
	var b strings.Builder
	b.WriteString(name + "\n")
	for _, r := range rows {
		b.WriteString(labelStyle.Render(r.label) + valueStyle.Render(r.value.String()) + "\n")
	}
	intent := e.NextIntention
	if intent == "" {
		intent = "-"
	}
	b.WriteString(dimStyle.Render(truncateLine("next: "+intent, 36)))
	return b.String()
}

func truncateLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width < 8 {
		width = 8
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

// runDashboard runs the dialogue in the background and drives the
// dashboard from its progress events until the run is over and the user
// leaves.
func runDashboard(ctx context.Context, gen llm.Generator, sess *session.Session, log *slog.Logger, out io.Writer) (dialogue.Summary, error) {
	events := make(chan tea.Msg, 64)
	orch := dialogue.New(gen, dialogue.Config{
		Logger: log,
		Progress: func(e progress.Event) {
			events <- eventMsg{event: e, state: sess.Snapshot()}
		},
	})
	run, err := orch.Start(ctx, sess)
	if err != nil {
		return dialogue.Summary{}, err
	}
	go func() {
		summary, err := run.Wait()
		events <- doneMsg{summary: summary, err: err}
		close(events)
	}()

	p := tea.NewProgram(newDashboard(sess.Snapshot(), events, run.Cancel), tea.WithAltScreen(), tea.WithOutput(out))
	if _, err := p.Run(); err != nil {
		run.Cancel()
		// Keep the run from blocking on a full channel nobody reads.
		go func() {
			for range events {
			}
		}()
		summary, _ := run.Wait()
		return summary, fmt.Errorf("dashboard: %w", err)
	}
	return run.Wait()
}
