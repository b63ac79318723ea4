package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/session"
)

// Console prints transcript messages with per-speaker colors.
type Console struct {
	out      io.Writer
	agent1   lipgloss.Style
	agent2   lipgloss.Style
	narrator lipgloss.Style
	dim      lipgloss.Style
	text     lipgloss.Style
}

func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:      out,
		agent1:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		agent2:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")),
		narrator: r.NewStyle().Italic(true).Foreground(lipgloss.Color("#FFB86C")),
		dim:      r.NewStyle().Foreground(lipgloss.Color("#626262")),
		text:     r.NewStyle().PaddingLeft(2),
	}
}

// Message prints one transcript entry.
func (c *Console) Message(m session.Message) {
	var label string
	switch m.Slot {
	case 1:
		label = c.agent1.Render(m.Speaker)
	case 2:
		label = c.agent2.Render(m.Speaker)
	default:
		label = c.narrator.Render("[" + m.Speaker + "]")
	}
	fmt.Fprintln(c.out, label)
	fmt.Fprintln(c.out, c.text.Render(m.Text))
	if m.EmotionIndex != nil && m.MatrixConnection != nil {
		fmt.Fprintln(c.out, c.dim.Render("  "+MatrixLine(*m.EmotionIndex, *m.MatrixConnection)))
	}
	fmt.Fprintln(c.out)
}

// Transcript prints the whole conversation with a header.
func (c *Console) Transcript(st session.State) {
	fmt.Fprintln(c.out, c.agent1.Render("Topic:")+" "+st.Params.Topic)
	fmt.Fprintln(c.out, c.dim.Render(fmt.Sprintf("%s and %s, %d messages", st.Agents[0].Name(), st.Agents[1].Name(), len(st.Transcript))))
	fmt.Fprintln(c.out)
	for _, m := range st.Transcript {
		c.Message(m)
	}
}

// MatrixLine is a compact one-line summary of an agent's runtime state.
func MatrixLine(e agent.EmotionIndex, k agent.Connection) string {
	parts := []string{
		"health " + e.Health.String(),
		"eq " + e.EQ.String(),
		"antipathy " + e.Antipathy.String(),
		"connection " + k.Connection.String(),
		"trust " + k.Trust.String(),
		"intimacy " + k.Intimacy.String(),
	}
	return strings.Join(parts, " | ")
}
