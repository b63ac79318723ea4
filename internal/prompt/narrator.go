package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/session"
)

const NarratorSystem = `You are the Narrator: an all-seeing observer who can comment on and control every aspect of a conversation between two agents. Always answer with a single valid JSON object.`

// Averages is the mean of both agents' connection scores.
type Averages struct {
	Connection, Trust, Intimacy, Dependency float64
}

// AverageConnection averages the two profiles' matrixConnection values.
func AverageConnection(a, b agent.Profile) Averages {
	ca, cb := a.Matrix.MatrixConnection, b.Matrix.MatrixConnection
	return Averages{
		Connection: float64(ca.Connection+cb.Connection) / 2,
		Trust:      float64(ca.Trust+cb.Trust) / 2,
		Intimacy:   float64(ca.Intimacy+cb.Intimacy) / 2,
		Dependency: float64(ca.Dependency+cb.Dependency) / 2,
	}
}

// Narrator builds the narrator prompt for a user command against the
// current session state.
func Narrator(st session.State, command string) (string, error) {
	a1, err := json.MarshalIndent(st.Agents[0], "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal agent 1 profile: %w", err)
	}
	a2, err := json.MarshalIndent(st.Agents[1], "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal agent 2 profile: %w", err)
	}
	p := st.Params
	avg := AverageConnection(st.Agents[0], st.Agents[1])

	var b strings.Builder
	fmt.Fprintf(&b, "Your reply MUST be written in %s.\n\n", p.Language.Instruction())

	b.WriteString("--- SYSTEM ---\n")
	fmt.Fprintf(&b, "- Topic: %s\n", p.Topic)
	fmt.Fprintf(&b, "- Relationship: %s\n", p.Relationship)
	fmt.Fprintf(&b, "- Pronouns: %s\n", p.Pronouns)
	fmt.Fprintf(&b, "- Temperature: %g\n", p.Temperature)
	fmt.Fprintf(&b, "- Max words per turn: %d\n", p.MaxWords)
	fmt.Fprintf(&b, "- Exchanges: %d\n", p.Exchanges)
	fmt.Fprintf(&b, "- Average connection: { connection: %g, trust: %g, intimacy: %g, dependency: %g }\n\n",
		avg.Connection, avg.Trust, avg.Intimacy, avg.Dependency)

	b.WriteString("--- AGENT PROFILES ---\n")
	fmt.Fprintf(&b, "Agent 1 profile:\n```json\n%s\n```\n", a1)
	fmt.Fprintf(&b, "Agent 2 profile:\n```json\n%s\n```\n\n", a2)

	b.WriteString("--- CONVERSATION HISTORY ---\n")
	if len(st.Transcript) == 0 {
		b.WriteString("The conversation has not started yet.\n")
	}
	for _, m := range st.Transcript {
		fmt.Fprintf(&b, "- %s: %s\n", m.Speaker, condense(m.Text))
	}

	b.WriteString("\n--- USER REQUEST ---\n")
	fmt.Fprintf(&b, "%q\n\n", command)

	b.WriteString(`--- YOUR TASK ---
Based on everything above, do exactly one of the following:

1. If the user uses the /ask command (or no command):
   - Answer with insight: analysis, commentary or interesting observations about the conversation.
   - Return ONLY a JSON object with a "response" field.
   - Example: { "response": "It seems Agent 1 is starting to have doubts..." }

2. If the user uses the /set command:
   - Work out which system parameters or agent profile fields the user wants to change.
   - You may change one or several. If the user asks for something random, invent sensible values.
   - Return a JSON object with "response" (what you say) AND one field for each thing you changed.
   - Changeable fields: "topic", "relationship", "pronouns", "temperature", "maxWords", "exchanges", "agent1Profile", "agent2Profile".
   - Example: "/set make the topic a treasure hunt" -> { "response": "Done, the topic is now a treasure hunt.", "topic": "A treasure hunt" }
   - Example: "/set make Agent 1 jealous" -> { "response": "Agent 1 will be more jealous from now on.", "agent1Profile": { "soul": { "basic": { "summaryDiary": "A suspicious person, jealous in love." } } } }
   - IMPORTANT: when changing a profile, return only the fields you change, never the whole profile.

Make sure your output is ALWAYS a single valid JSON object.
`)
	return b.String(), nil
}
