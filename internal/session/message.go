package session

import (
	"time"

	"github.com/apresai/dualogue/internal/agent"
)

// Sentinel speakers for messages that did not come from an agent.
const (
	SpeakerUser     = "User"
	SpeakerNarrator = "Narrator"
)

// Message is one transcript entry. Slot is 1 or 2 for agent messages and 0
// for sentinel speakers. The emotion and connection snapshots record the
// speaker's state right after the turn was merged.
type Message struct {
	Speaker          string              `json:"agent"`
	Slot             int                 `json:"slot,omitempty"`
	Text             string              `json:"text"`
	EmotionIndex     *agent.EmotionIndex `json:"emotionIndex,omitempty"`
	MatrixConnection *agent.Connection   `json:"matrixConnection,omitempty"`
	At               time.Time           `json:"at,omitzero"`
}

// Transcript is the ordered record of a session's messages. It only grows;
// Reset is the one way to clear it.
type Transcript []Message

// Last returns the final message, if any.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// NextSlot derives which agent speaks next from the transcript alone: the
// agent that did not speak last. Sentinel messages are skipped. Messages
// without a slot (older exports) are matched by speaker name; a name that
// matches neither agent hands the turn to agent 1.
func (t Transcript) NextSlot(name1, name2 string) int {
	for i := len(t) - 1; i >= 0; i-- {
		m := t[i]
		switch {
		case m.Slot == 1:
			return 2
		case m.Slot == 2:
			return 1
		case m.Speaker == SpeakerUser || m.Speaker == SpeakerNarrator:
			continue
		case m.Speaker == name1:
			return 2
		default:
			return 1
		}
	}
	return 1
}

// AgentTurns counts messages spoken by either agent.
func (t Transcript) AgentTurns() int {
	n := 0
	for _, m := range t {
		if m.Slot != 0 || (m.Speaker != SpeakerUser && m.Speaker != SpeakerNarrator) {
			n++
		}
	}
	return n
}
