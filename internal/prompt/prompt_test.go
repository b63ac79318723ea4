package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/session"
)

func testParams() session.Parameters {
	p := session.DefaultParameters()
	p.Topic = "life on Europa"
	p.Relationship = "old colleagues"
	return p
}

func TestTurnOpensConversationOnEmptyHistory(t *testing.T) {
	out := Turn(agent.DefaultAgent1(), agent.DefaultAgent2(), testParams(), nil)

	assert.Contains(t, out, `The topic is "life on Europa". You speak first`)
	assert.NotContains(t, out, "The last message")
	assert.Contains(t, out, "You are Agent 1.")
	assert.Contains(t, out, "You are talking with Agent 2 (female)")
	assert.Contains(t, out, "At most 250 words")
	assert.Contains(t, out, `"nextIntention"`)
}

func TestTurnQuotesLastMessageAndCondensesHistory(t *testing.T) {
	history := session.Transcript{
		{Speaker: "Agent 1", Slot: 1, Text: "Hello\nthere"},
		{Speaker: "Agent 2", Slot: 2, Text: "Is anyone out there?"},
	}
	out := Turn(agent.DefaultAgent1(), agent.DefaultAgent2(), testParams(), history)

	assert.Contains(t, out, `The last message, from Agent 2, was: "Is anyone out there?"`)
	assert.Contains(t, out, "Agent 1: Hello there\n")
	assert.NotContains(t, out, "You speak first")
}

func TestTurnIsDeterministic(t *testing.T) {
	a, b := agent.DefaultAgent1(), agent.DefaultAgent2()
	a.Matrix.EmotionIndex.NextIntention = "probe their motives"
	history := session.Transcript{{Speaker: "Agent 2", Slot: 2, Text: "hi"}}

	first := Turn(a, b, testParams(), history)
	second := Turn(a, b, testParams(), history)
	assert.Equal(t, first, second)
	assert.Contains(t, first, `"probe their motives"`)
}

func TestTurnTopicFocusWithoutDeepInteraction(t *testing.T) {
	p := testParams()
	p.DeepInteraction = false
	out := Turn(agent.DefaultAgent1(), agent.DefaultAgent2(), p, nil)
	assert.Contains(t, out, `Stay focused on the main topic of the conversation: "life on Europa"`)

	p.DeepInteraction = true
	assert.NotContains(t, Turn(agent.DefaultAgent1(), agent.DefaultAgent2(), p, nil), "Stay focused")
}

func TestTurnLanguageAndPronouns(t *testing.T) {
	p := testParams()
	p.Language = session.Vietnamese
	p.Pronouns = "anh-em"
	out := Turn(agent.DefaultAgent2(), agent.DefaultAgent1(), p, nil)
	assert.Contains(t, out, "Language: Vietnamese")
	assert.Contains(t, out, "pronoun convention: anh-em")
}

func TestTurnOmitsOldHistory(t *testing.T) {
	var history session.Transcript
	for i := 0; i < maxHistoryLines+6; i++ {
		history = append(history, session.Message{Speaker: "Agent 1", Slot: 1, Text: fmt.Sprintf("line %d", i)})
	}
	out := Turn(agent.DefaultAgent1(), agent.DefaultAgent2(), testParams(), history)

	assert.Contains(t, out, "(5 earlier messages omitted)")
	assert.NotContains(t, out, "Agent 1: line 4\n")
	assert.Contains(t, out, "Agent 1: line 5\n")
}

func TestNarratorPrompt(t *testing.T) {
	a1, a2 := agent.DefaultAgent1(), agent.DefaultAgent2()
	a1.Matrix.MatrixConnection.Trust = 40
	a2.Matrix.MatrixConnection.Trust = 60

	out, err := Narrator(session.State{Params: testParams(), Agents: [2]agent.Profile{a1, a2}}, "/set make them rivals")
	require.NoError(t, err)

	assert.Contains(t, out, "trust: 50")
	assert.Contains(t, out, "The conversation has not started yet.")
	assert.Contains(t, out, `"/set make them rivals"`)
	assert.Contains(t, out, `"summaryDiary": "A pragmatic and cautious scientist`)
	assert.Equal(t, 1, strings.Count(out, "--- USER REQUEST ---"))
}

func TestDiaryPrompt(t *testing.T) {
	out := Diary("a retired sailor", session.Vietnamese)
	assert.Contains(t, out, "a retired sailor")
	assert.Contains(t, out, "written in Vietnamese")
}
