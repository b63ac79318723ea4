package response

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/llm"
)

const fullTurn = `{"message":"The stars are closer than you think.","personality":{"emotionIndex":{"health":75,"appearance":70,"iq":120,"eq":115,"antipathy":5},"matrixConnection":{"connection":30,"trust":25,"intimacy":12,"dependency":10}},"nextIntention":"ask what scares her"}`

func TestParseStructured(t *testing.T) {
	reply, err := Parse(llm.Structured(json.RawMessage(fullTurn)))
	require.NoError(t, err)

	assert.False(t, reply.Unparsed)
	assert.Equal(t, "The stars are closer than you think.", reply.Utterance)
	require.NotNil(t, reply.Delta.EmotionIndex)
	assert.Equal(t, agent.Score(115), *reply.Delta.EmotionIndex.EQ)
	require.NotNil(t, reply.Delta.MatrixConnection)
	assert.Equal(t, agent.Score(25), *reply.Delta.MatrixConnection.Trust)
	require.NotNil(t, reply.Delta.NextIntention)
	assert.Equal(t, "ask what scares her", *reply.Delta.NextIntention)
}

func TestParseFencedBlock(t *testing.T) {
	text := "Sure, here is my turn:\n```json\n" + fullTurn + "\n```\nHope that helps {really}."
	reply, err := Parse(llm.Text(text))
	require.NoError(t, err)
	assert.Equal(t, "The stars are closer than you think.", reply.Utterance)
	assert.False(t, reply.Unparsed)
}

func TestParseBareObject(t *testing.T) {
	reply, err := Parse(llm.Text("  " + fullTurn + "  "))
	require.NoError(t, err)
	assert.Equal(t, "The stars are closer than you think.", reply.Utterance)
}

func TestParseStripsScratchpad(t *testing.T) {
	reply, err := Parse(llm.Text(`<think>maybe {"message": "wrong"}</think>{"message":"right"}`))
	require.NoError(t, err)
	assert.Equal(t, "right", reply.Utterance)
}

func TestParsePlainTextIsUnparsed(t *testing.T) {
	reply, err := Parse(llm.Text("I would rather not answer in JSON today."))
	require.NoError(t, err)
	assert.True(t, reply.Unparsed)
	assert.Equal(t, "I would rather not answer in JSON today.", reply.Utterance)
	assert.True(t, reply.Delta.Patch().IsEmpty())
}

func TestParseMalformedJSONIsUnparsed(t *testing.T) {
	reply, err := Parse(llm.Text(`{"message": "unterminated`+"\n}"+` trailing`))
	require.NoError(t, err)
	assert.True(t, reply.Unparsed)
}

func TestParseNoText(t *testing.T) {
	for _, res := range []llm.Result{
		llm.Text(""),
		llm.Text("   \n"),
		llm.Text(`{"personality":{"emotionIndex":{"health":10}}}`),
		llm.Text(`{"message":"   "}`),
		llm.Text(`{"message": 42}`),
		llm.Structured(json.RawMessage(`{"nextIntention":"leave"}`)),
	} {
		_, err := Parse(res)
		assert.ErrorIs(t, err, ErrNoText, "result %+v", res)
	}
}

func TestParsePartialDelta(t *testing.T) {
	reply, err := Parse(llm.Text(`{"message":"ok","personality":{"emotionIndex":{"health":55}}}`))
	require.NoError(t, err)

	require.NotNil(t, reply.Delta.EmotionIndex)
	assert.Nil(t, reply.Delta.EmotionIndex.Appearance)
	assert.Nil(t, reply.Delta.MatrixConnection)
	assert.Nil(t, reply.Delta.NextIntention)

	p := agent.EmptyProfile()
	agent.Apply(&p, reply.Delta.Patch())
	assert.Equal(t, agent.EmotionIndex{Health: 55, Appearance: 70, IQ: 120, EQ: 110, Antipathy: 10}, p.Matrix.EmotionIndex)
}

func TestParseDropsUndecodableSections(t *testing.T) {
	reply, err := Parse(llm.Text(`{"message":"ok","personality":{"emotionIndex":{"health":"very"},"matrixConnection":{"trust":"60"}}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"emotionIndex.health"}, reply.Dropped)
	assert.Nil(t, reply.Delta.EmotionIndex)
	require.NotNil(t, reply.Delta.MatrixConnection)
	assert.Equal(t, agent.Score(60), *reply.Delta.MatrixConnection.Trust)
}

func TestParseKeepsDecodableFieldsOfSection(t *testing.T) {
	reply, err := Parse(llm.Text(`{"message":"ok","personality":{"emotionIndex":{"health":55,"antipathy":"quite high","eq":null},"matrixConnection":["trust",60]}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"emotionIndex.antipathy", "matrixConnection"}, reply.Dropped)
	require.NotNil(t, reply.Delta.EmotionIndex)
	assert.Equal(t, agent.Score(55), *reply.Delta.EmotionIndex.Health)
	assert.Nil(t, reply.Delta.EmotionIndex.Antipathy)
	assert.Nil(t, reply.Delta.EmotionIndex.EQ)
	assert.Nil(t, reply.Delta.MatrixConnection)

	p := agent.EmptyProfile()
	agent.Apply(&p, reply.Delta.Patch())
	assert.Equal(t, agent.EmotionIndex{Health: 55, Appearance: 70, IQ: 120, EQ: 110, Antipathy: 10}, p.Matrix.EmotionIndex)
}

func TestParseIntentionInsideEmotionIndex(t *testing.T) {
	reply, err := Parse(llm.Text(`{"message":"ok","personality":{"emotionIndex":{"nextIntention":"change the subject"}}}`))
	require.NoError(t, err)
	require.NotNil(t, reply.Delta.EmotionIndex)
	require.NotNil(t, reply.Delta.EmotionIndex.NextIntention)
	assert.Equal(t, "change the subject", *reply.Delta.EmotionIndex.NextIntention)
}

func TestObject(t *testing.T) {
	_, err := Object(llm.Text("just words"))
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = Object(llm.Text("{not json}"))
	assert.ErrorIs(t, err, ErrMalformed)

	raw, err := Object(llm.Text("```\n{\"response\":\"hi\"}\n```"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":"hi"}`, string(raw))
}

func TestParseNeverFailsOnPlainText(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[^{}]*`).Draw(t, "text")
		reply, err := Parse(llm.Text(text))
		if strings.TrimSpace(text) == "" {
			assert.ErrorIs(t, err, ErrNoText)
			return
		}
		require.NoError(t, err)
		assert.True(t, reply.Unparsed)
	})
}
