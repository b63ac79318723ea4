package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/apresai/dualogue/internal/agent"
)

func newTestSession(t require.TestingT) *Session {
	params := DefaultParameters()
	params.Topic = "colonizing Mars"
	s, err := New(params, agent.DefaultAgent1(), agent.DefaultAgent2())
	require.NoError(t, err)
	return s
}

func TestNextSlot(t *testing.T) {
	tests := []struct {
		name string
		msgs Transcript
		want int
	}{
		{"empty", nil, 1},
		{"after agent 1", Transcript{{Speaker: "Agent 1", Slot: 1}}, 2},
		{"after agent 2", Transcript{{Speaker: "Agent 1", Slot: 1}, {Speaker: "Agent 2", Slot: 2}}, 1},
		{"skips narrator", Transcript{{Speaker: "Agent 1", Slot: 1}, {Speaker: SpeakerNarrator, Text: "ok"}}, 2},
		{"only sentinels", Transcript{{Speaker: SpeakerUser}}, 1},
		{"name fallback agent 1", Transcript{{Speaker: "Agent 1"}}, 2},
		{"name fallback agent 2", Transcript{{Speaker: "Agent 2"}}, 1},
		{"unknown name", Transcript{{Speaker: "Someone"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msgs.NextSlot("Agent 1", "Agent 2"))
		})
	}
}

func TestCommitMergesAndSnapshots(t *testing.T) {
	s := newTestSession(t)

	msg, err := s.Commit(2, "hello", agent.Patch{Matrix: &agent.MatrixPatch{
		EmotionIndex: &agent.EmotionPatch{Health: agent.Ptr(agent.Score(55))},
	}})
	require.NoError(t, err)

	assert.Equal(t, "Agent 2", msg.Speaker)
	assert.Equal(t, 2, msg.Slot)
	require.NotNil(t, msg.EmotionIndex)
	assert.Equal(t, agent.Score(55), msg.EmotionIndex.Health)
	assert.Equal(t, agent.Score(70), msg.EmotionIndex.Appearance)

	p, err := s.Profile(2)
	require.NoError(t, err)
	assert.Equal(t, agent.Score(55), p.Matrix.EmotionIndex.Health)
	assert.Equal(t, 1, s.Snapshot().NextSlot())

	_, err = s.Commit(3, "nope", agent.Patch{})
	require.ErrorIs(t, err, ErrUnknownAgent)
	assert.Equal(t, 1, s.Len())
}

func TestApplyIsAtomic(t *testing.T) {
	s := newTestSession(t)
	before := s.Snapshot()

	bad := agent.Gender("other")
	_, err := s.Apply(Patch{
		Params: ParamsPatch{Topic: agent.Ptr("oceans")},
		Agent1: &agent.Patch{Matrix: &agent.MatrixPatch{MatrixConnection: &agent.ConnectionPatch{Trust: agent.Ptr(agent.Score(90))}}},
		Agent2: &agent.Patch{Soul: &agent.SoulPatch{Basic: &agent.BasicPatch{Persona: &agent.PersonaPatch{Gender: &bad}}}},
	}, "changed")
	require.Error(t, err)

	after := s.Snapshot()
	assert.Equal(t, before, after)
}

func TestApplyWritesAllFieldsAndNote(t *testing.T) {
	s := newTestSession(t)

	changed, err := s.Apply(Patch{
		Params: ParamsPatch{Topic: agent.Ptr("oceans"), Exchanges: agent.Ptr(8)},
		Agent1: &agent.Patch{Matrix: &agent.MatrixPatch{MatrixConnection: &agent.ConnectionPatch{Trust: agent.Ptr(agent.Score(90))}}},
	}, "Trust raised.")
	require.NoError(t, err)

	assert.Equal(t, []string{"topic", "exchanges", "agent1Profile.matrix.matrixConnection.trust"}, changed)
	st := s.Snapshot()
	assert.Equal(t, "oceans", st.Params.Topic)
	assert.Equal(t, 8, st.Params.Exchanges)
	assert.Equal(t, agent.Score(90), st.Agents[0].Matrix.MatrixConnection.Trust)
	require.Len(t, st.Transcript, 1)
	assert.Equal(t, SpeakerNarrator, st.Transcript[0].Speaker)

	_, err = s.Apply(Patch{Params: ParamsPatch{MaxWords: agent.Ptr(0)}}, "")
	require.Error(t, err)
}

func TestResetRestoresDefaults(t *testing.T) {
	s := newTestSession(t)
	_, err := s.Commit(1, "hi", agent.Patch{Matrix: &agent.MatrixPatch{EmotionIndex: &agent.EmotionPatch{Antipathy: agent.Ptr(agent.Score(99))}}})
	require.NoError(t, err)
	s.AddElapsed(3 * time.Second)
	require.NoError(t, s.SetAPIKey(1, "k1"))

	s.Reset()

	st := s.Snapshot()
	assert.Empty(t, st.Transcript)
	assert.Zero(t, st.Elapsed)
	assert.Equal(t, agent.DefaultAgent1(), st.Agents[0])
	assert.Equal(t, "colonizing Mars", st.Params.Topic)
	assert.Equal(t, "k1", s.APIKey(1))
}

func TestUnmarshalAcceptsSliderArraysAndDefaults(t *testing.T) {
	s, err := Unmarshal([]byte(`{
		"topic": "tea",
		"temperature": [0.9],
		"maxWords": [120],
		"exchanges": 3,
		"chatLog": [{"agent": "Agent 1", "text": "hi"}],
		"elapsedTime": 12.5,
		"apiKey": "secret"
	}`))
	require.NoError(t, err)

	st := s.Snapshot()
	assert.Equal(t, 0.9, st.Params.Temperature)
	assert.Equal(t, 120, st.Params.MaxWords)
	assert.Equal(t, 3, st.Params.Exchanges)
	assert.Equal(t, English, st.Params.Language)
	assert.True(t, st.Params.LeisurelyPacing)
	assert.Equal(t, agent.DefaultAgent2(), st.Agents[1])
	assert.Equal(t, 2, st.NextSlot())
	assert.Equal(t, 12500*time.Millisecond, st.Elapsed)
	assert.Equal(t, "secret", s.APIKey(1))
}

func TestExportOmitsKeysUnlessAsked(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.SetAPIKey(2, "k2"))

	assert.Empty(t, s.Export(false).APIKey2)
	assert.Equal(t, "k2", s.Export(true).APIKey2)
}

func TestThemeSurvivesReexport(t *testing.T) {
	s, err := Unmarshal([]byte(`{"topic":"tea","relationship":"","pronouns":"","chatLog":[],"elapsedTime":0,"theme":"dark"}`))
	require.NoError(t, err)
	assert.Equal(t, "dark", s.Export(false).Theme)

	data, err := s.Marshal(false)
	require.NoError(t, err)
	again, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "dark", again.Export(false).Theme)

	fresh := newTestSession(t)
	assert.Empty(t, fresh.Export(false).Theme)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newTestSession(t)
		s.ReplaceProfiles(agent.DefaultAgent1(), agent.DefaultAgent2())

		turns := rapid.IntRange(0, 6).Draw(t, "turns")
		slot := 1
		for i := 0; i < turns; i++ {
			health := agent.Score(rapid.IntRange(0, 100).Draw(t, "health"))
			trust := agent.Score(rapid.IntRange(0, 100).Draw(t, "trust"))
			_, err := s.Commit(slot, rapid.StringMatching(`[a-z ]{1,20}`).Draw(t, "text"), agent.Patch{Matrix: &agent.MatrixPatch{
				EmotionIndex:     &agent.EmotionPatch{Health: &health, NextIntention: agent.Ptr("go on")},
				MatrixConnection: &agent.ConnectionPatch{Trust: &trust},
			}})
			require.NoError(t, err)
			if rapid.Bool().Draw(t, "narrate") {
				s.Note(SpeakerNarrator, "noted")
			}
			slot = Other(slot)
		}

		data, err := s.Marshal(false)
		require.NoError(t, err)
		loaded, err := Unmarshal(data)
		require.NoError(t, err)

		want, got := s.Snapshot(), loaded.Snapshot()
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.NextSlot(), got.NextSlot())
		assert.Equal(t, want.Agents, got.Agents)
		assert.Equal(t, want.Params, got.Params)
		assert.Equal(t, len(want.Transcript), len(got.Transcript))
	})
}

func TestProfilesFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t)
	path := filepath.Join(dir, "profiles.json")
	require.NoError(t, SaveProfiles(s, path))

	a1, a2, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, "Agent 1", a1.Name())
	assert.Equal(t, "Agent 2", a2.Name())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"agent1Profile":{}}`), 0644))
	_, _, err = LoadProfiles(bad)
	require.ErrorIs(t, err, ErrInvalidProfiles)
}
