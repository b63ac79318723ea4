package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestApplyMergesFieldByField(t *testing.T) {
	p := DefaultAgent1()
	p.Matrix.EmotionIndex.Health = 80
	p.Matrix.EmotionIndex.Antipathy = 10
	p.Matrix.EmotionIndex.IQ = 120

	changed := Apply(&p, Patch{Matrix: &MatrixPatch{
		EmotionIndex: &EmotionPatch{Antipathy: Ptr(Score(35))},
	}})

	assert.Equal(t, []string{"matrix.emotionIndex.antipathy"}, changed)
	assert.Equal(t, Score(80), p.Matrix.EmotionIndex.Health)
	assert.Equal(t, Score(35), p.Matrix.EmotionIndex.Antipathy)
	assert.Equal(t, Score(120), p.Matrix.EmotionIndex.IQ)
}

func TestApplyClampsScores(t *testing.T) {
	p := EmptyProfile()
	Apply(&p, Patch{Matrix: &MatrixPatch{
		EmotionIndex:     &EmotionPatch{Health: Ptr(Score(140)), IQ: Ptr(Score(180))},
		MatrixConnection: &ConnectionPatch{Trust: Ptr(Score(-5))},
	}})

	assert.Equal(t, Score(100), p.Matrix.EmotionIndex.Health)
	assert.Equal(t, Score(180), p.Matrix.EmotionIndex.IQ)
	assert.Equal(t, Score(0), p.Matrix.MatrixConnection.Trust)
}

func TestApplyNestedSoulFields(t *testing.T) {
	p := DefaultAgent2()
	changed := Apply(&p, Patch{Soul: &SoulPatch{
		Basic: &BasicPatch{Persona: &PersonaPatch{
			Name: Ptr("Mira"),
			Age:  Ptr(Score(41.6)),
		}},
		Advanced: &AdvancedPatch{SocialPosition: &SocialPositionPatch{Job: Ptr("painter")}},
	}})

	assert.Len(t, changed, 3)
	assert.Equal(t, "Mira", p.Name())
	assert.Equal(t, 42, p.Soul.Basic.Persona.Age)
	assert.Equal(t, GenderFemale, p.Soul.Basic.Persona.Gender)
	assert.Equal(t, "painter", p.Soul.Advanced.SocialPosition.Job)
	assert.Equal(t, Score(50), p.Soul.Advanced.SocialPosition.HappinessIndex)
}

func TestValidateRejectsUnknownGender(t *testing.T) {
	g := Gender("robot")
	err := Patch{Soul: &SoulPatch{Basic: &BasicPatch{Persona: &PersonaPatch{Gender: &g}}}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "robot")

	require.NoError(t, Patch{}.Validate())
}

func TestDeltaPatchCarriesNextIntention(t *testing.T) {
	d := Delta{
		EmotionIndex:  &EmotionPatch{Health: Ptr(Score(60)), NextIntention: Ptr("old")},
		NextIntention: Ptr("ask about the stars"),
	}
	p := EmptyProfile()
	Apply(&p, d.Patch())

	assert.Equal(t, "ask about the stars", p.Matrix.EmotionIndex.NextIntention)
	assert.Equal(t, Score(60), p.Matrix.EmotionIndex.Health)
	assert.Equal(t, "old", *d.EmotionIndex.NextIntention, "delta must not be mutated")

	assert.True(t, Delta{}.Patch().IsEmpty())
}

func TestPatchDecodesLenientScores(t *testing.T) {
	var patch Patch
	err := json.Unmarshal([]byte(`{"matrix":{"matrixConnection":{"trust":"45","intimacy":"30/100","connection":12.5}}}`), &patch)
	require.NoError(t, err)

	p := EmptyProfile()
	Apply(&p, patch)
	assert.Equal(t, Score(45), p.Matrix.MatrixConnection.Trust)
	assert.Equal(t, Score(30), p.Matrix.MatrixConnection.Intimacy)
	assert.Equal(t, Score(12.5), p.Matrix.MatrixConnection.Connection)
	assert.Equal(t, Score(10), p.Matrix.MatrixConnection.Dependency)
}

func TestScoreRejectsGarbage(t *testing.T) {
	var s Score
	require.Error(t, json.Unmarshal([]byte(`"very high"`), &s))
	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	assert.Equal(t, Score(0), s)
}

func genProfile(t *rapid.T) Profile {
	p := EmptyProfile()
	p.Soul.Basic.Persona.Name = rapid.StringMatching(`[A-Z][a-z]{0,8}`).Draw(t, "name")
	p.Soul.Basic.Persona.Age = rapid.IntRange(0, 120).Draw(t, "age")
	p.Soul.Basic.SummaryDiary = rapid.String().Draw(t, "diary")
	p.Matrix.EmotionIndex.Health = Score(rapid.IntRange(0, 100).Draw(t, "health"))
	p.Matrix.EmotionIndex.NextIntention = rapid.String().Draw(t, "intent")
	p.Matrix.MatrixConnection.Trust = Score(rapid.IntRange(0, 100).Draw(t, "trust"))
	p.Matrix.MatrixFavor.Hobbies = rapid.String().Draw(t, "hobbies")
	return p
}

func TestApplyEmptyPatchIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genProfile(t)
		before, err := json.Marshal(p)
		require.NoError(t, err)

		empty := []Patch{
			{},
			{Soul: &SoulPatch{}},
			{Matrix: &MatrixPatch{EmotionIndex: &EmotionPatch{}, MatrixConnection: &ConnectionPatch{}}},
			Delta{}.Patch(),
		}
		patch := empty[rapid.IntRange(0, len(empty)-1).Draw(t, "patch")]

		changed := Apply(&p, patch)
		after, err := json.Marshal(p)
		require.NoError(t, err)

		assert.Empty(t, changed)
		assert.Equal(t, string(before), string(after))
	})
}

func TestApplyOnlyTouchesPresentFields(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genProfile(t)
		want := p
		v := Score(rapid.Float64Range(-50, 150).Draw(t, "antipathy"))

		Apply(&p, Patch{Matrix: &MatrixPatch{EmotionIndex: &EmotionPatch{Antipathy: &v}}})

		got := p.Matrix.EmotionIndex.Antipathy
		assert.GreaterOrEqual(t, float64(got), 0.0)
		assert.LessOrEqual(t, float64(got), 100.0)

		p.Matrix.EmotionIndex.Antipathy = want.Matrix.EmotionIndex.Antipathy
		assert.Equal(t, want, p)
	})
}
