package persona

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/session"
)

func TestEmbeddedPresetsLoad(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	all := lib.All()
	require.GreaterOrEqual(t, len(all), 2)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	sailor, err := lib.Get("sailor")
	require.NoError(t, err)
	assert.Equal(t, "Tomas", sailor.Profile.Name())
	assert.Equal(t, 67, sailor.Profile.Soul.Basic.Persona.Age)
	assert.Equal(t, agent.Score(112), sailor.Profile.Matrix.EmotionIndex.IQ)
	assert.Equal(t, "Pisces", sailor.Profile.Matrix.MatrixFavor.Zodiac)

	founder, err := lib.Get("founder")
	require.NoError(t, err)
	assert.Equal(t, "Paper rich, cash poor", founder.Profile.Soul.Advanced.SocialPosition.FinancialStatus)
}

func TestDefaultPresetsMatchDefaultAgents(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	scientist, err := lib.Get("scientist")
	require.NoError(t, err)
	assert.Equal(t, agent.DefaultAgent1(), scientist.Profile)

	artist, err := lib.Get("artist")
	require.NoError(t, err)
	assert.Equal(t, agent.DefaultAgent2(), artist.Profile)
}

func TestGetUnknownPreset(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)
	_, err = lib.Get("nobody")
	assert.ErrorContains(t, err, `"nobody"`)
}

func TestLoadFileOverridesAndAdds(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`presets:
  - id: sailor
    title: Young sailor
    profile:
      soul:
        basic:
          persona: {name: Rui, age: 22, gender: male}
  - id: chef
    title: Chef
    profile:
      soul:
        basic:
          persona: {name: Mai, age: 35, gender: female}
`), 0o644))

	require.NoError(t, lib.LoadFile(path))

	sailor, err := lib.Get("sailor")
	require.NoError(t, err)
	assert.Equal(t, "Rui", sailor.Profile.Name())

	chef, err := lib.Get("chef")
	require.NoError(t, err)
	assert.Equal(t, agent.GenderFemale, chef.Profile.Soul.Basic.Persona.Gender)
}

func TestLoadFileRejectsBadPresets(t *testing.T) {
	cases := map[string]string{
		"missing id":     "presets:\n  - title: x\n    profile: {soul: {basic: {persona: {gender: male}}}}\n",
		"invalid gender": "presets:\n  - id: x\n    profile: {soul: {basic: {persona: {gender: other}}}}\n",
		"not yaml":       "presets: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			lib, err := NewLibrary()
			require.NoError(t, err)
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			assert.Error(t, lib.LoadFile(path))
		})
	}
}

func TestRandomPairDistinct(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)
	r := rand.New(rand.NewSource(1))
	for range 50 {
		a, b, err := lib.RandomPair(r)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	}
}

func TestGenerateDiary(t *testing.T) {
	var got llm.Request
	gen := llm.Func(func(_ context.Context, req llm.Request) (llm.Result, error) {
		got = req
		return llm.Text("  Born by the sea.\n"), nil
	})

	diary, err := GenerateDiary(context.Background(), gen, "an old sailor", session.Vietnamese, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "Born by the sea.", diary)
	assert.Contains(t, got.Prompt, "an old sailor")
	assert.Equal(t, "key-1", got.APIKey)

	p := agent.DefaultAgent1()
	changed := agent.Apply(&p, DiaryPatch(diary))
	assert.Equal(t, []string{"soul.basic.summaryDiary"}, changed)
	assert.Equal(t, "Born by the sea.", p.Soul.Basic.SummaryDiary)
}

func TestGenerateDiaryErrors(t *testing.T) {
	ctx := context.Background()

	_, err := GenerateDiary(ctx, llm.Func(func(context.Context, llm.Request) (llm.Result, error) {
		t.Fatal("generator should not be called")
		return llm.Result{}, nil
	}), "   ", session.English, "")
	assert.Error(t, err)

	_, err = GenerateDiary(ctx, llm.Func(func(context.Context, llm.Request) (llm.Result, error) {
		return llm.Text("Error: quota exceeded"), nil
	}), "someone", session.English, "")
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = GenerateDiary(ctx, llm.Func(func(context.Context, llm.Request) (llm.Result, error) {
		return llm.Text(" "), nil
	}), "someone", session.English, "")
	assert.ErrorContains(t, err, "empty response")
}
