package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/prompt"
	"github.com/apresai/dualogue/internal/session"
)

// GenerateDiary writes a narrative backstory from a short description.
func GenerateDiary(ctx context.Context, gen llm.Generator, description string, lang session.Language, apiKey string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", errors.New("description is required")
	}
	res, err := llm.Check(gen.Generate(ctx, llm.Request{
		Prompt:      prompt.Diary(description, lang),
		APIKey:      apiKey,
		Temperature: 0.9,
		MaxTokens:   2048,
	}))
	if err != nil {
		return "", fmt.Errorf("generate diary: %w", err)
	}
	diary := strings.TrimSpace(res.Text)
	if diary == "" {
		return "", errors.New("generate diary: empty response")
	}
	return diary, nil
}

// DiaryPatch sets an agent's summary diary.
func DiaryPatch(diary string) agent.Patch {
	return agent.Patch{Soul: &agent.SoulPatch{Basic: &agent.BasicPatch{SummaryDiary: &diary}}}
}
