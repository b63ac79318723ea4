package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var claudeModels = map[string]string{
	"haiku":  "claude-haiku-4-5-20251001",
	"sonnet": "claude-sonnet-4-5-20250929",
}

type ClaudeGenerator struct {
	model  string
	client anthropic.Client
}

// NewClaudeGenerator uses ANTHROPIC_API_KEY unless a request carries its
// own key.
func NewClaudeGenerator(model string) *ClaudeGenerator {
	return &ClaudeGenerator{model: model, client: anthropic.NewClient()}
}

func (g *ClaudeGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	modelID := claudeModels[g.model]
	if modelID == "" {
		modelID = claudeModels["haiku"]
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(modelID),
		MaxTokens:   req.MaxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = MaxTokensForWords(0)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	var opts []option.RequestOption
	if req.APIKey != "" {
		opts = append(opts, option.WithAPIKey(req.APIKey))
	}

	message, err := g.client.Messages.New(ctx, params, opts...)
	if err != nil {
		return Result{}, providerError("anthropic", err)
	}

	// An empty reply is not a provider failure; the response parser reports it.
	return Text(extractClaudeText(message)), nil
}

func extractClaudeText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "")
}
