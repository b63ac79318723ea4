package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"
)

var geminiModels = map[string]string{
	"gemini-flash": "gemini-2.5-flash",
	"gemini-pro":   "gemini-2.5-pro",
}

// GeminiGenerator talks to the Gemini API with an API key, or to Vertex AI
// when no key is available and GOOGLE_CLOUD_PROJECT is set.
type GeminiGenerator struct {
	model    string
	apiKey   string
	project  string
	location string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGeminiGenerator(model string) *GeminiGenerator {
	return &GeminiGenerator{
		model:    model,
		apiKey:   os.Getenv("GEMINI_API_KEY"),
		project:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		location: envOr("GOOGLE_CLOUD_LOCATION", "us-central1"),
		clients:  make(map[string]*genai.Client),
	}
}

// client returns a cached client per credential.
func (g *GeminiGenerator) client(ctx context.Context, key string) (*genai.Client, error) {
	if key == "" {
		key = g.apiKey
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[key]; ok {
		return c, nil
	}

	cfg := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if key == "" {
		if g.project == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT is required for Gemini")
		}
		cfg = &genai.ClientConfig{Project: g.project, Location: g.location, Backend: genai.BackendVertexAI}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.clients[key] = c
	return c, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	modelID := geminiModels[g.model]
	if modelID == "" {
		modelID = geminiModels["gemini-flash"]
	}

	client, err := g.client(ctx, req.APIKey)
	if err != nil {
		return Result{}, providerError("gemini", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = MaxTokensForWords(0)
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, modelID, genai.Text(req.Prompt), cfg)
	if err != nil {
		return Result{}, providerError("gemini", err)
	}

	text := extractGeminiText(resp)
	if req.JSON {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
			return Structured(json.RawMessage(trimmed)), nil
		}
	}
	return Text(text), nil
}

func extractGeminiText(res *genai.GenerateContentResponse) string {
	if res == nil {
		return ""
	}
	for _, c := range res.Candidates {
		if c.Content == nil {
			continue
		}
		var parts []string
		for _, p := range c.Content.Parts {
			if p.Text != "" && !p.Thought {
				parts = append(parts, p.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "")
		}
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
