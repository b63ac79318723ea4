package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind tags what a provider returned.
type Kind int

const (
	KindText Kind = iota
	KindStructured
)

func (k Kind) String() string {
	if k == KindStructured {
		return "structured"
	}
	return "text"
}

// Request is one single-shot generation call.
type Request struct {
	Prompt      string
	System      string
	APIKey      string
	Temperature float64
	MaxTokens   int64
	// JSON asks providers that support it to constrain output to a JSON object.
	JSON bool
}

// Result is a successful generation: either free text (which may embed a
// fenced JSON block) or a JSON object the provider already validated.
type Result struct {
	Kind       Kind
	Text       string
	Structured json.RawMessage
}

func Text(s string) Result {
	return Result{Kind: KindText, Text: s}
}

func Structured(raw json.RawMessage) Result {
	return Result{Kind: KindStructured, Structured: raw}
}

// Generator turns a prompt into text. Implementations never retry: a
// failure is returned once and the caller decides what to do with it.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Generate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ErrorPrefix marks a failure in string-typed gateway replies.
const ErrorPrefix = "Error:"

// ProviderError is a failure reported by a generation provider. Error returns
// the provider's message unchanged so it can be shown to the user as is.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

// FromLegacy converts a string-typed gateway reply, where failures are
// signalled by an "Error:" prefix, into a typed result.
func FromLegacy(reply string) (Result, error) {
	if strings.HasPrefix(reply, ErrorPrefix) {
		msg := strings.TrimSpace(strings.TrimPrefix(reply, ErrorPrefix))
		if msg == "" {
			msg = "An unknown error occurred."
		}
		return Result{}, &ProviderError{Provider: "legacy", Message: msg}
	}
	return Text(reply), nil
}

// Check normalizes a gateway reply once at the boundary: a text reply that
// carries the "Error:" prefix is turned into a ProviderError.
func Check(res Result, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if res.Kind == KindText && strings.HasPrefix(res.Text, ErrorPrefix) {
		return FromLegacy(res.Text)
	}
	return res, nil
}

// MaxTokensForWords budgets output tokens for a reply of up to words words
// plus the JSON envelope around it.
func MaxTokensForWords(words int) int64 {
	if words <= 0 {
		words = 250
	}
	return int64(words)*2 + 768
}

var ErrUnknownModel = errors.New("unknown model")

// NewGenerator returns the provider behind a short model name such as
// "haiku", "gemini-flash" or "nova-lite".
func NewGenerator(ctx context.Context, model string) (Generator, error) {
	switch {
	case claudeModels[model] != "":
		return NewClaudeGenerator(model), nil
	case geminiModels[model] != "":
		return NewGeminiGenerator(model), nil
	case novaModels[model] != "":
		return NewNovaGenerator(ctx, model)
	}
	return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownModel, model, strings.Join(Models(), ", "))
}

// Models lists the supported short model names.
func Models() []string {
	var names []string
	for _, m := range []map[string]string{claudeModels, geminiModels, novaModels} {
		for name := range m {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Provider reports which backend serves model, or "" if none does.
func Provider(model string) string {
	switch {
	case claudeModels[model] != "":
		return "anthropic"
	case geminiModels[model] != "":
		return "gemini"
	case novaModels[model] != "":
		return "bedrock"
	}
	return ""
}
