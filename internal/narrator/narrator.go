package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/prompt"
	"github.com/apresai/dualogue/internal/response"
	"github.com/apresai/dualogue/internal/session"
)

var tracer = otel.Tracer("dualogue")

// Error reports which stage of a narrator call failed. No state has been
// changed when an Error is returned.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("narrator %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var ErrEmptyCommand = errors.New("command is empty")

// Kind classifies a narrator reply.
type Kind string

const (
	Commentary Kind = "commentary"
	Patch      Kind = "patch"
)

// Outcome is the result of one narrator call.
type Outcome struct {
	Kind     Kind
	Response string
	// Changed lists the session fields the patch wrote.
	Changed []string
	// Stray lists mutation fields returned for a command that did not ask
	// for changes. They are applied anyway.
	Stray []string
}

// payload is the narrator reply shape. Every field but Response is a
// mutation request.
type payload struct {
	Response      string       `json:"response"`
	Topic         *string      `json:"topic"`
	Relationship  *string      `json:"relationship"`
	Pronouns      *string      `json:"pronouns"`
	Temperature   *float64     `json:"temperature"`
	MaxWords      *int         `json:"maxWords"`
	Exchanges     *int         `json:"exchanges"`
	Agent1Profile *agent.Patch `json:"agent1Profile"`
	Agent2Profile *agent.Patch `json:"agent2Profile"`
}

// mutations lists the fields of p that request a change, in sorted order.
// Unknown keys and explicit nulls request nothing.
func (p payload) mutations() []string {
	var out []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"agent1Profile", p.Agent1Profile != nil && !p.Agent1Profile.IsEmpty()},
		{"agent2Profile", p.Agent2Profile != nil && !p.Agent2Profile.IsEmpty()},
		{"exchanges", p.Exchanges != nil},
		{"maxWords", p.MaxWords != nil},
		{"pronouns", p.Pronouns != nil},
		{"relationship", p.Relationship != nil},
		{"temperature", p.Temperature != nil},
		{"topic", p.Topic != nil},
	} {
		if f.set {
			out = append(out, f.name)
		}
	}
	return out
}

// Engine runs single-shot narrator calls against a session.
type Engine struct {
	gen llm.Generator
	log *slog.Logger
}

func NewEngine(gen llm.Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gen: gen, log: logger}
}

// IsSet reports whether command explicitly requests a change.
func IsSet(command string) bool {
	return strings.HasPrefix(strings.TrimSpace(command), "/set")
}

// Narrate sends command to the narrator. A reply holding only "response"
// (or no JSON at all) is commentary. A set mutation field makes it a patch,
// which is validated and applied atomically together with a narrator
// message in the transcript.
func (e *Engine) Narrate(ctx context.Context, sess *session.Session, command, apiKey string) (Outcome, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Outcome{}, &Error{Stage: "input", Err: ErrEmptyCommand}
	}

	ctx, span := tracer.Start(ctx, "narrator.narrate")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID()),
		attribute.Bool("narrator.set", IsSet(command)),
	)

	out, err := e.narrate(ctx, sess, command, apiKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "narrator failed")
		e.log.ErrorContext(ctx, "Narrator failed", "session_id", sess.ID(), "error", err)
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("narrator.kind", string(out.Kind)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (e *Engine) narrate(ctx context.Context, sess *session.Session, command, apiKey string) (Outcome, error) {
	st := sess.Snapshot()
	text, err := prompt.Narrator(st, command)
	if err != nil {
		return Outcome{}, &Error{Stage: "prompt", Err: err}
	}

	res, err := llm.Check(e.gen.Generate(ctx, llm.Request{
		Prompt:      text,
		System:      prompt.NarratorSystem,
		APIKey:      apiKey,
		Temperature: st.Params.Temperature,
		MaxTokens:   4096,
		JSON:        true,
	}))
	if err != nil {
		return Outcome{}, &Error{Stage: "generate", Err: err}
	}

	raw, err := response.Object(res)
	switch {
	case errors.Is(err, response.ErrNoJSON):
		reply := strings.TrimSpace(res.Text)
		if reply == "" {
			return Outcome{}, &Error{Stage: "parse", Err: response.ErrNoText}
		}
		return Outcome{Kind: Commentary, Response: reply}, nil
	case err != nil:
		return Outcome{}, &Error{Stage: "parse", Err: err}
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Outcome{}, &Error{Stage: "decode", Err: err}
	}

	mutations := p.mutations()
	if len(mutations) == 0 {
		return Outcome{Kind: Commentary, Response: strings.TrimSpace(p.Response)}, nil
	}

	out := Outcome{Kind: Patch, Response: strings.TrimSpace(p.Response)}
	if !IsSet(command) {
		out.Stray = mutations
		e.log.WarnContext(ctx, "Narrator returned changes for a non-/set command", "session_id", sess.ID(), "fields", mutations)
	}

	patch := session.Patch{
		Params: session.ParamsPatch{
			Topic:        p.Topic,
			Relationship: p.Relationship,
			Pronouns:     p.Pronouns,
			Temperature:  p.Temperature,
			MaxWords:     p.MaxWords,
			Exchanges:    p.Exchanges,
		},
		Agent1: p.Agent1Profile,
		Agent2: p.Agent2Profile,
	}
	mirrorConnection(&patch)

	note := out.Response
	if note == "" {
		note = "Settings updated."
	}
	changed, err := sess.Apply(patch, note)
	if err != nil {
		return Outcome{}, &Error{Stage: "apply", Err: err}
	}
	out.Changed = changed
	e.log.InfoContext(ctx, "Narrator patch applied", "session_id", sess.ID(), "changed", changed)
	return out, nil
}

// mirrorConnection copies a matrixConnection change made to one agent onto
// the other when the other's connection is left untouched.
func mirrorConnection(p *session.Patch) {
	c1, c2 := connectionOf(p.Agent1), connectionOf(p.Agent2)
	switch {
	case c1 != nil && c2 == nil:
		p.Agent2 = withConnection(p.Agent2, c1)
	case c2 != nil && c1 == nil:
		p.Agent1 = withConnection(p.Agent1, c2)
	}
}

func connectionOf(p *agent.Patch) *agent.ConnectionPatch {
	if p == nil || p.Matrix == nil {
		return nil
	}
	return p.Matrix.MatrixConnection
}

func withConnection(p *agent.Patch, c *agent.ConnectionPatch) *agent.Patch {
	out := agent.Patch{}
	if p != nil {
		out = *p
	}
	m := agent.MatrixPatch{}
	if out.Matrix != nil {
		m = *out.Matrix
	}
	cc := *c
	m.MatrixConnection = &cc
	out.Matrix = &m
	return &out
}
