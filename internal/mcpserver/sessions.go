package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/apresai/dualogue/internal/agent"
	"github.com/apresai/dualogue/internal/dialogue"
	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/narrator"
	"github.com/apresai/dualogue/internal/observability"
	"github.com/apresai/dualogue/internal/persona"
	"github.com/apresai/dualogue/internal/progress"
	"github.com/apresai/dualogue/internal/render"
	"github.com/apresai/dualogue/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotRunning      = errors.New("no dialogue is running")
)

// CreateRequest describes a new session. Empty preset names pick the
// built-in agents.
type CreateRequest struct {
	Params    session.Parameters
	Preset1   string
	Preset2   string
	Agent1Key string
	Agent2Key string
}

// Status is a point-in-time view of a session and its run.
type Status struct {
	State     session.State
	RunState  string
	Last      *progress.Event
	Summary   *dialogue.Summary
	LastError string
}

// ManagerOptions tunes a SessionManager. Zero values pick the defaults.
type ManagerOptions struct {
	MaxRuns int
	Logger  *slog.Logger
	// BaseCtx bounds every run; it should be cancelled on shutdown.
	BaseCtx context.Context
	Sleep   dialogue.SleepFunc
	Now     func() time.Time
}

type entry struct {
	sess *session.Session
	orch *dialogue.Orchestrator

	mu      sync.Mutex
	last    *progress.Event
	summary *dialogue.Summary
	lastErr string
}

func (e *entry) record(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &evt
}

// SessionManager holds in-memory sessions and runs their dialogues in the
// background, at most MaxRuns at a time.
type SessionManager struct {
	gen      llm.Generator
	narrator *narrator.Engine
	presets  *persona.Library
	exporter *Exporter
	log      *slog.Logger
	baseCtx  context.Context
	sleep    dialogue.SleepFunc
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	maxRuns  int
	running  int
	wg       sync.WaitGroup
}

// NewSessionManager creates a session manager. exporter may be nil, in
// which case exports are returned inline only.
func NewSessionManager(gen llm.Generator, presets *persona.Library, exporter *Exporter, opts ManagerOptions) *SessionManager {
	m := &SessionManager{
		gen:      gen,
		presets:  presets,
		exporter: exporter,
		log:      opts.Logger,
		baseCtx:  opts.BaseCtx,
		sleep:    opts.Sleep,
		now:      opts.Now,
		sessions: make(map[string]*entry),
		maxRuns:  opts.MaxRuns,
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.baseCtx == nil {
		m.baseCtx = context.Background()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.maxRuns <= 0 {
		m.maxRuns = 5
	}
	m.narrator = narrator.NewEngine(gen, m.log)
	return m
}

func (m *SessionManager) profile(name string, fallback agent.Profile) (agent.Profile, error) {
	if name == "" {
		return fallback, nil
	}
	p, err := m.presets.Get(name)
	if err != nil {
		return agent.Profile{}, err
	}
	return p.Profile, nil
}

// Create registers a new session and returns its ID.
func (m *SessionManager) Create(req CreateRequest) (string, error) {
	a1, err := m.profile(req.Preset1, agent.DefaultAgent1())
	if err != nil {
		return "", err
	}
	a2, err := m.profile(req.Preset2, agent.DefaultAgent2())
	if err != nil {
		return "", err
	}
	sess, err := session.New(session.DefaultParameters(), a1, a2)
	if err != nil {
		return "", err
	}
	if err := sess.SetParams(req.Params); err != nil {
		return "", err
	}
	if err := sess.SetAPIKey(1, req.Agent1Key); err != nil {
		return "", err
	}
	if err := sess.SetAPIKey(2, req.Agent2Key); err != nil {
		return "", err
	}
	m.add(sess)
	return sess.ID(), nil
}

// Import registers a session decoded from an exported document.
func (m *SessionManager) Import(data []byte) (string, error) {
	sess, err := session.Unmarshal(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	_, exists := m.sessions[sess.ID()]
	m.mu.Unlock()
	if exists {
		return "", fmt.Errorf("session %s already exists", sess.ID())
	}
	m.add(sess)
	return sess.ID(), nil
}

func (m *SessionManager) add(sess *session.Session) {
	e := &entry{sess: sess}
	e.orch = dialogue.New(m.gen, dialogue.Config{
		Logger:   m.log.With("session_id", sess.ID()),
		Progress: e.record,
		Sleep:    m.sleep,
	})
	m.mu.Lock()
	m.sessions[sess.ID()] = e
	m.mu.Unlock()
}

func (m *SessionManager) get(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// Start launches a background run for the session. The run outlives the
// caller's ctx; it carries the caller's trace and is bounded by BaseCtx.
func (m *SessionManager) Start(ctx context.Context, id string) (*dialogue.Run, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.running >= m.maxRuns {
		m.mu.Unlock()
		return nil, fmt.Errorf("max concurrent runs reached (%d)", m.maxRuns)
	}
	m.running++
	m.mu.Unlock()

	runCtx := observability.DetachTraceContextFrom(ctx, m.baseCtx)
	run, err := e.orch.Start(runCtx, e.sess)
	if err != nil {
		m.release()
		return nil, err
	}

	e.mu.Lock()
	e.summary = nil
	e.lastErr = ""
	e.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release()
		summary, err := run.Wait()
		e.mu.Lock()
		e.summary = &summary
		if err != nil {
			e.lastErr = err.Error()
		}
		e.mu.Unlock()
	}()
	return run, nil
}

func (m *SessionManager) release() {
	m.mu.Lock()
	m.running--
	m.mu.Unlock()
}

// Cancel asks the session's active run to stop.
func (m *SessionManager) Cancel(id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	run := e.orch.Active()
	if run == nil {
		return ErrNotRunning
	}
	run.Cancel()
	return nil
}

// Status returns a snapshot of the session and its run.
func (m *SessionManager) Status(id string) (Status, error) {
	e, err := m.get(id)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		State:    e.sess.Snapshot(),
		RunState: e.orch.State().String(),
	}
	e.mu.Lock()
	st.Last = e.last
	st.Summary = e.summary
	st.LastError = e.lastErr
	e.mu.Unlock()
	return st, nil
}

// Narrate runs a narrator command against the session. An empty apiKey
// falls back to the first agent's key.
func (m *SessionManager) Narrate(ctx context.Context, id, command, apiKey string) (narrator.Outcome, error) {
	e, err := m.get(id)
	if err != nil {
		return narrator.Outcome{}, err
	}
	if apiKey == "" {
		apiKey = e.sess.APIKey(1)
	}
	return m.narrator.Narrate(ctx, e.sess, command, apiKey)
}

// Reset restores the default agents and clears the transcript. It refuses
// while a run is active.
func (m *SessionManager) Reset(id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	if e.orch.State() != dialogue.Idle {
		return dialogue.ErrRunning
	}
	e.sess.Reset()
	return nil
}

// GenerateDiary writes a summary diary for one agent from a description
// and applies it through the session patch path.
func (m *SessionManager) GenerateDiary(ctx context.Context, id string, slot int, description string) (string, error) {
	e, err := m.get(id)
	if err != nil {
		return "", err
	}
	if slot != 1 && slot != 2 {
		return "", fmt.Errorf("%w: slot %d", session.ErrUnknownAgent, slot)
	}
	diary, err := persona.GenerateDiary(ctx, m.gen, description, e.sess.Params().Language, e.sess.APIKey(slot))
	if err != nil {
		return "", err
	}
	p := persona.DiaryPatch(diary)
	var patch session.Patch
	if slot == 1 {
		patch.Agent1 = &p
	} else {
		patch.Agent2 = &p
	}
	if _, err := e.sess.Apply(patch, ""); err != nil {
		return "", err
	}
	return diary, nil
}

// Presets lists the preset library.
func (m *SessionManager) Presets() []persona.Preset {
	return m.presets.All()
}

// IDs lists session IDs in creation order.
func (m *SessionManager) IDs() []string {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].sess.ID() < entries[j].sess.ID() })
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.sess.ID()
	}
	return ids
}

// ExportResult is what export_session returns.
type ExportResult struct {
	SessionID   string `json:"session_id"`
	Document    string `json:"document,omitempty"`
	Markdown    string `json:"markdown,omitempty"`
	JSONURL     string `json:"json_url,omitempty"`
	MarkdownURL string `json:"markdown_url,omitempty"`
	Archived    bool   `json:"archived"`
}

// Export renders the session document and Markdown transcript. With an
// exporter configured both are uploaded and cataloged; otherwise they are
// returned inline.
func (m *SessionManager) Export(ctx context.Context, id string, includeKeys bool) (ExportResult, error) {
	e, err := m.get(id)
	if err != nil {
		return ExportResult{}, err
	}
	doc, err := e.sess.Marshal(includeKeys)
	if err != nil {
		return ExportResult{}, err
	}
	now := m.now()
	st := e.sess.Snapshot()
	md, err := render.Markdown(st, now)
	if err != nil {
		return ExportResult{}, err
	}
	if m.exporter == nil {
		return ExportResult{SessionID: id, Document: string(doc), Markdown: string(md)}, nil
	}
	return m.exporter.Export(ctx, st, doc, md, now)
}

// Archive returns the export catalog, or nil when none is configured.
func (m *SessionManager) Archive() *Archive {
	if m.exporter == nil {
		return nil
	}
	return m.exporter.Archive
}

// Shutdown cancels all active runs and waits for them to finish or for
// ctx to end.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, e := range m.sessions {
		if run := e.orch.Active(); run != nil {
			run.Cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exporter uploads exports to S3 and catalogs them in DynamoDB. Either
// half may be nil.
type Exporter struct {
	Storage *Storage
	Archive *Archive
}

func (x *Exporter) Export(ctx context.Context, st session.State, doc, md []byte, now time.Time) (ExportResult, error) {
	ctx, span := tracer.Start(ctx, "session.export",
		trace.WithAttributes(attribute.String("session.id", st.ID)),
	)
	defer span.End()

	res := ExportResult{SessionID: st.ID}
	item := ArchiveItem{
		SessionID:  st.ID,
		Topic:      st.Params.Topic,
		Agent1:     st.Agents[0].Name(),
		Agent2:     st.Agents[1].Name(),
		Messages:   len(st.Transcript),
		ElapsedSec: st.Elapsed.Seconds(),
		ExportedAt: now.UTC().Format(time.RFC3339),
	}

	if x.Storage != nil {
		jsonKey, mdKey := sessionKeys(st.ID, now.UTC().Format("20060102T150405Z"))
		jsonURL, err := x.Storage.Upload(ctx, jsonKey, doc, "application/json")
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upload failed")
			return ExportResult{}, err
		}
		mdURL, err := x.Storage.Upload(ctx, mdKey, md, "text/markdown; charset=utf-8")
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upload failed")
			return ExportResult{}, err
		}
		res.JSONURL, res.MarkdownURL = jsonURL, mdURL
		item.JSONKey, item.JSONURL = jsonKey, jsonURL
		item.MarkdownKey, item.MarkdownURL = mdKey, mdURL
	} else {
		res.Document, res.Markdown = string(doc), string(md)
	}

	if x.Archive != nil {
		if err := x.Archive.Put(ctx, item); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "archive failed")
			return ExportResult{}, err
		}
		res.Archived = true
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}
