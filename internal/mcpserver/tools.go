package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/dualogue/internal/session"
)

var tracer = otel.Tracer("dualogue-mcp")

func sessionIDProp() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "The session ID returned from create_session or import_session",
	}
}

func sessionOnly(name, description string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"session_id": sessionIDProp()},
			Required:   []string{"session_id"},
		},
	}
}

// ToolDefs returns the MCP tool definitions keyed by name.
func ToolDefs() map[string]mcp.Tool {
	tools := []mcp.Tool{
		{
			Name:        "create_session",
			Description: "Create a two-agent dialogue session. Agents default to the built-in pair; pass preset IDs from list_presets to pick others. Returns a session ID.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"topic": map[string]any{
						"type":        "string",
						"description": "What the agents talk about. Required before start_dialogue.",
					},
					"relationship": map[string]any{
						"type":        "string",
						"description": "How the two agents relate, e.g. 'old friends' or 'rivals'",
					},
					"pronouns": map[string]any{
						"type":        "string",
						"description": "How the agents address each other",
					},
					"temperature": map[string]any{
						"type":        "number",
						"description": "Sampling temperature",
						"default":     0.7,
					},
					"max_words": map[string]any{
						"type":        "integer",
						"description": "Maximum words per message",
						"default":     250,
					},
					"exchanges": map[string]any{
						"type":        "integer",
						"description": "Turns per run",
						"default":     5,
					},
					"language": map[string]any{
						"type":        "string",
						"description": "Reply language: en or vi",
						"default":     "en",
					},
					"leisurely": map[string]any{
						"type":        "boolean",
						"description": "Pause between turns for the reading time of the previous message",
						"default":     true,
					},
					"deep_interaction": map[string]any{
						"type":        "boolean",
						"description": "Let the conversation drift; false keeps it on topic",
						"default":     true,
					},
					"agent1_preset":  map[string]any{"type": "string", "description": "Preset ID for agent 1"},
					"agent2_preset":  map[string]any{"type": "string", "description": "Preset ID for agent 2"},
					"agent1_api_key": map[string]any{"type": "string", "description": "Provider API key used for agent 1's turns"},
					"agent2_api_key": map[string]any{"type": "string", "description": "Provider API key used for agent 2's turns"},
				},
			},
		},
		{
			Name:        "import_session",
			Description: "Create a session from a previously exported session document (JSON).",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"document": map[string]any{
						"type":        "string",
						"description": "The session document JSON",
					},
				},
				Required: []string{"document"},
			},
		},
		sessionOnly("start_dialogue", "Start a background dialogue run of `exchanges` turns. Continues an existing transcript. Use get_session to follow progress."),
		sessionOnly("cancel_dialogue", "Ask the running dialogue to stop. A turn already being generated completes."),
		{
			Name:        "get_session",
			Description: "Get a session's parameters, agent profiles, transcript and run status.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"session_id": sessionIDProp(),
					"include_transcript": map[string]any{
						"type":    "boolean",
						"default": true,
					},
				},
				Required: []string{"session_id"},
			},
		},
		{
			Name:        "narrate",
			Description: "Send a narrator command. '/ask <question>' (or no prefix) returns commentary; '/set <change>' edits topic, parameters or agent profiles.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"session_id": sessionIDProp(),
					"command": map[string]any{
						"type":        "string",
						"description": "The narrator command",
					},
					"api_key": map[string]any{
						"type":        "string",
						"description": "Provider API key; defaults to agent 1's key",
					},
				},
				Required: []string{"session_id", "command"},
			},
		},
		sessionOnly("reset_session", "Restore the default agents and clear the transcript. Parameters and keys are kept."),
		{
			Name:        "generate_diary",
			Description: "Generate an agent's summary diary (backstory) from a short description and apply it.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"session_id": sessionIDProp(),
					"agent": map[string]any{
						"type":        "integer",
						"description": "Agent slot, 1 or 2",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "Who the agent is, in a sentence or two",
					},
				},
				Required: []string{"session_id", "agent", "description"},
			},
		},
		{
			Name:        "export_session",
			Description: "Export the session document and a Markdown transcript. Uploaded and cataloged when the server has storage configured, otherwise returned inline.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"session_id": sessionIDProp(),
					"include_keys": map[string]any{
						"type":        "boolean",
						"description": "Include the agents' API keys in the document",
						"default":     false,
					},
				},
				Required: []string{"session_id"},
			},
		},
		{
			Name:        "list_presets",
			Description: "List the preset agent profiles.",
			InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
		},
		{
			Name:        "list_sessions",
			Description: "List the IDs of sessions held by this server.",
			InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
		},
		{
			Name:        "list_exports",
			Description: "List exported sessions from the archive catalog, newest first.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 20)",
						"default":     20,
					},
					"cursor": map[string]any{
						"type":        "string",
						"description": "Pagination cursor from a previous list_exports call",
					},
				},
			},
		},
	}
	defs := make(map[string]mcp.Tool, len(tools))
	for _, t := range tools {
		defs[t.Name] = t
	}
	return defs
}

// Handlers contains tool handler implementations.
type Handlers struct {
	sessions *SessionManager
	log      *slog.Logger
}

// NewHandlers creates tool handlers.
func NewHandlers(sessions *SessionManager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{sessions: sessions, log: logger}
}

// Register adds every tool to s.
func (h *Handlers) Register(s *server.MCPServer) {
	defs := ToolDefs()
	for name, handler := range h.byName() {
		s.AddTool(defs[name], handler)
	}
}

func (h *Handlers) byName() map[string]server.ToolHandlerFunc {
	return map[string]server.ToolHandlerFunc{
		"create_session":  h.HandleCreateSession,
		"import_session":  h.HandleImportSession,
		"start_dialogue":  h.HandleStartDialogue,
		"cancel_dialogue": h.HandleCancelDialogue,
		"get_session":     h.HandleGetSession,
		"narrate":         h.HandleNarrate,
		"reset_session":   h.HandleResetSession,
		"generate_diary":  h.HandleGenerateDiary,
		"export_session":  h.HandleExportSession,
		"list_presets":    h.HandleListPresets,
		"list_sessions":   h.HandleListSessions,
		"list_exports":    h.HandleListExports,
	}
}

// HandleCreateSession creates a session.
func (h *Handlers) HandleCreateSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.create_session")
	defer span.End()

	params := session.DefaultParameters()
	params.Topic = mcp.ParseString(req, "topic", "")
	params.Relationship = mcp.ParseString(req, "relationship", "")
	params.Pronouns = mcp.ParseString(req, "pronouns", "")
	params.Temperature = mcp.ParseFloat64(req, "temperature", params.Temperature)
	params.MaxWords = parseIntParam(req, "max_words", params.MaxWords)
	params.Exchanges = parseIntParam(req, "exchanges", params.Exchanges)
	params.Language = session.Language(mcp.ParseString(req, "language", string(params.Language)))
	params.LeisurelyPacing = mcp.ParseBoolean(req, "leisurely", params.LeisurelyPacing)
	params.DeepInteraction = mcp.ParseBoolean(req, "deep_interaction", params.DeepInteraction)

	id, err := h.sessions.Create(CreateRequest{
		Params:    params,
		Preset1:   mcp.ParseString(req, "agent1_preset", ""),
		Preset2:   mcp.ParseString(req, "agent2_preset", ""),
		Agent1Key: mcp.ParseString(req, "agent1_api_key", ""),
		Agent2Key: mcp.ParseString(req, "agent2_api_key", ""),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to create session: %v", err)), nil
	}

	span.SetAttributes(attribute.String("session.id", id))
	h.log.InfoContext(ctx, "Session created", "session_id", id, "topic", params.Topic)
	return jsonResult(map[string]any{"session_id": id})
}

// HandleImportSession creates a session from an exported document.
func (h *Handlers) HandleImportSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.import_session")
	defer span.End()

	doc := mcp.ParseString(req, "document", "")
	if doc == "" {
		span.SetStatus(codes.Error, "missing document")
		return mcp.NewToolResultError("document is required"), nil
	}
	id, err := h.sessions.Import([]byte(doc))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to import session: %v", err)), nil
	}
	span.SetAttributes(attribute.String("session.id", id))
	h.log.InfoContext(ctx, "Session imported", "session_id", id)
	return jsonResult(map[string]any{"session_id": id})
}

// HandleStartDialogue starts a background run.
func (h *Handlers) HandleStartDialogue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.start_dialogue")
	defer span.End()

	id, res := requireSessionID(req)
	if res != nil {
		span.SetStatus(codes.Error, "missing session_id")
		return res, nil
	}
	span.SetAttributes(attribute.String("session.id", id))

	run, err := h.sessions.Start(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to start dialogue: %v", err)), nil
	}

	h.log.InfoContext(ctx, "Dialogue started", "session_id", id, "turns", run.Budget())
	return jsonResult(map[string]any{
		"session_id": id,
		"status":     "running",
		"turns":      run.Budget(),
		"message":    "Dialogue started. Use get_session with this session_id to follow progress.",
	})
}

// HandleCancelDialogue cancels the active run.
func (h *Handlers) HandleCancelDialogue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.cancel_dialogue")
	defer span.End()

	id, res := requireSessionID(req)
	if res != nil {
		return res, nil
	}
	span.SetAttributes(attribute.String("session.id", id))

	if err := h.sessions.Cancel(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel dialogue: %v", err)), nil
	}
	h.log.InfoContext(ctx, "Dialogue cancel requested", "session_id", id)
	return jsonResult(map[string]any{"session_id": id, "status": "stopping"})
}

// HandleGetSession returns the session state.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.get_session")
	defer span.End()

	id, res := requireSessionID(req)
	if res != nil {
		return res, nil
	}
	span.SetAttributes(attribute.String("session.id", id))

	st, err := h.sessions.Status(id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get session failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to get session: %v", err)), nil
	}

	result := map[string]any{
		"session_id":  st.State.ID,
		"run_state":   st.RunState,
		"params":      st.State.Params,
		"agent1":      st.State.Agents[0],
		"agent2":      st.State.Agents[1],
		"messages":    len(st.State.Transcript),
		"next_slot":   st.State.NextSlot(),
		"elapsed_sec": st.State.Elapsed.Seconds(),
	}
	if mcp.ParseBoolean(req, "include_transcript", true) {
		result["transcript"] = st.State.Transcript
	}
	if st.Last != nil {
		result["progress"] = map[string]any{
			"stage":      st.Last.Stage,
			"message":    st.Last.Message,
			"turn":       st.Last.Turn,
			"turn_total": st.Last.TurnTotal,
			"percent":    st.Last.Percent,
		}
	}
	if st.Summary != nil {
		result["last_run"] = map[string]any{
			"turns":     st.Summary.Turns,
			"committed": st.Summary.Committed,
			"skipped":   st.Summary.Skipped,
			"cancelled": st.Summary.Cancelled,
		}
	}
	if st.LastError != "" {
		result["error"] = st.LastError
	}
	return jsonResult(result)
}

// HandleNarrate runs a narrator command.
func (h *Handlers) HandleNarrate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.narrate")
	defer span.End()

	id, res := requireSessionID(req)
	if res != nil {
		return res, nil
	}
	command := mcp.ParseString(req, "command", "")
	span.SetAttributes(attribute.String("session.id", id))

	out, err := h.sessions.Narrate(ctx, id, command, mcp.ParseString(req, "api_key", ""))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "narrate failed")
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"kind":     out.Kind,
		"response": out.Response,
	}
	if len(out.Changed) > 0 {
		result["changed"] = out.Changed
	}
	if len(out.Stray) > 0 {
		result["stray"] = out.Stray
	}
	return jsonResult(result)
}

// HandleResetSession resets agents and transcript.
func (h *Handlers) HandleResetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.reset_session")
	defer span.End()

	id, res := requireSessionID(req)
	if res != nil {
		return res, nil
	}
	if err := h.sessions.Reset(id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reset failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to reset session: %v", err)), nil
	}
	h.log.InfoContext(ctx, "Session reset", "session_id", id)
	return jsonResult(map[string]any{"session_id": id, "status": "reset"})
}

// HandleGenerateDiary writes an agent backstory.
func (h *Handlers) HandleGenerateDiary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.generate_diary")
	defer span.End()

	id, res := requireSessionID(req)
	if res != nil {
		return res, nil
	}
	slot := parseIntParam(req, "agent", 0)
	diary, err := h.sessions.GenerateDiary(ctx, id, slot, mcp.ParseString(req, "description", ""))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate diary failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate diary: %v", err)), nil
	}
	return jsonResult(map[string]any{"session_id": id, "agent": slot, "summary_diary": diary})
}

// HandleExportSession exports the session.
func (h *Handlers) HandleExportSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.export_session")
	defer span.End()

	id, res := requireSessionID(req)
	if res != nil {
		return res, nil
	}
	out, err := h.sessions.Export(ctx, id, mcp.ParseBoolean(req, "include_keys", false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to export session: %v", err)), nil
	}
	h.log.InfoContext(ctx, "Session exported", "session_id", id, "archived", out.Archived, "json_url", out.JSONURL)
	return jsonResult(out)
}

// HandleListPresets lists preset profiles.
func (h *Handlers) HandleListPresets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.list_presets")
	defer span.End()

	presets := h.sessions.Presets()
	out := make([]map[string]any, 0, len(presets))
	for _, p := range presets {
		out = append(out, map[string]any{
			"id":      p.ID,
			"title":   p.Title,
			"name":    p.Profile.Name(),
			"profile": p.Profile,
		})
	}
	return jsonResult(map[string]any{"presets": out, "count": len(out)})
}

// HandleListSessions lists in-memory sessions.
func (h *Handlers) HandleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, span := tracer.Start(ctx, "tool.list_sessions")
	defer span.End()

	ids := h.sessions.IDs()
	return jsonResult(map[string]any{"sessions": ids, "count": len(ids)})
}

// HandleListExports lists the archive catalog.
func (h *Handlers) HandleListExports(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracer.Start(ctx, "tool.list_exports")
	defer span.End()

	archive := h.sessions.Archive()
	if archive == nil {
		return mcp.NewToolResultError("no archive table configured"), nil
	}

	limit := parseIntParam(req, "limit", 20)
	cursor := mcp.ParseString(req, "cursor", "")
	span.SetAttributes(attribute.Int("limit", limit), attribute.String("cursor", cursor))

	items, next, err := archive.List(ctx, limit, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list exports failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to list exports: %v", err)), nil
	}

	exports := make([]map[string]any, 0, len(items))
	for _, item := range items {
		e := map[string]any{
			"session_id":  item.SessionID,
			"topic":       item.Topic,
			"agents":      []string{item.Agent1, item.Agent2},
			"messages":    item.Messages,
			"exported_at": item.ExportedAt,
		}
		if item.JSONURL != "" {
			e["json_url"] = item.JSONURL
		}
		if item.MarkdownURL != "" {
			e["markdown_url"] = item.MarkdownURL
		}
		exports = append(exports, e)
	}
	result := map[string]any{"exports": exports, "count": len(exports)}
	if next != "" {
		result["next_cursor"] = next
	}
	return jsonResult(result)
}

func requireSessionID(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id := mcp.ParseString(req, "session_id", "")
	if id == "" {
		return "", mcp.NewToolResultError("session_id is required")
	}
	return id, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseIntParam(req mcp.CallToolRequest, key string, defaultVal int) int {
	args := req.GetArguments()
	if args == nil {
		return defaultVal
	}
	raw, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return defaultVal
}

