package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/dualogue/internal/dialogue"
	"github.com/apresai/dualogue/internal/llm"
	"github.com/apresai/dualogue/internal/persona"
	"github.com/apresai/dualogue/internal/prompt"
	"github.com/apresai/dualogue/internal/session"
)

// scripted answers turn prompts with numbered messages and narrator
// prompts with narratorReply.
type scripted struct {
	mu            sync.Mutex
	turns         int
	keys          []string
	narratorReply string
	gate          chan struct{}
	arrived       chan struct{}
}

func (s *scripted) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	if req.System == prompt.NarratorSystem {
		return llm.Text(s.narratorReply), nil
	}
	if req.System != prompt.TurnSystem {
		return llm.Text("A diary."), nil
	}
	if s.gate != nil {
		s.arrived <- struct{}{}
		<-s.gate
	}
	s.mu.Lock()
	s.turns++
	n := s.turns
	s.keys = append(s.keys, req.APIKey)
	s.mu.Unlock()
	return llm.Text(`{"message": "line ` + string(rune('0'+n)) + `", "personality": {"matrixConnection": {"trust": 40}}}`), nil
}

func noSleep(context.Context, time.Duration, <-chan struct{}) bool { return true }

func newManager(t *testing.T, gen llm.Generator, exporter *Exporter, maxRuns int) *SessionManager {
	t.Helper()
	lib, err := persona.NewLibrary()
	require.NoError(t, err)
	return NewSessionManager(gen, lib, exporter, ManagerOptions{
		MaxRuns: maxRuns,
		Sleep:   noSleep,
		Now:     func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (map[string]any, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text := res.Content[0].(mcp.TextContent).Text
	if res.IsError {
		return map[string]any{"error": text}, true
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out, false
}

func TestToolDefsCoverHandlers(t *testing.T) {
	h := NewHandlers(newManager(t, &scripted{}, nil, 1), nil)
	defs := ToolDefs()
	handlers := h.byName()
	assert.Len(t, handlers, len(defs))
	for name := range handlers {
		def, ok := defs[name]
		require.True(t, ok, name)
		assert.Equal(t, name, def.Name)
		assert.NotEmpty(t, def.Description)
	}
}

func TestSessionLifecycleThroughTools(t *testing.T) {
	gen := &scripted{}
	h := NewHandlers(newManager(t, gen, nil, 2), nil)

	out, isErr := call(t, h.HandleCreateSession, map[string]any{
		"topic":          "Tides",
		"exchanges":      float64(3),
		"leisurely":      false,
		"agent2_preset":  "sailor",
		"agent1_api_key": "k1",
		"agent2_api_key": "k2",
	})
	require.False(t, isErr, out)
	id := out["session_id"].(string)

	out, isErr = call(t, h.HandleStartDialogue, map[string]any{"session_id": id})
	require.False(t, isErr, out)
	assert.Equal(t, float64(3), out["turns"])

	require.Eventually(t, func() bool {
		st, _ := call(t, h.HandleGetSession, map[string]any{"session_id": id})
		return st["run_state"] == "idle" && st["last_run"] != nil
	}, 5*time.Second, 10*time.Millisecond)

	st, _ := call(t, h.HandleGetSession, map[string]any{"session_id": id})
	assert.Equal(t, float64(3), st["messages"])
	transcript := st["transcript"].([]any)
	speakers := []string{}
	for _, m := range transcript {
		speakers = append(speakers, m.(map[string]any)["agent"].(string))
	}
	assert.Equal(t, []string{"Agent 1", "Tomas", "Agent 1"}, speakers)
	assert.Equal(t, []string{"k1", "k2", "k1"}, gen.keys)
	assert.Equal(t, float64(2), st["next_slot"])

	lastRun := st["last_run"].(map[string]any)
	assert.Equal(t, float64(3), lastRun["committed"])
	assert.Equal(t, false, lastRun["cancelled"])

	st, _ = call(t, h.HandleGetSession, map[string]any{"session_id": id, "include_transcript": false})
	assert.NotContains(t, st, "transcript")
}

func TestCreateSessionErrors(t *testing.T) {
	h := NewHandlers(newManager(t, &scripted{}, nil, 1), nil)

	out, isErr := call(t, h.HandleCreateSession, map[string]any{"agent1_preset": "nobody"})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "nobody")

	_, isErr = call(t, h.HandleCreateSession, map[string]any{"max_words": float64(0)})
	assert.True(t, isErr)

	_, isErr = call(t, h.HandleCreateSession, map[string]any{"language": "fr"})
	assert.True(t, isErr)
}

func TestStartRequiresTopicAndSession(t *testing.T) {
	h := NewHandlers(newManager(t, &scripted{}, nil, 1), nil)

	out, isErr := call(t, h.HandleStartDialogue, map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "session_id is required", out["error"])

	out, isErr = call(t, h.HandleStartDialogue, map[string]any{"session_id": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "session not found")

	created, _ := call(t, h.HandleCreateSession, map[string]any{})
	out, isErr = call(t, h.HandleStartDialogue, map[string]any{"session_id": created["session_id"]})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], session.ErrNoTopic.Error())
}

func TestMaxRunsAndCancel(t *testing.T) {
	gen := &scripted{gate: make(chan struct{}), arrived: make(chan struct{}, 32)}
	m := newManager(t, gen, nil, 1)
	params := session.DefaultParameters()
	params.Topic = "Gates"
	params.Exchanges = 10

	id1, err := m.Create(CreateRequest{Params: params})
	require.NoError(t, err)
	id2, err := m.Create(CreateRequest{Params: params})
	require.NoError(t, err)

	run, err := m.Start(context.Background(), id1)
	require.NoError(t, err)
	<-gen.arrived

	_, err = m.Start(context.Background(), id1)
	assert.Error(t, err)
	_, err = m.Start(context.Background(), id2)
	assert.ErrorContains(t, err, "max concurrent runs")

	assert.ErrorIs(t, m.Reset(id1), dialogue.ErrRunning)

	require.NoError(t, m.Cancel(id1))
	close(gen.gate)
	summary, err := run.Wait()
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Committed)

	require.Eventually(t, func() bool {
		_, err := m.Start(context.Background(), id2)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, m.Cancel(id1), ErrNotRunning)
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestNarrateThroughTools(t *testing.T) {
	gen := &scripted{narratorReply: `{"response": "Moved to the harbour.", "topic": "Harbours", "agent1Profile": {"matrix": {"matrixConnection": {"trust": 70}}}}`}
	m := newManager(t, gen, nil, 1)
	h := NewHandlers(m, nil)

	created, _ := call(t, h.HandleCreateSession, map[string]any{"topic": "Tides"})
	id := created["session_id"].(string)

	out, isErr := call(t, h.HandleNarrate, map[string]any{"session_id": id, "command": "/set move to the harbour"})
	require.False(t, isErr, out)
	assert.Equal(t, "patch", out["kind"])
	assert.Equal(t, "Moved to the harbour.", out["response"])
	assert.Contains(t, out["changed"], "topic")

	st, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, "Harbours", st.State.Params.Topic)
	assert.EqualValues(t, 70, st.State.Agents[0].Matrix.MatrixConnection.Trust)
	assert.EqualValues(t, 70, st.State.Agents[1].Matrix.MatrixConnection.Trust)

	out, isErr = call(t, h.HandleNarrate, map[string]any{"session_id": id, "command": "  "})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "command is empty")
}

func TestGenerateDiaryAndReset(t *testing.T) {
	m := newManager(t, &scripted{}, nil, 1)
	h := NewHandlers(m, nil)
	created, _ := call(t, h.HandleCreateSession, map[string]any{"topic": "Tides"})
	id := created["session_id"].(string)

	out, isErr := call(t, h.HandleGenerateDiary, map[string]any{"session_id": id, "agent": float64(2), "description": "a fisher"})
	require.False(t, isErr, out)
	assert.Equal(t, "A diary.", out["summary_diary"])

	st, _ := m.Status(id)
	assert.Equal(t, "A diary.", st.State.Agents[1].Soul.Basic.SummaryDiary)

	_, isErr = call(t, h.HandleGenerateDiary, map[string]any{"session_id": id, "agent": float64(3), "description": "x"})
	assert.True(t, isErr)

	_, isErr = call(t, h.HandleResetSession, map[string]any{"session_id": id})
	require.False(t, isErr)
	st, _ = m.Status(id)
	assert.NotEqual(t, "A diary.", st.State.Agents[1].Soul.Basic.SummaryDiary)
	assert.Equal(t, "Tides", st.State.Params.Topic)
}

func TestExportInlineAndImport(t *testing.T) {
	m := newManager(t, &scripted{}, nil, 1)
	h := NewHandlers(m, nil)
	created, _ := call(t, h.HandleCreateSession, map[string]any{"topic": "Tides", "agent1_api_key": "secret"})
	id := created["session_id"].(string)

	out, isErr := call(t, h.HandleExportSession, map[string]any{"session_id": id})
	require.False(t, isErr, out)
	doc := out["document"].(string)
	assert.NotContains(t, doc, "secret")
	assert.Contains(t, out["markdown"], `title = "Tides"`)
	assert.Equal(t, false, out["archived"])

	_, isErr = call(t, h.HandleImportSession, map[string]any{"document": doc})
	assert.True(t, isErr, "same id already held")

	other := NewHandlers(newManager(t, &scripted{}, nil, 1), nil)
	imported, isErr := call(t, other.HandleImportSession, map[string]any{"document": doc})
	require.False(t, isErr, imported)
	assert.Equal(t, id, imported["session_id"])

	_, isErr = call(t, h.HandleListExports, map[string]any{})
	assert.True(t, isErr)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	err     error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = string(data)
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func (f *fakeDynamo) key(m map[string]types.AttributeValue) string {
	return m["PK"].(*types.AttributeValueMemberS).Value + "|" + m["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[f.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[f.key(in.Key)]}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []map[string]types.AttributeValue
	for _, it := range f.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i]["GSI1SK"].(*types.AttributeValueMemberS).Value > items[j]["GSI1SK"].(*types.AttributeValueMemberS).Value
	})
	return &dynamodb.QueryOutput{Items: items}, nil
}

func TestExportUploadsAndCatalogs(t *testing.T) {
	s3c := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	ddb := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	exporter := &Exporter{
		Storage: NewStorage(s3c, "bucket", "https://cdn.example.com/"),
		Archive: NewArchive(ddb, "archive"),
	}
	m := newManager(t, &scripted{}, exporter, 1)
	h := NewHandlers(m, nil)

	created, _ := call(t, h.HandleCreateSession, map[string]any{"topic": "Tides"})
	id := created["session_id"].(string)

	out, isErr := call(t, h.HandleExportSession, map[string]any{"session_id": id})
	require.False(t, isErr, out)
	assert.Equal(t, true, out["archived"])
	assert.NotContains(t, out, "document")

	jsonKey := "sessions/" + id + "/20240501T120000Z.json"
	mdKey := "sessions/" + id + "/20240501T120000Z.md"
	assert.Equal(t, "https://cdn.example.com/"+jsonKey, out["json_url"])
	assert.Equal(t, "https://cdn.example.com/"+mdKey, out["markdown_url"])
	assert.Contains(t, s3c.objects[jsonKey], `"topic": "Tides"`)
	assert.Equal(t, "application/json", s3c.types[jsonKey])
	assert.True(t, strings.HasPrefix(s3c.objects[mdKey], "+++"))

	item, err := exporter.Archive.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "Tides", item.Topic)
	assert.Equal(t, "Agent 1", item.Agent1)
	assert.Equal(t, jsonKey, item.JSONKey)
	assert.Equal(t, "2024-05-01T12:00:00Z#"+id, item.GSI1SK)

	list, isErr := call(t, h.HandleListExports, map[string]any{})
	require.False(t, isErr, list)
	assert.Equal(t, float64(1), list["count"])
	first := list["exports"].([]any)[0].(map[string]any)
	assert.Equal(t, id, first["session_id"])
}

func TestExportUploadFailure(t *testing.T) {
	s3c := &fakeS3{err: errors.New("access denied")}
	ddb := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	exporter := &Exporter{Storage: NewStorage(s3c, "bucket", ""), Archive: NewArchive(ddb, "archive")}
	m := newManager(t, &scripted{}, exporter, 1)

	id, err := m.Create(CreateRequest{Params: session.DefaultParameters()})
	require.NoError(t, err)
	_, err = m.Export(context.Background(), id, false)
	assert.ErrorContains(t, err, "access denied")
	assert.Empty(t, ddb.items)
}

func TestStorageURLWithoutPublicBase(t *testing.T) {
	s3c := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	url, err := NewStorage(s3c, "bucket", "").Upload(context.Background(), "a/b.json", []byte("{}"), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/a/b.json", url)
}

func TestArchiveListCursor(t *testing.T) {
	a := NewArchive(&fakeDynamo{items: map[string]map[string]types.AttributeValue{}}, "archive")
	_, _, err := a.List(context.Background(), 10, "garbage")
	assert.ErrorContains(t, err, "invalid cursor")

	item, err := a.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestArchiveItemRoundTrip(t *testing.T) {
	av, err := attributevalue.MarshalMap(ArchiveItem{SessionID: "x", Messages: 4})
	require.NoError(t, err)
	assert.Contains(t, av, "sessionId")
	assert.NotContains(t, av, "jsonUrl")
}

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f[*in.SecretId]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: &v}, nil
}

func TestLoadSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "from-env")

	loadSecrets(context.Background(), fakeSecrets{
		"/dualogue/ANTHROPIC_API_KEY": "from-secret",
		"/dualogue/GEMINI_API_KEY":    "ignored",
	}, "/dualogue/", slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, "from-secret", os.Getenv("ANTHROPIC_API_KEY"))
	assert.Equal(t, "from-env", os.Getenv("GEMINI_API_KEY"))
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_RUNS", "nope")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("ARCHIVE_TABLE", "")
	t.Setenv("SECRET_PREFIX", "")
	cfg := DefaultConfig()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.MaxRuns)
	assert.False(t, cfg.needsAWS())

	cfg.ArchiveTable = "t"
	assert.True(t, cfg.needsAWS())
}
