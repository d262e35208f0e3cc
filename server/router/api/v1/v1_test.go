package v1_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mygpt/internal/profile"
	"github.com/hrygo/mygpt/server"
	"github.com/hrygo/mygpt/store"
	"github.com/hrygo/mygpt/store/db/sqlite"
)

type testEnv struct {
	echo     *echo.Echo
	store    *store.Store
	toolRoot string
}

// newTestEnv stands up the full stack on a temp database. The model URL
// points at a dead port so the gateway's deterministic echo fallback
// drives every stream.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	toolRoot := t.TempDir()

	systemDir := filepath.Join(dir, "system")
	require.NoError(t, os.MkdirAll(systemDir, 0o755))
	base := "You are a helpful assistant.\n"
	require.NoError(t, os.WriteFile(filepath.Join(systemDir, "base_assistant_prompt.md"), []byte(base), 0o644))
	sum := sha256.Sum256([]byte(base))
	require.NoError(t, os.WriteFile(filepath.Join(systemDir, "base_assistant_prompt.sha256"),
		[]byte(hex.EncodeToString(sum[:])+"\n"), 0o644))

	t.Setenv("MYGPT_MODEL_URL", "http://127.0.0.1:1")
	t.Setenv("MYGPT_FALLBACK_STREAM_DELAY_S", "0")
	t.Setenv("MYGPT_LOG_LLM", "0")
	t.Setenv("MYGPT_TOOL_ROOTS", toolRoot)

	testProfile := &profile.Profile{
		Mode:      "dev",
		Addr:      "127.0.0.1",
		Port:      0,
		Data:      dir,
		DBPath:    filepath.Join(dir, "test.db"),
		SystemDir: systemDir,
	}
	driver, err := sqlite.NewDB(testProfile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))

	st := store.New(driver, testProfile)
	srv, err := server.NewServer(context.Background(), testProfile, st)
	require.NoError(t, err)

	return &testEnv{echo: srv.Echo(), store: st, toolRoot: toolRoot}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

// parseFrames splits an SSE body into its decoded data frames.
func parseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "unexpected SSE chunk %q", chunk)
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func joinTokens(frames []map[string]any) string {
	var b strings.Builder
	for _, frame := range frames {
		if token, ok := frame["token"].(string); ok {
			b.WriteString(token)
		}
	}
	return b.String()
}

func countEvents(t *testing.T, st *store.Store, eventType string) int {
	t.Helper()
	events, err := st.ListEvents(context.Background(), &store.FindEvent{Type: &eventType})
	require.NoError(t, err)
	return len(events)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeJSON(t, rec)["status"])
}

func TestChatStreamsFallbackEcho(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", map[string]any{"content": "hello world"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/event-stream")

	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)
	require.Equal(t, true, frames[len(frames)-1]["done"])
	require.Equal(t, "(no model server) Echo: hello world ", joinTokens(frames))

	// Both turns persisted on the seeded Legacy conversation.
	messagesRec := env.do(t, http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, messagesRec.Code)
	var messages []map[string]any
	require.NoError(t, json.Unmarshal(messagesRec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	require.Equal(t, "user", messages[0]["role"])
	require.Equal(t, "hello world", messages[0]["content"])
	require.Equal(t, "assistant", messages[1]["role"])
	require.Equal(t, "(no model server) Echo: hello world", messages[1]["content"])

	require.Equal(t, 1, countEvents(t, env.store, store.EventUserPrompt))
	require.Equal(t, 1, countEvents(t, env.store, store.EventAssistantResponse))
	// The LLM side channel is disabled, so no llm_request events.
	require.Equal(t, 0, countEvents(t, env.store, store.EventLLMRequest))
}

func TestChatEmptyContent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/chat", map[string]any{"content": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "content must not be empty", decodeJSON(t, rec)["detail"])
}

func TestChatUnknownConversation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/chat", map[string]any{"content": "hi", "conversation_id": 9999})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "conversation not found", decodeJSON(t, rec)["detail"])
}

func TestChatClarifiesVagueInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", map[string]any{"content": "it"})
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	require.Equal(t, "What specifically should I work on?", frames[0]["token"])
	require.Equal(t, true, frames[1]["done"])

	messagesRec := env.do(t, http.MethodGet, "/messages", nil)
	var messages []map[string]any
	require.NoError(t, json.Unmarshal(messagesRec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	require.Equal(t, "What specifically should I work on?", messages[1]["content"])

	// The clarify branch records the user turn but never reaches the model.
	require.Equal(t, 1, countEvents(t, env.store, store.EventUserPrompt))
	require.Equal(t, 0, countEvents(t, env.store, store.EventAssistantResponse))
}

func TestChatProposalLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/messages", map[string]any{"role": "user", "content": "keep it concise"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/chat", map[string]any{"content": "again, a brief answer please"})
	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 2)

	// Proposal frame precedes the done frame.
	proposalFrame := frames[len(frames)-2]
	proposal, ok := proposalFrame["proposal"].(map[string]any)
	require.True(t, ok, "expected a proposal frame before done, got %v", proposalFrame)
	require.Equal(t, "verbosity", proposal["key"])
	require.Equal(t, "concise", proposal["value"])
	require.Equal(t, "pending", proposal["status"])
	require.Equal(t, true, frames[len(frames)-1]["done"])

	listRec := env.do(t, http.MethodGet, "/preference-proposals?status=pending", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	proposals := decodeJSON(t, listRec)["proposals"].([]any)
	require.Len(t, proposals, 1)
	proposalID := int64(proposals[0].(map[string]any)["id"].(float64))

	approveRec := env.do(t, http.MethodPost, fmt.Sprintf("/preference-proposals/%d/approve", proposalID), nil)
	require.Equal(t, http.StatusOK, approveRec.Code)
	approved := decodeJSON(t, approveRec)
	require.NotNil(t, approved["preference_id"])
	require.NotNil(t, approved["event_id"])

	prefsRec := env.do(t, http.MethodGet, "/preferences", nil)
	prefs := decodeJSON(t, prefsRec)
	rows := prefs["preferences"].([]any)
	require.Len(t, rows, 1)
	require.Equal(t, "verbosity", rows[0].(map[string]any)["key"])
	require.Equal(t, "concise", rows[0].(map[string]any)["value"])

	// A decided proposal cannot be decided again.
	conflictRec := env.do(t, http.MethodPost, fmt.Sprintf("/preference-proposals/%d/approve", proposalID), nil)
	require.Equal(t, http.StatusConflict, conflictRec.Code)
	require.Equal(t, "proposal is not pending", decodeJSON(t, conflictRec)["detail"])
}

func TestRejectProposal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conversation, err := env.store.GetLatestConversation(ctx)
	require.NoError(t, err)
	proposal, err := env.store.CreateProposal(ctx, &store.PreferenceProposal{
		ConversationID: conversation.ID,
		Key:            "format",
		Value:          "bullets",
		ProposalText:   "Prefer bullet lists when possible.",
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/preference-proposals/%d/reject", proposal.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decodeJSON(t, rec)["event_id"])

	prefsRec := env.do(t, http.MethodGet, "/preferences", nil)
	require.Empty(t, decodeJSON(t, prefsRec)["preferences"].([]any))
}

func TestProposalNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/preference-proposals/9999/approve", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "proposal not found", decodeJSON(t, rec)["detail"])
}

func TestResetPreferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreatePreference(ctx, &store.Preference{Key: "verbosity", Value: "concise"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/preferences/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeJSON(t, rec)
	require.NotNil(t, payload["reset_id"])
	require.NotNil(t, payload["event_id"])

	// The listing keeps the full history; the reset only marks the cutoff
	// for the effective view.
	prefsRec := env.do(t, http.MethodGet, "/preferences", nil)
	prefs := decodeJSON(t, prefsRec)
	require.NotNil(t, prefs["reset"])
	rows := prefs["preferences"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	require.Equal(t, "verbosity", row["key"])
	require.Equal(t, "concise", row["value"])
}

func TestRegenerate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/messages", map[string]any{"role": "user", "content": "ping pong"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/messages", map[string]any{"role": "assistant", "content": "old answer"})
	require.Equal(t, http.StatusOK, rec.Code)
	targetID := int64(decodeJSON(t, rec)["id"].(float64))

	streamRec := env.do(t, http.MethodPost, "/regenerate", map[string]any{"target_message_id": targetID})
	require.Equal(t, http.StatusOK, streamRec.Code)
	frames := parseFrames(t, streamRec.Body.String())
	// The replaced answer must not feed the prompt, so the echo repeats the
	// user turn.
	require.Equal(t, "(no model server) Echo: ping pong ", joinTokens(frames))
	require.Equal(t, true, frames[len(frames)-1]["done"])

	messagesRec := env.do(t, http.MethodGet, "/messages", nil)
	var messages []map[string]any
	require.NoError(t, json.Unmarshal(messagesRec.Body.Bytes(), &messages))
	require.Len(t, messages, 3)
	replacement := messages[2]
	require.Equal(t, "assistant", replacement["role"])
	require.Equal(t, float64(targetID), replacement["corrects_message_id"])

	require.Equal(t, 1, countEvents(t, env.store, store.EventRegenerateRequest))
	// Regeneration never proposes preferences.
	proposalsRec := env.do(t, http.MethodGet, "/preference-proposals", nil)
	require.Empty(t, decodeJSON(t, proposalsRec)["proposals"].([]any))
}

func TestRegenerateRejectsBadTargets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/regenerate", map[string]any{"target_message_id": 9999})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "target message not found", decodeJSON(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/messages", map[string]any{"role": "user", "content": "a question"})
	userID := int64(decodeJSON(t, rec)["id"].(float64))
	rec = env.do(t, http.MethodPost, "/regenerate", map[string]any{"target_message_id": userID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "target message is not an assistant message", decodeJSON(t, rec)["detail"])
}

func TestConversationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conversations []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conversations))
	require.Len(t, conversations, 1)
	require.Equal(t, "Legacy", conversations[0]["title"])

	rec = env.do(t, http.MethodPost, "/conversations", map[string]any{"title": "  Notes  "})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/conversations", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conversations))
	require.Len(t, conversations, 2)
	// Newest first, title trimmed.
	require.Equal(t, "Notes", conversations[0]["title"])
}

func TestMessageValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/messages", map[string]any{"role": "system", "content": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "role must be user or assistant", decodeJSON(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/messages", map[string]any{"role": "user", "content": " "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/messages?conversation_id=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid conversation_id", decodeJSON(t, rec)["detail"])

	rec = env.do(t, http.MethodGet, "/messages?conversation_id=9999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tools := decodeJSON(t, rec)["tools"].([]any)
	require.NotEmpty(t, tools)
	require.Equal(t, "list_dir", tools[0].(map[string]any)["tool_id"])

	// causality_message_id is mandatory.
	rec = env.do(t, http.MethodPost, "/tools/run", map[string]any{"tool_id": "stat_path"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "causality_message_id is required", decodeJSON(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/tools/run", map[string]any{
		"tool_id": "no_such_tool", "causality_message_id": 1,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/tools/run", map[string]any{
		"tool_id": "write_file", "causality_message_id": 1,
		"tool_input": map[string]any{"path": "a.txt", "content": "x"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, os.WriteFile(filepath.Join(env.toolRoot, "hello.txt"), []byte("hi there"), 0o644))
	rec = env.do(t, http.MethodPost, "/tools/run", map[string]any{
		"tool_id": "read_file", "causality_message_id": 1,
		"tool_input": map[string]any{"path": "hello.txt"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeJSON(t, rec)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "hi there", payload["output"].(map[string]any)["content"])

	// Handler failures stay 200 with success:false.
	rec = env.do(t, http.MethodPost, "/tools/run", map[string]any{
		"tool_id": "read_file", "causality_message_id": 1,
		"tool_input": map[string]any{"path": "missing.txt"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	payload = decodeJSON(t, rec)
	require.Equal(t, false, payload["success"])
	require.Nil(t, payload["output"])
	require.NotEmpty(t, payload["error"])

	// Every attempt past validation leaves a tool_run event.
	require.Equal(t, 4, countEvents(t, env.store, store.EventToolRun))
}

func TestModelEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://127.0.0.1:1", decodeJSON(t, rec)["model_url"])

	rec = env.do(t, http.MethodPost, "/model/switch", map[string]any{"model_url": "not a url"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "model_url must be an http(s) URL", decodeJSON(t, rec)["detail"])

	rec = env.do(t, http.MethodPost, "/model/switch", map[string]any{"model_url": "http://127.0.0.1:19999/"})
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeJSON(t, rec)
	require.Equal(t, "http://127.0.0.1:1", payload["previous"])
	require.Equal(t, "http://127.0.0.1:19999", payload["current"])

	rec = env.do(t, http.MethodGet, "/model", nil)
	require.Equal(t, "http://127.0.0.1:19999", decodeJSON(t, rec)["model_url"])

	require.Equal(t, 1, countEvents(t, env.store, store.EventModelSwitch))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", map[string]any{"content": "hello world"})
	require.Equal(t, http.StatusOK, rec.Code)

	metricsRec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	body := metricsRec.Body.String()
	require.Contains(t, body, "mygpt_ai_chat_active")
	require.Contains(t, body, "mygpt_ai_chat_requests_total")
}
