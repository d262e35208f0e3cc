// Package llmlog records every model interaction: an event row per request
// and response, plus optional on-disk transcripts keyed by trace id.
package llmlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

// Recorder writes LLM audit artifacts. Transcript files are best effort;
// event rows are not.
type Recorder struct {
	store   *store.Store
	enabled bool
	dir     string
}

// NewRecorder builds a recorder. Transcript files are written only when
// MYGPT_LOG_LLM is set to 1 or true; they land in MYGPT_LLM_LOG_DIR,
// defaulting to {dataDir}/llm_logs.
func NewRecorder(s *store.Store, dataDir string) *Recorder {
	raw := strings.TrimSpace(os.Getenv("MYGPT_LOG_LLM"))
	enabled := raw == "1" || strings.EqualFold(raw, "true")

	dir := os.Getenv("MYGPT_LLM_LOG_DIR")
	if dir == "" {
		dir = filepath.Join(dataDir, "llm_logs")
	}
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("failed to create llm log dir, file logging disabled", "dir", dir, "error", err)
			enabled = false
		}
	}
	return &Recorder{store: s, enabled: enabled, dir: dir}
}

// NewTrace returns a fresh trace id, a 32-char hex string.
func (r *Recorder) NewTrace() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Enabled reports whether the LLM side channel is active.
func (r *Recorder) Enabled() bool {
	return r.enabled
}

// RecordRequest persists the request event (llm_request or
// llm_regenerate_request) along with the full prompt, returning the event id
// for the response record to reference. A no-op when the side channel is
// disabled, reporting event id 0.
func (r *Recorder) RecordRequest(ctx context.Context, traceID, eventType string, conversationID, causalityMessageID *int64, prompt, modelURL string) (int64, error) {
	if !r.enabled {
		return 0, nil
	}
	promptPath := filepath.Join(r.dir, traceID+".prompt.txt")
	r.writeFile(traceID+".prompt.txt", prompt)

	payload, err := json.Marshal(map[string]any{
		"trace_id":      traceID,
		"model_url":     modelURL,
		"prompt_path":   promptPath,
		"prompt_sha256": hexSHA256(prompt),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode llm request payload")
	}
	event, err := r.store.CreateEvent(ctx, &store.Event{
		Type:               eventType,
		Payload:            string(payload),
		ConversationID:     conversationID,
		CausalityMessageID: causalityMessageID,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to record llm request event")
	}
	return event.ID, nil
}

// RecordResponse persists the llm_response event referencing the request
// event and both transcript paths, with digests of the raw and cleaned text.
// A no-op when disabled; a stopped stream is still recorded.
func (r *Recorder) RecordResponse(ctx context.Context, traceID string, conversationID, causalityMessageID *int64, requestEventID int64, raw, cleaned string, stopped bool) error {
	if !r.enabled {
		return nil
	}
	responsePath := filepath.Join(r.dir, traceID+".response.txt")
	cleanedPath := filepath.Join(r.dir, traceID+".response.cleaned.txt")
	r.writeFile(traceID+".response.txt", raw)
	r.writeFile(traceID+".response.cleaned.txt", cleaned)

	payload, err := json.Marshal(map[string]any{
		"trace_id":                traceID,
		"request_event_id":        requestEventID,
		"response_path":           responsePath,
		"response_sha256":         hexSHA256(raw),
		"response_cleaned_path":   cleanedPath,
		"response_cleaned_sha256": hexSHA256(cleaned),
		"stopped":                 stopped,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode llm response payload")
	}
	_, err = r.store.CreateEvent(ctx, &store.Event{
		Type:               store.EventLLMResponse,
		Payload:            string(payload),
		ConversationID:     conversationID,
		CausalityMessageID: causalityMessageID,
	})
	return errors.Wrap(err, "failed to record llm response event")
}

func (r *Recorder) writeFile(name, content string) {
	if !r.enabled {
		return
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		slog.Warn("failed to write llm transcript", "path", path, "error", err)
	}
}

func hexSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
