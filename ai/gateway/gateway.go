// Package gateway streams completion tokens from a local llama.cpp-style
// inference server, degrading to a deterministic local echo when the server
// is unreachable.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

// DefaultModelURL is used when no URL is configured.
const DefaultModelURL = "http://127.0.0.1:8080"

// Config holds the streaming knobs. ConfigFromEnv reads the MYGPT_* values;
// tests construct Config directly.
type Config struct {
	ModelURL           string
	NPredict           int
	ReasoningFormat    string
	ReasoningInContent bool
	StopSequences      []string
	FallbackDelay      time.Duration
}

// ConfigFromEnv builds a Config from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		ModelURL:        strings.TrimRight(getEnv("MYGPT_MODEL_URL", DefaultModelURL), "/"),
		NPredict:        256,
		ReasoningFormat: "none",
		FallbackDelay:   50 * time.Millisecond,
	}
	if raw := os.Getenv("MYGPT_N_PREDICT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.NPredict = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("MYGPT_REASONING_FORMAT")); raw != "" {
		cfg.ReasoningFormat = raw
	}
	cfg.ReasoningInContent = strings.EqualFold(strings.TrimSpace(os.Getenv("MYGPT_REASONING_IN_CONTENT")), "true")
	if raw := strings.TrimSpace(os.Getenv("MYGPT_STOP_SEQS")); raw != "" {
		cfg.StopSequences = ParseStopSequences(raw)
	} else {
		cfg.StopSequences = DefaultStopSequences()
	}
	if raw := os.Getenv("MYGPT_FALLBACK_STREAM_DELAY_S"); raw != "" {
		if seconds, err := strconv.ParseFloat(raw, 64); err == nil && seconds >= 0 {
			cfg.FallbackDelay = time.Duration(seconds * float64(time.Second))
		}
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// DefaultStopSequences returns the stop strings that keep the model from
// simulating further transcript turns.
func DefaultStopSequences() []string {
	return []string{"\nUser:", "\r\nUser:", "\nSystem:", "\r\nSystem:"}
}

// ParseStopSequences accepts a JSON list or a newline-separated string.
func ParseStopSequences(raw string) []string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		var parsed []string
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			return nil
		}
		var sequences []string
		for _, s := range parsed {
			if s != "" {
				sequences = append(sequences, s)
			}
		}
		return sequences
	}
	var sequences []string
	for _, line := range strings.Split(value, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sequences = append(sequences, line)
		}
	}
	return sequences
}

// Gateway talks to the inference server. The current model URL is
// process-wide mutable state behind an atomic holder; the model-switch
// endpoint updates it and unsynchronized reads are last-writer-wins.
type Gateway struct {
	cfg     Config
	current atomic.Value // string
	client  *http.Client
}

func New(cfg Config) *Gateway {
	if cfg.ModelURL == "" {
		cfg.ModelURL = DefaultModelURL
	}
	g := &Gateway{
		cfg: cfg,
		// Streaming has no overall deadline; the client controls the
		// lifetime via disconnect.
		client: &http.Client{},
	}
	g.current.Store(strings.TrimRight(cfg.ModelURL, "/"))
	return g
}

// CurrentModelURL returns the model URL used for new requests.
func (g *Gateway) CurrentModelURL() string {
	return g.current.Load().(string)
}

// SwitchModel updates the current model URL and returns the previous one.
func (g *Gateway) SwitchModel(modelURL string) string {
	previous := g.CurrentModelURL()
	g.current.Store(strings.TrimRight(modelURL, "/"))
	return previous
}

type completionRequest struct {
	Prompt             string   `json:"prompt"`
	Stream             bool     `json:"stream"`
	NPredict           int      `json:"n_predict"`
	ReasoningFormat    string   `json:"reasoning_format"`
	ReasoningInContent bool     `json:"reasoning_in_content"`
	Stop               []string `json:"stop,omitempty"`
}

type completionFrame struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Generate streams tokens for the prompt. The returned channel is closed
// when the stream ends. On any network or decode failure the deterministic
// fallback generator takes over; the gateway never surfaces an error to the
// caller.
func (g *Gateway) Generate(ctx context.Context, messages []*store.Message, prompt string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		if err := g.stream(ctx, prompt, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("model server unreachable, using fallback", "error", err)
			g.fallback(ctx, messages, out)
		}
	}()
	return out
}

func (g *Gateway) stream(ctx context.Context, prompt string, out chan<- string) error {
	body := completionRequest{
		Prompt:             prompt,
		Stream:             true,
		NPredict:           g.cfg.NPredict,
		ReasoningFormat:    g.cfg.ReasoningFormat,
		ReasoningInContent: g.cfg.ReasoningInContent,
		Stop:               g.cfg.StopSequences,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.CurrentModelURL()+"/completion", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "completion request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("completion request returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var frame completionFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return errors.Wrap(err, "failed to decode completion frame")
		}
		if frame.Content != "" {
			select {
			case out <- frame.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if frame.Stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "completion stream read failed")
	}
	return nil
}

// fallback yields the word-split of "(no model server) Echo: {last user
// message}" with a small inter-word delay. Deterministic and observable by
// tests.
func (g *Gateway) fallback(ctx context.Context, messages []*store.Message, out chan<- string) {
	var lastUser string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == store.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}
	text := strings.TrimSpace("(no model server) Echo: " + lastUser)
	for _, word := range strings.Fields(text) {
		select {
		case out <- word + " ":
		case <-ctx.Done():
			return
		}
		if g.cfg.FallbackDelay > 0 {
			select {
			case <-time.After(g.cfg.FallbackDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Embed is declared but not implemented.
func (g *Gateway) Embed(ctx context.Context, text string) error {
	return errors.New("embed not implemented")
}

// Vision is declared but not implemented.
func (g *Gateway) Vision(ctx context.Context, image string) error {
	return errors.New("vision not implemented")
}
