package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mygpt/ai/policy"
	"github.com/hrygo/mygpt/ai/prompt"
	"github.com/hrygo/mygpt/store"
)

type chatRequest struct {
	Content        string `json:"content"`
	ConversationID *int64 `json:"conversation_id"`
}

type regenerateRequest struct {
	TargetMessageID int64  `json:"target_message_id"`
	ConversationID  *int64 `json:"conversation_id"`
}

// Chat runs the full pipeline: persist the user turn, gate through the
// response policy, stream the model output as SSE, persist the assistant
// turn, and close with proposal and done frames.
func (s *APIV1Service) Chat(c echo.Context) error {
	if !s.chatLimiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	}
	start := time.Now()
	closeChat := s.Metrics.ChatStarted()
	defer closeChat()

	var request chatRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	content := strings.TrimSpace(request.Content)
	if content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content must not be empty")
	}

	ctx := c.Request().Context()
	conversation, err := s.resolveConversation(c, request.ConversationID)
	if err != nil {
		return err
	}

	previousRole, err := s.Store.LastMessageRole(ctx, conversation.ID)
	if err != nil {
		return err
	}
	decision := policy.Evaluate(content, previousRole)

	userMessage, err := s.Store.CreateMessage(ctx, &store.CreateMessage{
		ConversationID: conversation.ID,
		Role:           store.RoleUser,
		Content:        content,
	})
	if err != nil {
		return err
	}
	if err := s.appendEvent(ctx, store.EventUserPrompt, conversation.ID, &userMessage.ID,
		map[string]any{"message_id": userMessage.ID}); err != nil {
		return err
	}

	beginSSE(c)

	if decision.Action == policy.ActionClarify {
		if _, err := s.Store.CreateMessage(ctx, &store.CreateMessage{
			ConversationID: conversation.ID,
			Role:           store.RoleAssistant,
			Content:        decision.Question,
		}); err != nil {
			return err
		}
		_ = writeSSE(c, map[string]any{"token": decision.Question})
		_ = writeSSE(c, map[string]any{"done": true})
		s.Metrics.RecordChatRequest("chat", time.Since(start), "clarify")
		return nil
	}

	messages, err := s.Store.ListMessages(ctx, conversation.ID)
	if err != nil {
		return err
	}
	outcome, err := s.streamAndPersist(c, streamParams{
		conversation:     conversation,
		messages:         messages,
		causalityMessage: userMessage,
		requestEventType: store.EventLLMRequest,
		inferProposal:    true,
	})
	s.Metrics.RecordChatRequest("chat", time.Since(start), outcome)
	return err
}

// Regenerate re-answers an earlier assistant message. Same streaming
// contract as Chat, minus the user turn, the policy gate, and proposal
// inference.
func (s *APIV1Service) Regenerate(c echo.Context) error {
	if !s.chatLimiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	}
	start := time.Now()
	closeChat := s.Metrics.ChatStarted()
	defer closeChat()

	var request regenerateRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	target, err := s.Store.GetMessage(ctx, request.TargetMessageID)
	if err != nil {
		return err
	}
	if target == nil {
		return echo.NewHTTPError(http.StatusNotFound, "target message not found")
	}
	if target.Role != store.RoleAssistant {
		return echo.NewHTTPError(http.StatusBadRequest, "target message is not an assistant message")
	}

	conversationID := request.ConversationID
	if conversationID == nil {
		conversationID, err = s.Store.GetConversationIDForMessage(ctx, target.ID)
		if err != nil {
			return err
		}
	}
	if conversationID == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	conversation, err := s.Store.GetConversation(ctx, *conversationID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	if err := s.appendEvent(ctx, store.EventRegenerateRequest, conversation.ID, &target.ID,
		map[string]any{"target_message_id": target.ID}); err != nil {
		return err
	}

	all, err := s.Store.ListMessages(ctx, conversation.ID)
	if err != nil {
		return err
	}
	// The target answer is being replaced, so it must not feed the prompt.
	messages := make([]*store.Message, 0, len(all))
	for _, message := range all {
		if message.ID != target.ID {
			messages = append(messages, message)
		}
	}

	beginSSE(c)
	outcome, err := s.streamAndPersist(c, streamParams{
		conversation:     conversation,
		messages:         messages,
		causalityMessage: target,
		requestEventType: store.EventLLMRegenerateRequest,
		correctsID:       &target.ID,
	})
	s.Metrics.RecordChatRequest("regenerate", time.Since(start), outcome)
	return err
}

type streamParams struct {
	conversation     *store.Conversation
	messages         []*store.Message
	causalityMessage *store.Message
	requestEventType string
	correctsID       *int64
	inferProposal    bool
}

// streamAndPersist drives the gateway stream over SSE and runs the
// post-stream persistence. The returned outcome labels the metrics sample.
func (s *APIV1Service) streamAndPersist(c echo.Context, params streamParams) (string, error) {
	ctx := c.Request().Context()
	// Post-stream writes must survive a client disconnect.
	persistCtx := context.WithoutCancel(ctx)

	effective, err := s.Engine.Effective(ctx, store.DefaultScope)
	if err != nil {
		return "error", err
	}
	assembled := s.Assembler.Assemble(params.messages, effective)

	traceID := s.Recorder.NewTrace()
	requestEventID, err := s.Recorder.RecordRequest(ctx, traceID, params.requestEventType,
		&params.conversation.ID, &params.causalityMessage.ID, assembled, s.Gateway.CurrentModelURL())
	if err != nil {
		return "error", err
	}

	var raw strings.Builder
	stopped := false
	tokenCount := 0
	tokens := s.Gateway.Generate(ctx, params.messages, assembled)

stream:
	for {
		select {
		case token, ok := <-tokens:
			if !ok {
				break stream
			}
			raw.WriteString(token)
			tokenCount++
			if err := writeSSE(c, map[string]any{"token": token}); err != nil {
				stopped = true
				break stream
			}
		case <-ctx.Done():
			stopped = true
			break stream
		}
	}
	s.Metrics.RecordStreamTokens(tokenCount)

	rawText := raw.String()
	if stopped && rawText != "" {
		rawText += "\n\n[stopped]"
	}
	cleaned := prompt.CleanAssistantResponse(rawText)

	var proposal *store.PreferenceProposal
	if cleaned != "" {
		assistantMessage, err := s.Store.CreateMessage(persistCtx, &store.CreateMessage{
			ConversationID:    params.conversation.ID,
			Role:              store.RoleAssistant,
			Content:           cleaned,
			CorrectsMessageID: params.correctsID,
		})
		if err != nil {
			return "error", err
		}

		if params.inferProposal && !stopped {
			draft, err := s.Engine.InferProposal(persistCtx, params.conversation.ID)
			if err != nil {
				return "error", err
			}
			if draft != nil {
				draft.CausalityMessageID = &params.causalityMessage.ID
				draft.AssistantMessageID = &assistantMessage.ID
				proposal, err = s.Store.CreateProposal(persistCtx, draft)
				if err != nil {
					return "error", err
				}
				s.Metrics.RecordProposalDecision("proposed")
			}
		}

		if err := s.appendEvent(persistCtx, store.EventAssistantResponse, params.conversation.ID,
			&params.causalityMessage.ID, map[string]any{"message_id": assistantMessage.ID}); err != nil {
			return "error", err
		}
	}

	if err := s.Recorder.RecordResponse(persistCtx, traceID, &params.conversation.ID,
		&params.causalityMessage.ID, requestEventID, rawText, cleaned, stopped); err != nil {
		return "error", err
	}

	if stopped {
		// No terminal frame on cancellation; the stream just ends.
		return "stopped", nil
	}
	if proposal != nil {
		_ = writeSSE(c, map[string]any{"proposal": convertProposal(proposal)})
	}
	_ = writeSSE(c, map[string]any{"done": true})
	return "ok", nil
}

func (s *APIV1Service) appendEvent(ctx context.Context, eventType string, conversationID int64, causalityMessageID *int64, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.Store.CreateEvent(ctx, &store.Event{
		Type:               eventType,
		Payload:            string(encoded),
		ConversationID:     &conversationID,
		CausalityMessageID: causalityMessageID,
	})
	return err
}

func beginSSE(c echo.Context) {
	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

// writeSSE emits one frame: "data: <compact JSON>\n\n".
func writeSSE(c echo.Context, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", encoded); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
