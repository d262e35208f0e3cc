package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mygpt/store"
)

type messageResponse struct {
	ID                int64  `json:"id"`
	Role              string `json:"role"`
	Content           string `json:"content"`
	Timestamp         string `json:"timestamp"`
	CorrectsMessageID *int64 `json:"corrects_message_id"`
}

type createMessageRequest struct {
	Role              string `json:"role"`
	Content           string `json:"content"`
	CorrectsMessageID *int64 `json:"corrects_message_id"`
	ConversationID    *int64 `json:"conversation_id"`
}

// ListMessages returns messages for a conversation in id order, defaulting
// to the latest conversation.
func (s *APIV1Service) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()

	var conversationID int64
	if raw := c.QueryParam("conversation_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation_id")
		}
		conversation, err := s.Store.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		if conversation == nil {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		conversationID = conversation.ID
	} else {
		conversation, err := s.Store.GetLatestConversation(ctx)
		if err != nil {
			return err
		}
		if conversation == nil {
			return c.JSON(http.StatusOK, []*messageResponse{})
		}
		conversationID = conversation.ID
	}

	messages, err := s.Store.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	response := make([]*messageResponse, 0, len(messages))
	for _, message := range messages {
		response = append(response, convertMessage(message))
	}
	return c.JSON(http.StatusOK, response)
}

// CreateMessage appends a message without running the chat pipeline.
func (s *APIV1Service) CreateMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var request createMessageRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	role := store.Role(request.Role)
	if role != store.RoleUser && role != store.RoleAssistant {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be user or assistant")
	}
	content := strings.TrimSpace(request.Content)
	if content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content must not be empty")
	}

	conversation, err := s.resolveConversation(c, request.ConversationID)
	if err != nil {
		return err
	}
	message, err := s.Store.CreateMessage(ctx, &store.CreateMessage{
		ConversationID:    conversation.ID,
		Role:              role,
		Content:           content,
		CorrectsMessageID: request.CorrectsMessageID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"id": message.ID})
}

// resolveConversation maps an optional conversation id to a conversation:
// the given one (404 when absent), else the latest, else a fresh "Legacy"
// conversation.
func (s *APIV1Service) resolveConversation(c echo.Context, conversationID *int64) (*store.Conversation, error) {
	ctx := c.Request().Context()

	if conversationID != nil {
		conversation, err := s.Store.GetConversation(ctx, *conversationID)
		if err != nil {
			return nil, err
		}
		if conversation == nil {
			return nil, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return conversation, nil
	}

	conversation, err := s.Store.GetLatestConversation(ctx)
	if err != nil {
		return nil, err
	}
	if conversation != nil {
		return conversation, nil
	}

	title := "Legacy"
	return s.Store.CreateConversation(ctx, &store.Conversation{Title: &title})
}

func convertMessage(message *store.Message) *messageResponse {
	return &messageResponse{
		ID:                message.ID,
		Role:              string(message.Role),
		Content:           message.Content,
		Timestamp:         message.Timestamp,
		CorrectsMessageID: message.CorrectsMessageID,
	}
}
