package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mygpt/store"
)

type conversationResponse struct {
	ID           int64   `json:"id"`
	Title        *string `json:"title"`
	CreatedAt    string  `json:"created_at"`
	MessageCount int64   `json:"message_count"`
}

type createConversationRequest struct {
	Title *string `json:"title"`
}

// ListConversations returns all conversations, newest first, with message
// counts.
func (s *APIV1Service) ListConversations(c echo.Context) error {
	conversations, err := s.Store.ListConversations(c.Request().Context())
	if err != nil {
		return err
	}
	response := make([]*conversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		response = append(response, convertConversation(conversation))
	}
	return c.JSON(http.StatusOK, response)
}

// CreateConversation creates a conversation with an optional title.
func (s *APIV1Service) CreateConversation(c echo.Context) error {
	var request createConversationRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if request.Title != nil {
		trimmed := strings.TrimSpace(*request.Title)
		if trimmed == "" {
			request.Title = nil
		} else {
			request.Title = &trimmed
		}
	}

	conversation, err := s.Store.CreateConversation(c.Request().Context(), &store.Conversation{
		Title: request.Title,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"id": conversation.ID})
}

func convertConversation(conversation *store.Conversation) *conversationResponse {
	return &conversationResponse{
		ID:           conversation.ID,
		Title:        conversation.Title,
		CreatedAt:    conversation.CreatedAt,
		MessageCount: conversation.MessageCount,
	}
}
