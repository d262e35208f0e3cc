package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/ai/tools"
	"github.com/hrygo/mygpt/store"
)

type runToolRequest struct {
	ToolID             string         `json:"tool_id"`
	ToolInput          map[string]any `json:"tool_input"`
	CausalityMessageID *int64         `json:"causality_message_id"`
	ConversationID     *int64         `json:"conversation_id"`
	Confirmed          bool           `json:"confirmed"`
}

// ListTools returns the tool definitions in registration order.
func (s *APIV1Service) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"tools": s.Tools.Definitions()})
}

// RunTool executes a tool. Gate failures map to HTTP errors; handler
// failures come back as {success:false}. Either way a tool_run event is
// appended with timing and outcome.
func (s *APIV1Service) RunTool(c echo.Context) error {
	ctx := c.Request().Context()

	var request runToolRequest
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if request.ToolID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool_id is required")
	}
	if request.CausalityMessageID == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "causality_message_id is required")
	}

	start := time.Now()
	output, runErr := s.Tools.Run(ctx, request.ToolID, request.ToolInput, request.Confirmed)
	duration := time.Since(start)
	s.Metrics.RecordToolRun(request.ToolID, duration, runErr == nil)

	errorText := ""
	if runErr != nil {
		errorText = runErr.Error()
	}
	s.recordToolRun(c, &request, duration, runErr == nil, errorText)

	if runErr != nil {
		switch {
		case errors.Is(runErr, tools.ErrUnknownTool):
			return echo.NewHTTPError(http.StatusNotFound, runErr.Error())
		case errors.Is(runErr, tools.ErrNetworkDisabled), errors.Is(runErr, tools.ErrConfirmationRequired):
			return echo.NewHTTPError(http.StatusBadRequest, runErr.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{
			"success": false,
			"output":  nil,
			"error":   errorText,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"output":  output,
		"error":   nil,
	})
}

func (s *APIV1Service) recordToolRun(c echo.Context, request *runToolRequest, duration time.Duration, success bool, errorText string) {
	payload, err := json.Marshal(map[string]any{
		"tool_id":      request.ToolID,
		"success":      success,
		"error":        errorText,
		"duration_sec": duration.Seconds(),
	})
	if err != nil {
		return
	}
	event := &store.Event{
		Type:               store.EventToolRun,
		Payload:            string(payload),
		ConversationID:     request.ConversationID,
		CausalityMessageID: request.CausalityMessageID,
	}
	if _, err := s.Store.CreateEvent(c.Request().Context(), event); err != nil {
		slog.Warn("failed to record tool_run event", "tool_id", request.ToolID, "error", err)
	}
}
