package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mygpt/store"
)

type preferenceResponse struct {
	ID               int64  `json:"id"`
	Key              string `json:"key"`
	Value            string `json:"value"`
	Scope            string `json:"scope"`
	CreatedAt        string `json:"created_at"`
	ApprovedEventID  *int64 `json:"approved_event_id"`
	SourceProposalID *int64 `json:"source_proposal_id"`
}

type preferenceResetResponse struct {
	ID           int64  `json:"id"`
	Scope        string `json:"scope"`
	CreatedAt    string `json:"created_at"`
	ResetEventID *int64 `json:"reset_event_id"`
}

// GetPreferences returns the scope's latest reset and every preference row
// ever approved, pre-reset rows included. Resets mark a cutoff for the
// effective view but never hide history from the listing.
func (s *APIV1Service) GetPreferences(c echo.Context) error {
	ctx := c.Request().Context()
	scope := c.QueryParam("scope")
	if scope == "" {
		scope = store.DefaultScope
	}

	reset, err := s.Store.LatestPreferenceReset(ctx, scope)
	if err != nil {
		return err
	}
	var resetResponse *preferenceResetResponse
	if reset != nil {
		resetResponse = &preferenceResetResponse{
			ID:           reset.ID,
			Scope:        reset.Scope,
			CreatedAt:    reset.CreatedAt,
			ResetEventID: reset.ResetEventID,
		}
	}

	preferences, err := s.Store.ListPreferences(ctx, scope)
	if err != nil {
		return err
	}
	rows := make([]*preferenceResponse, 0, len(preferences))
	for _, preference := range preferences {
		rows = append(rows, &preferenceResponse{
			ID:               preference.ID,
			Key:              preference.Key,
			Value:            preference.Value,
			Scope:            preference.Scope,
			CreatedAt:        preference.CreatedAt,
			ApprovedEventID:  preference.ApprovedEventID,
			SourceProposalID: preference.SourceProposalID,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"scope":       scope,
		"reset":       resetResponse,
		"preferences": rows,
	})
}

// ResetPreferences appends a cutoff for the scope. Parameters arrive as
// query values.
func (s *APIV1Service) ResetPreferences(c echo.Context) error {
	scope := c.QueryParam("scope")
	if scope == "" {
		scope = store.DefaultScope
	}

	conversationID, err := optionalInt64Param(c, "conversation_id")
	if err != nil {
		return err
	}
	causalityMessageID, err := optionalInt64Param(c, "causality_message_id")
	if err != nil {
		return err
	}

	reset, eventID, err := s.Engine.Reset(c.Request().Context(), scope, conversationID, causalityMessageID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]int64{
		"reset_id": reset.ID,
		"event_id": eventID,
	})
}

func optionalInt64Param(c echo.Context, name string) (*int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &value, nil
}
