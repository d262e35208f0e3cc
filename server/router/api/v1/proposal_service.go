package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/ai/preference"
	"github.com/hrygo/mygpt/store"
)

type proposalResponse struct {
	ID                 int64   `json:"id"`
	ConversationID     int64   `json:"conversation_id"`
	Key                string  `json:"key"`
	Value              string  `json:"value"`
	ProposalText       string  `json:"proposal_text"`
	Rationale          *string `json:"rationale"`
	Status             string  `json:"status"`
	CreatedAt          string  `json:"created_at"`
	DecidedAt          *string `json:"decided_at"`
	CausalityMessageID *int64  `json:"causality_message_id"`
	AssistantMessageID *int64  `json:"assistant_message_id"`
}

// ListProposals filters proposals by conversation and status.
func (s *APIV1Service) ListProposals(c echo.Context) error {
	var find store.FindProposal

	conversationID, err := optionalInt64Param(c, "conversation_id")
	if err != nil {
		return err
	}
	find.ConversationID = conversationID

	if raw := c.QueryParam("status"); raw != "" {
		status := store.ProposalStatus(raw)
		switch status {
		case store.ProposalPending, store.ProposalApproved, store.ProposalRejected, store.ProposalDismissed:
			find.Status = &status
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}

	proposals, err := s.Store.ListProposals(c.Request().Context(), &find)
	if err != nil {
		return err
	}
	rows := make([]*proposalResponse, 0, len(proposals))
	for _, proposal := range proposals {
		rows = append(rows, convertProposal(proposal))
	}
	return c.JSON(http.StatusOK, map[string]any{"proposals": rows})
}

// ApproveProposal turns a pending proposal into a preference.
func (s *APIV1Service) ApproveProposal(c echo.Context) error {
	proposalID, err := proposalIDParam(c)
	if err != nil {
		return err
	}

	_, decision, err := s.Engine.Approve(c.Request().Context(), proposalID)
	if err != nil {
		return proposalError(err)
	}
	s.Metrics.RecordProposalDecision("approved")

	return c.JSON(http.StatusOK, map[string]any{
		"preference_id": decision.PreferenceID,
		"event_id":      decision.EventID,
	})
}

// RejectProposal marks a pending proposal rejected.
func (s *APIV1Service) RejectProposal(c echo.Context) error {
	proposalID, err := proposalIDParam(c)
	if err != nil {
		return err
	}

	_, decision, err := s.Engine.Reject(c.Request().Context(), proposalID)
	if err != nil {
		return proposalError(err)
	}
	s.Metrics.RecordProposalDecision("rejected")

	return c.JSON(http.StatusOK, map[string]int64{"event_id": decision.EventID})
}

func proposalIDParam(c echo.Context) (int64, error) {
	proposalID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid proposal id")
	}
	return proposalID, nil
}

func proposalError(err error) error {
	switch {
	case errors.Is(err, preference.ErrProposalNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "proposal not found")
	case errors.Is(err, preference.ErrProposalNotPending):
		return echo.NewHTTPError(http.StatusConflict, "proposal is not pending")
	default:
		return err
	}
}

func convertProposal(proposal *store.PreferenceProposal) *proposalResponse {
	return &proposalResponse{
		ID:                 proposal.ID,
		ConversationID:     proposal.ConversationID,
		Key:                proposal.Key,
		Value:              proposal.Value,
		ProposalText:       proposal.ProposalText,
		Rationale:          proposal.Rationale,
		Status:             string(proposal.Status),
		CreatedAt:          proposal.CreatedAt,
		DecidedAt:          proposal.DecidedAt,
		CausalityMessageID: proposal.CausalityMessageID,
		AssistantMessageID: proposal.AssistantMessageID,
	}
}
