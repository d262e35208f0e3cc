// Package preference computes effective defaults and drives the proposal
// lifecycle. Preferences are never edited in place: approvals append rows,
// resets append a cutoff, and the effective view is derived on read.
package preference

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

// recentUserWindow is how many trailing user messages the inference scans.
const recentUserWindow = 6

// minSignalCount is the number of distinct recent user messages that must
// mention a candidate before it becomes a proposal.
const minSignalCount = 2

// proposalRationale is stored with every inferred proposal.
const proposalRationale = "This shows up repeatedly in recent messages; store it as a default?"

var (
	// ErrProposalNotFound indicates the proposal id does not exist.
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrProposalNotPending indicates the proposal was already decided.
	ErrProposalNotPending = errors.New("proposal is not pending")
)

// candidate is one inferable default. Order matters: earlier candidates win
// ties.
type candidate struct {
	Key          string
	Value        string
	Triggers     []string
	ProposalText string
}

var candidates = []candidate{
	{
		Key:          "verbosity",
		Value:        "concise",
		Triggers:     []string{"concise", "brief", "short", "terse"},
		ProposalText: "Prefer concise answers by default.",
	},
	{
		Key:          "verbosity",
		Value:        "detailed",
		Triggers:     []string{"detailed", "detail", "thorough", "full"},
		ProposalText: "Prefer detailed answers by default.",
	},
	{
		Key:          "format",
		Value:        "bullets",
		Triggers:     []string{"bullet", "bullets", "bullet points"},
		ProposalText: "Prefer bullet lists when possible.",
	},
}

// Engine derives preference state from the append-only store.
type Engine struct {
	store *store.Store
}

func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Effective returns the preferences in force for a scope: rows created
// strictly after the latest reset, later rows overriding earlier ones for
// the same key.
func (e *Engine) Effective(ctx context.Context, scope string) (map[string]string, error) {
	if scope == "" {
		scope = store.DefaultScope
	}
	var since *string
	reset, err := e.store.LatestPreferenceReset(ctx, scope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load latest preference reset")
	}
	if reset != nil {
		since = &reset.CreatedAt
	}

	preferences, err := e.store.ListPreferencesSince(ctx, scope, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list preferences")
	}
	effective := make(map[string]string, len(preferences))
	for _, preference := range preferences {
		effective[preference.Key] = preference.Value
	}
	return effective, nil
}

// InferProposal inspects the trailing user messages of a conversation and
// returns an unsaved proposal draft, or nil when nothing should be proposed.
// At most one pending proposal may exist per conversation; when one does, no
// new inference runs.
func (e *Engine) InferProposal(ctx context.Context, conversationID int64) (*store.PreferenceProposal, error) {
	pending, err := e.store.GetPendingProposal(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check pending proposal")
	}
	if pending != nil {
		return nil, nil
	}

	messages, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	window := recentUserContents(messages, recentUserWindow)
	if len(window) == 0 {
		return nil, nil
	}

	effective, err := e.Effective(ctx, store.DefaultScope)
	if err != nil {
		return nil, err
	}

	best := -1
	bestCount := 0
	for i, cand := range candidates {
		count := 0
		for _, content := range window {
			if mentionsAny(content, cand.Triggers) {
				count++
			}
		}
		// Strict > keeps the first candidate on ties.
		if count > bestCount {
			best = i
			bestCount = count
		}
	}
	if best == -1 || bestCount < minSignalCount {
		return nil, nil
	}

	winner := candidates[best]
	if effective[winner.Key] == winner.Value {
		return nil, nil
	}

	rationale := proposalRationale
	return &store.PreferenceProposal{
		ConversationID: conversationID,
		Key:            winner.Key,
		Value:          winner.Value,
		ProposalText:   winner.ProposalText,
		Rationale:      &rationale,
		Status:         store.ProposalPending,
	}, nil
}

// Approve turns a pending proposal into a preference. The decision event,
// the preference row, and the status flip commit atomically.
func (e *Engine) Approve(ctx context.Context, proposalID int64) (*store.PreferenceProposal, *store.ProposalDecision, error) {
	proposal, err := e.loadPending(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := decisionPayload(proposal)
	if err != nil {
		return nil, nil, err
	}
	decision, err := e.store.ApproveProposal(ctx, &store.DecideProposal{
		ProposalID:   proposalID,
		EventPayload: payload,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to approve proposal")
	}
	return proposal, decision, nil
}

// Reject marks a pending proposal rejected and records the decision event.
func (e *Engine) Reject(ctx context.Context, proposalID int64) (*store.PreferenceProposal, *store.ProposalDecision, error) {
	proposal, err := e.loadPending(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := decisionPayload(proposal)
	if err != nil {
		return nil, nil, err
	}
	decision, err := e.store.RejectProposal(ctx, &store.DecideProposal{
		ProposalID:   proposalID,
		EventPayload: payload,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to reject proposal")
	}
	return proposal, decision, nil
}

// Reset appends a cutoff for the scope. Existing preference rows survive for
// audit but stop contributing to the effective view.
func (e *Engine) Reset(ctx context.Context, scope string, conversationID, causalityMessageID *int64) (*store.PreferenceReset, int64, error) {
	if scope == "" {
		scope = store.DefaultScope
	}
	payload, err := json.Marshal(map[string]any{"actor": "user", "scope": scope})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to encode reset payload")
	}
	reset, eventID, err := e.store.ResetPreferences(ctx, &store.ResetPreferences{
		Scope:              scope,
		ConversationID:     conversationID,
		CausalityMessageID: causalityMessageID,
		EventPayload:       string(payload),
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to reset preferences")
	}
	return reset, eventID, nil
}

func (e *Engine) loadPending(ctx context.Context, proposalID int64) (*store.PreferenceProposal, error) {
	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load proposal")
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	if proposal.Status != store.ProposalPending {
		return nil, ErrProposalNotPending
	}
	return proposal, nil
}

func decisionPayload(proposal *store.PreferenceProposal) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"actor":       "user",
		"proposal_id": proposal.ID,
		"key":         proposal.Key,
		"value":       proposal.Value,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode decision payload")
	}
	return string(payload), nil
}

// recentUserContents returns the lowercased contents of the last n user
// messages in order.
func recentUserContents(messages []*store.Message, n int) []string {
	var contents []string
	for i := len(messages) - 1; i >= 0 && len(contents) < n; i-- {
		if messages[i].Role == store.RoleUser {
			contents = append(contents, strings.ToLower(messages[i].Content))
		}
	}
	// Restore chronological order.
	for i, j := 0, len(contents)-1; i < j; i, j = i+1, j-1 {
		contents[i], contents[j] = contents[j], contents[i]
	}
	return contents
}

func mentionsAny(content string, triggers []string) bool {
	for _, trigger := range triggers {
		if strings.Contains(content, trigger) {
			return true
		}
	}
	return false
}
