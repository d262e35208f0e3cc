package preference

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/mygpt/internal/profile"
	"github.com/hrygo/mygpt/store"
	"github.com/hrygo/mygpt/store/db/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, int64) {
	t.Helper()
	dir := t.TempDir()
	testProfile := &profile.Profile{Mode: "dev", Data: dir, DBPath: filepath.Join(dir, "test.db")}
	driver, err := sqlite.NewDB(testProfile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))

	s := store.New(driver, testProfile)
	conversation, err := s.GetLatestConversation(context.Background())
	require.NoError(t, err)
	return NewEngine(s), s, conversation.ID
}

func addUserMessage(t *testing.T, s *store.Store, conversationID int64, content string) {
	t.Helper()
	_, err := s.CreateMessage(context.Background(), &store.CreateMessage{
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        content,
	})
	require.NoError(t, err)
}

func TestEffectiveEmpty(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	effective, err := engine.Effective(context.Background(), store.DefaultScope)
	require.NoError(t, err)
	require.Empty(t, effective)
}

func TestEffectiveLastWins(t *testing.T) {
	ctx := context.Background()
	engine, s, _ := newTestEngine(t)

	_, err := s.CreatePreference(ctx, &store.Preference{Key: "verbosity", Value: "concise"})
	require.NoError(t, err)
	_, err = s.CreatePreference(ctx, &store.Preference{Key: "verbosity", Value: "detailed"})
	require.NoError(t, err)

	effective, err := engine.Effective(ctx, store.DefaultScope)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"verbosity": "detailed"}, effective)
}

func TestEffectiveHonorsReset(t *testing.T) {
	ctx := context.Background()
	engine, s, _ := newTestEngine(t)

	_, err := s.CreatePreference(ctx, &store.Preference{Key: "verbosity", Value: "concise"})
	require.NoError(t, err)

	_, _, err = engine.Reset(ctx, store.DefaultScope, nil, nil)
	require.NoError(t, err)

	effective, err := engine.Effective(ctx, store.DefaultScope)
	require.NoError(t, err)
	require.Empty(t, effective)

	time.Sleep(5 * time.Millisecond)
	_, err = s.CreatePreference(ctx, &store.Preference{Key: "format", Value: "bullets"})
	require.NoError(t, err)

	effective, err = engine.Effective(ctx, store.DefaultScope)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"format": "bullets"}, effective)

	eventType := store.EventPreferencesReset
	events, err := s.ListEvents(ctx, &store.FindEvent{Type: &eventType})
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &payload))
	require.Equal(t, "user", payload["actor"])
	require.Equal(t, store.DefaultScope, payload["scope"])
}

func TestInferProposalRepeatedTerm(t *testing.T) {
	ctx := context.Background()
	engine, s, conversationID := newTestEngine(t)

	addUserMessage(t, s, conversationID, "Please keep it concise.")
	addUserMessage(t, s, conversationID, "Again, a brief answer please.")

	draft, err := engine.InferProposal(ctx, conversationID)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, "verbosity", draft.Key)
	require.Equal(t, "concise", draft.Value)
	require.Equal(t, "Prefer concise answers by default.", draft.ProposalText)
	require.NotNil(t, draft.Rationale)
	require.Equal(t, proposalRationale, *draft.Rationale)
	require.Equal(t, store.ProposalPending, draft.Status)
}

func TestInferProposalRequiresTwoSignals(t *testing.T) {
	ctx := context.Background()
	engine, s, conversationID := newTestEngine(t)

	addUserMessage(t, s, conversationID, "Please keep it concise.")
	addUserMessage(t, s, conversationID, "Tell me about Go generics.")

	draft, err := engine.InferProposal(ctx, conversationID)
	require.NoError(t, err)
	require.Nil(t, draft)
}

func TestInferProposalWindowIsLastSixUserMessages(t *testing.T) {
	ctx := context.Background()
	engine, s, conversationID := newTestEngine(t)

	// Two concise signals pushed out of the window by six later messages.
	addUserMessage(t, s, conversationID, "concise please")
	addUserMessage(t, s, conversationID, "keep it brief")
	for i := 0; i < 6; i++ {
		addUserMessage(t, s, conversationID, "an ordinary question")
	}

	draft, err := engine.InferProposal(ctx, conversationID)
	require.NoError(t, err)
	require.Nil(t, draft)
}

func TestInferProposalTieBrokenByCandidateOrder(t *testing.T) {
	ctx := context.Background()
	engine, s, conversationID := newTestEngine(t)

	// Both "concise" and "bullets" appear twice; the earlier candidate wins.
	addUserMessage(t, s, conversationID, "concise bullets please")
	addUserMessage(t, s, conversationID, "short bullet list")

	draft, err := engine.InferProposal(ctx, conversationID)
	require.NoError(t, err)
	require.NotNil(t, draft)
	require.Equal(t, "verbosity", draft.Key)
	require.Equal(t, "concise", draft.Value)
}

func TestInferProposalSkipsWhenAlreadyEffective(t *testing.T) {
	ctx := context.Background()
	engine, s, conversationID := newTestEngine(t)

	_, err := s.CreatePreference(ctx, &store.Preference{Key: "verbosity", Value: "concise"})
	require.NoError(t, err)

	addUserMessage(t, s, conversationID, "concise please")
	addUserMessage(t, s, conversationID, "make it brief")

	draft, err := engine.InferProposal(ctx, conversationID)
	require.NoError(t, err)
	require.Nil(t, draft)
}

func TestInferProposalSkipsWhenPendingExists(t *testing.T) {
	ctx := context.Background()
	engine, s, conversationID := newTestEngine(t)

	_, err := s.CreateProposal(ctx, &store.PreferenceProposal{
		ConversationID: conversationID,
		Key:            "format",
		Value:          "bullets",
		ProposalText:   "Prefer bullet lists when possible.",
	})
	require.NoError(t, err)

	addUserMessage(t, s, conversationID, "concise please")
	addUserMessage(t, s, conversationID, "make it brief")

	draft, err := engine.InferProposal(ctx, conversationID)
	require.NoError(t, err)
	require.Nil(t, draft)
}

func TestApproveLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, s, conversationID := newTestEngine(t)

	proposal, err := s.CreateProposal(ctx, &store.PreferenceProposal{
		ConversationID: conversationID,
		Key:            "verbosity",
		Value:          "concise",
		ProposalText:   "Prefer concise answers by default.",
	})
	require.NoError(t, err)

	_, decision, err := engine.Approve(ctx, proposal.ID)
	require.NoError(t, err)
	require.NotNil(t, decision.PreferenceID)

	eventType := store.EventPreferenceApproved
	events, err := s.ListEvents(ctx, &store.FindEvent{Type: &eventType})
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &payload))
	require.Equal(t, "user", payload["actor"])
	require.Equal(t, float64(proposal.ID), payload["proposal_id"])
	require.Equal(t, "verbosity", payload["key"])
	require.Equal(t, "concise", payload["value"])

	effective, err := engine.Effective(ctx, store.DefaultScope)
	require.NoError(t, err)
	require.Equal(t, "concise", effective["verbosity"])

	// A second decision on the same proposal conflicts.
	_, _, err = engine.Approve(ctx, proposal.ID)
	require.ErrorIs(t, err, ErrProposalNotPending)
	_, _, err = engine.Reject(ctx, proposal.ID)
	require.ErrorIs(t, err, ErrProposalNotPending)
}

func TestDecisionOnMissingProposal(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, _, err := engine.Approve(context.Background(), 9999)
	require.ErrorIs(t, err, ErrProposalNotFound)
	_, _, err = engine.Reject(context.Background(), 9999)
	require.ErrorIs(t, err, ErrProposalNotFound)
}
