package store

import (
	"context"
	"database/sql"

	"github.com/hrygo/mygpt/internal/profile"
)

// Driver is an interface for store database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate initializes the schema idempotently.
	Migrate(ctx context.Context) error

	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	GetLatestConversation(ctx context.Context) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)

	CreateMessage(ctx context.Context, create *CreateMessage) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*Message, error)
	LastMessageRole(ctx context.Context, conversationID int64) (*Role, error)
	GetConversationIDForMessage(ctx context.Context, messageID int64) (*int64, error)

	CreateEvent(ctx context.Context, create *Event) (*Event, error)
	ListEvents(ctx context.Context, find *FindEvent) ([]*Event, error)

	CreatePreference(ctx context.Context, create *Preference) (*Preference, error)
	ListPreferences(ctx context.Context, scope string) ([]*Preference, error)
	ListPreferencesSince(ctx context.Context, scope string, since *string) ([]*Preference, error)
	CreatePreferenceReset(ctx context.Context, create *PreferenceReset) (*PreferenceReset, error)
	LatestPreferenceReset(ctx context.Context, scope string) (*PreferenceReset, error)

	CreateProposal(ctx context.Context, create *PreferenceProposal) (*PreferenceProposal, error)
	GetProposal(ctx context.Context, id int64) (*PreferenceProposal, error)
	GetPendingProposal(ctx context.Context, conversationID int64) (*PreferenceProposal, error)
	ListProposals(ctx context.Context, find *FindProposal) ([]*PreferenceProposal, error)
	UpdateProposalStatus(ctx context.Context, id int64, status ProposalStatus) error

	// Transactional composites. The event rows are inserted in the same
	// transaction as the dependent writes.
	ApproveProposal(ctx context.Context, approve *DecideProposal) (*ProposalDecision, error)
	RejectProposal(ctx context.Context, reject *DecideProposal) (*ProposalDecision, error)
	ResetPreferences(ctx context.Context, reset *ResetPreferences) (*PreferenceReset, int64, error)
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return s.driver.GetConversation(ctx, id)
}

func (s *Store) GetLatestConversation(ctx context.Context) (*Conversation, error) {
	return s.driver.GetLatestConversation(ctx)
}

func (s *Store) ListConversations(ctx context.Context) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx)
}

func (s *Store) CreateMessage(ctx context.Context, create *CreateMessage) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	return s.driver.GetMessage(ctx, id)
}

func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	return s.driver.ListMessages(ctx, conversationID)
}

func (s *Store) LastMessageRole(ctx context.Context, conversationID int64) (*Role, error) {
	return s.driver.LastMessageRole(ctx, conversationID)
}

func (s *Store) GetConversationIDForMessage(ctx context.Context, messageID int64) (*int64, error) {
	return s.driver.GetConversationIDForMessage(ctx, messageID)
}

func (s *Store) CreateEvent(ctx context.Context, create *Event) (*Event, error) {
	return s.driver.CreateEvent(ctx, create)
}

func (s *Store) ListEvents(ctx context.Context, find *FindEvent) ([]*Event, error) {
	return s.driver.ListEvents(ctx, find)
}

func (s *Store) CreatePreference(ctx context.Context, create *Preference) (*Preference, error) {
	return s.driver.CreatePreference(ctx, create)
}

func (s *Store) ListPreferences(ctx context.Context, scope string) ([]*Preference, error) {
	return s.driver.ListPreferences(ctx, scope)
}

func (s *Store) ListPreferencesSince(ctx context.Context, scope string, since *string) ([]*Preference, error) {
	return s.driver.ListPreferencesSince(ctx, scope, since)
}

func (s *Store) CreatePreferenceReset(ctx context.Context, create *PreferenceReset) (*PreferenceReset, error) {
	return s.driver.CreatePreferenceReset(ctx, create)
}

func (s *Store) LatestPreferenceReset(ctx context.Context, scope string) (*PreferenceReset, error) {
	return s.driver.LatestPreferenceReset(ctx, scope)
}

func (s *Store) CreateProposal(ctx context.Context, create *PreferenceProposal) (*PreferenceProposal, error) {
	return s.driver.CreateProposal(ctx, create)
}

func (s *Store) GetProposal(ctx context.Context, id int64) (*PreferenceProposal, error) {
	return s.driver.GetProposal(ctx, id)
}

func (s *Store) GetPendingProposal(ctx context.Context, conversationID int64) (*PreferenceProposal, error) {
	return s.driver.GetPendingProposal(ctx, conversationID)
}

func (s *Store) ListProposals(ctx context.Context, find *FindProposal) ([]*PreferenceProposal, error) {
	return s.driver.ListProposals(ctx, find)
}

func (s *Store) UpdateProposalStatus(ctx context.Context, id int64, status ProposalStatus) error {
	return s.driver.UpdateProposalStatus(ctx, id, status)
}

func (s *Store) ApproveProposal(ctx context.Context, approve *DecideProposal) (*ProposalDecision, error) {
	return s.driver.ApproveProposal(ctx, approve)
}

func (s *Store) RejectProposal(ctx context.Context, reject *DecideProposal) (*ProposalDecision, error) {
	return s.driver.RejectProposal(ctx, reject)
}

func (s *Store) ResetPreferences(ctx context.Context, reset *ResetPreferences) (*PreferenceReset, int64, error) {
	return s.driver.ResetPreferences(ctx, reset)
}
