package store

// ProposalStatus is the lifecycle state of a preference proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalDismissed ProposalStatus = "dismissed"
)

// DefaultScope is the preference scope used when none is given.
const DefaultScope = "global"

// Preference is an approved key/value default. A later entry for the same
// key overrides earlier ones.
type Preference struct {
	ID               int64
	Key              string
	Value            string
	Scope            string
	CreatedAt        string
	ApprovedEventID  *int64
	SourceProposalID *int64
}

// PreferenceReset defines a cutoff timestamp for its scope: only preferences
// created strictly after the latest reset are effective.
type PreferenceReset struct {
	ID           int64
	Scope        string
	CreatedAt    string
	ResetEventID *int64
}

// PreferenceProposal is a candidate default inferred from recent user turns,
// awaiting a user decision.
type PreferenceProposal struct {
	ID                 int64
	ConversationID     int64
	Key                string
	Value              string
	ProposalText       string
	Rationale          *string
	Status             ProposalStatus
	CreatedAt          string
	DecidedAt          *string
	CausalityMessageID *int64
	AssistantMessageID *int64
}

// FindProposal filters ListProposals.
type FindProposal struct {
	ConversationID *int64
	Status         *ProposalStatus
}

// DecideProposal carries an approve/reject decision. The decision event is
// inserted in the same transaction as the status change (and, on approve,
// the new preference row).
type DecideProposal struct {
	ProposalID   int64
	EventPayload string
}

// ProposalDecision is the outcome of an approve/reject.
type ProposalDecision struct {
	EventID      int64
	PreferenceID *int64 // set on approve only
}

// ResetPreferences inserts a preferences_reset event and a reset row in one
// transaction.
type ResetPreferences struct {
	Scope              string
	ConversationID     *int64
	CausalityMessageID *int64
	EventPayload       string
}
