package store

// Event types appended by the core.
const (
	EventUserPrompt           = "user_prompt"
	EventAssistantResponse    = "assistant_response"
	EventLLMRequest           = "llm_request"
	EventLLMResponse          = "llm_response"
	EventRegenerateRequest    = "regenerate_request"
	EventLLMRegenerateRequest = "llm_regenerate_request"
	EventPreferencesReset     = "preferences_reset"
	EventPreferenceApproved   = "preference_approved"
	EventPreferenceRejected   = "preference_rejected"
	EventToolRun              = "tool_run"
	EventModelSwitch          = "model_switch"
	EventServiceStart         = "service_start"
	EventServiceStop          = "service_stop"
)

// Event is an append-only audit record. Events are never mutated or deleted.
type Event struct {
	ID                 int64
	Type               string
	Payload            string // opaque JSON
	ConversationID     *int64
	CausalityMessageID *int64
	CreatedAt          string
}

// FindEvent filters ListEvents. A nil field means no filter; Limit tails the
// newest N events.
type FindEvent struct {
	Type           *string
	ConversationID *int64
	Limit          *int
}
