// Package policy implements the pre-LLM gate that decides whether to answer
// or pause for a clarifying question.
package policy

import (
	"strings"

	"github.com/hrygo/mygpt/store"
)

// Action is the policy outcome.
type Action string

const (
	ActionAnswer  Action = "answer"
	ActionClarify Action = "clarify"
)

// Decision is the result of evaluating a user message.
type Decision struct {
	Action    Action
	Question  string
	Rationale string
}

var ambiguousSingleWords = map[string]struct{}{
	"this":  {},
	"that":  {},
	"it":    {},
	"one":   {},
	"thing": {},
	"stuff": {},
}

var bareAcknowledgements = map[string]struct{}{
	"ok":    {},
	"okay":  {},
	"yes":   {},
	"sure":  {},
	"maybe": {},
}

var ambiguousPhrases = []string{
	"do it",
	"do that",
	"do the thing",
	"help me",
	"help with this",
	"fix it",
}

// Evaluate returns whether we should pause to ask for clarification.
//
// The heuristics intentionally err on the side of not asking questions: only
// extremely ambiguous one or two-word directives, or acknowledgements that
// lack any actionable instruction relative to the prior assistant turn,
// trigger a clarifying question.
func Evaluate(userMessage string, previousMessageRole *store.Role) Decision {
	normalized := strings.TrimSpace(userMessage)
	if normalized == "" {
		return Decision{
			Action:    ActionClarify,
			Question:  "I didn't catch what you'd like me to do. Could you restate your intent?",
			Rationale: "blank_message",
		}
	}

	lowered := strings.ToLower(normalized)
	if _, ok := ambiguousSingleWords[lowered]; ok {
		return Decision{
			Action:    ActionClarify,
			Question:  "What specifically should I work on?",
			Rationale: "single_ambiguous_token",
		}
	}

	if _, ok := bareAcknowledgements[lowered]; ok {
		// Acknowledgements are fine when they answer an assistant question;
		// without an open question we need clarification.
		if previousMessageRole == nil || *previousMessageRole != store.RoleAssistant {
			return Decision{
				Action:    ActionClarify,
				Question:  "Could you describe the task or question you want me to handle?",
				Rationale: "ack_without_context",
			}
		}
	}

	for _, phrase := range ambiguousPhrases {
		if strings.HasPrefix(lowered, phrase) {
			return Decision{
				Action:    ActionClarify,
				Question:  "You mentioned needing help, but I need the concrete task. What should I produce?",
				Rationale: "generic_help_request",
			}
		}
	}

	return Decision{Action: ActionAnswer}
}
