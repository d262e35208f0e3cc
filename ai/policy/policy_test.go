package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/mygpt/store"
)

func TestEvaluateBlankMessage(t *testing.T) {
	decision := Evaluate("   ", nil)
	require.Equal(t, ActionClarify, decision.Action)
	require.Equal(t, "I didn't catch what you'd like me to do. Could you restate your intent?", decision.Question)
	require.Equal(t, "blank_message", decision.Rationale)
}

func TestEvaluateSingleAmbiguousToken(t *testing.T) {
	for _, word := range []string{"this", "That", "IT", "one", "thing", "stuff"} {
		decision := Evaluate(word, nil)
		require.Equal(t, ActionClarify, decision.Action, "word %q", word)
		require.Equal(t, "single_ambiguous_token", decision.Rationale)
	}
}

func TestEvaluateAckWithoutContext(t *testing.T) {
	decision := Evaluate("ok", nil)
	require.Equal(t, ActionClarify, decision.Action)
	require.Equal(t, "ack_without_context", decision.Rationale)

	userRole := store.RoleUser
	decision = Evaluate("sure", &userRole)
	require.Equal(t, ActionClarify, decision.Action)
	require.Equal(t, "ack_without_context", decision.Rationale)
}

func TestEvaluateAckAfterAssistantAnswers(t *testing.T) {
	assistantRole := store.RoleAssistant
	decision := Evaluate("yes", &assistantRole)
	require.Equal(t, ActionAnswer, decision.Action)
}

func TestEvaluateGenericHelpRequest(t *testing.T) {
	for _, message := range []string{"do it", "Do that now", "help me please", "fix it for me"} {
		decision := Evaluate(message, nil)
		require.Equal(t, ActionClarify, decision.Action, "message %q", message)
		require.Equal(t, "generic_help_request", decision.Rationale)
	}
}

func TestEvaluateNormalQuestionAnswers(t *testing.T) {
	decision := Evaluate("What is the capital of France?", nil)
	require.Equal(t, ActionAnswer, decision.Action)
	require.Empty(t, decision.Question)
}
