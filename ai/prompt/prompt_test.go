package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/mygpt/store"
)

func TestLoadVerifiesDigest(t *testing.T) {
	dir := t.TempDir()
	base := "Be helpful.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base_assistant_prompt.md"), []byte(base), 0o644))

	sum := sha256.Sum256([]byte(base))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base_assistant_prompt.sha256"),
		[]byte(hex.EncodeToString(sum[:])+"\n"), 0o644))

	assembler, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(sum[:]), assembler.SHA256())
}

func TestLoadRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base_assistant_prompt.md"), []byte("Be helpful.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base_assistant_prompt.sha256"),
		[]byte(strings.Repeat("0", 64)), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "hash mismatch")
}

func TestAssembleStructure(t *testing.T) {
	assembler := New("Line one.\n\nLine two.")
	messages := []*store.Message{
		{ID: 1, Role: store.RoleUser, Content: "Hello\nthere"},
		{ID: 2, Role: store.RoleAssistant, Content: "Hi!"},
	}
	preferences := map[string]string{"verbosity": "concise", "format": "bullets"}

	assembled := assembler.Assemble(messages, preferences)

	require.True(t, strings.HasSuffix(assembled, "Assistant: "), "prompt must end with trailing 'Assistant: '")

	lines := strings.Split(assembled, "\n")
	require.Equal(t, "System: Line one.", lines[0])
	require.Equal(t, "System: Line two.", lines[1])
	require.Equal(t, "System: Reply as the assistant only. Do not write any 'User:' lines or simulate additional turns.", lines[2])
	require.Equal(t, "System: Do not output internal reasoning or thinking (e.g., <think>, 〈thinking〉). Provide only the final answer.", lines[3])
	// Keys sorted ascending.
	require.Equal(t, "System: Defaults (apply only when user did not specify otherwise): format=bullets, verbosity=concise", lines[4])

	require.Contains(t, assembled, "User:\n  Hello\n  there")
	require.Contains(t, assembled, "Assistant:\n  Hi!")
}

func TestAssembleOmitsDefaultsWhenEmpty(t *testing.T) {
	assembler := New("Base.")
	assembled := assembler.Assemble(nil, nil)
	require.NotContains(t, assembled, "Defaults")
}

func TestAssembleSkipsEmptiedAssistantTurn(t *testing.T) {
	assembler := New("Base.")
	messages := []*store.Message{
		{ID: 1, Role: store.RoleUser, Content: "question"},
		{ID: 2, Role: store.RoleAssistant, Content: "<think>only reasoning</think>"},
	}
	assembled := assembler.Assemble(messages, nil)
	require.NotContains(t, assembled, "only reasoning")
	// The emptied assistant turn contributes no header either.
	require.Equal(t, 1, strings.Count(assembled, "Assistant:"))
}

func TestAssembleIsDeterministic(t *testing.T) {
	assembler := New("Base.")
	messages := []*store.Message{{ID: 1, Role: store.RoleUser, Content: "hi"}}
	preferences := map[string]string{"b": "2", "a": "1", "c": "3"}

	first := assembler.Assemble(messages, preferences)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, assembler.Assemble(messages, preferences))
	}
}

func TestSanitizeAssistantHistory(t *testing.T) {
	raw := "\x1b[31mred\x1b[0m\n<think>hidden</think>visible\nUser: fake turn\nkeep"
	cleaned := SanitizeAssistantHistory(raw)
	require.NotContains(t, cleaned, "hidden")
	require.NotContains(t, cleaned, "User:")
	require.NotContains(t, cleaned, "\x1b")
	require.Contains(t, cleaned, "red")
	require.Contains(t, cleaned, "visible")
	require.Contains(t, cleaned, "keep")
}

func TestSanitizeAssistantHistoryUnterminatedThink(t *testing.T) {
	require.Equal(t, "before", SanitizeAssistantHistory("before<think>never closed"))
	require.Equal(t, "before", SanitizeAssistantHistory("before〈thinking〉still going"))
	require.Equal(t, "before", SanitizeAssistantHistory("before＜thinking＞more"))
}

func TestStripThinkBlocksKeepsTextAfterLastCloseTag(t *testing.T) {
	require.Equal(t, " answer", StripThinkBlocks("<think>a</think>middle<think>b</think> answer"))
}

func TestStripThinkBlocksUnterminatedDropsOpenTagOnly(t *testing.T) {
	require.Equal(t, "prefix reasoning...", StripThinkBlocks("prefix<think> reasoning..."))
}

func TestTruncateAtRoleMarkers(t *testing.T) {
	require.Equal(t, "The answer.", TruncateAtRoleMarkers("Assistant: The answer.\nUser: next fake turn\nmore"))
	require.Equal(t, "plain", TruncateAtRoleMarkers("plain"))
}

func TestCleanAssistantResponseUnterminatedThink(t *testing.T) {
	require.Equal(t, "the whole answer was wrapped",
		CleanAssistantResponse("<think>the whole answer was wrapped"))
}

func TestCleanAssistantResponseRetriesWhenThinkStripEmpties(t *testing.T) {
	// A closed reasoning-only stream strips to nothing, so the raw content
	// comes back through the ANSI and role-marker passes.
	raw := "<think>internal only</think>"
	require.Equal(t, raw, CleanAssistantResponse(raw))
}
