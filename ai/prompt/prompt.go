// Package prompt builds the single prompt string sent to the inference
// server from conversation history and effective preferences.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/mygpt/store"
)

const (
	basePromptFile   = "base_assistant_prompt.md"
	basePromptDigest = "base_assistant_prompt.sha256"
)

// Assembler renders deterministic prompts on top of a base system prompt
// that is frozen at startup.
type Assembler struct {
	base   string
	sha256 string
}

// Load reads the base system prompt from systemDir and verifies its SHA-256
// against the sibling pinned digest. A mismatch is a fatal startup failure.
func Load(systemDir string) (*Assembler, error) {
	promptPath := filepath.Join(systemDir, basePromptFile)
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read base system prompt %s", promptPath)
	}

	digestPath := filepath.Join(systemDir, basePromptDigest)
	expectedRaw, err := os.ReadFile(digestPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pinned digest %s", digestPath)
	}
	expected := strings.ToLower(strings.TrimSpace(string(expectedRaw)))

	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != expected {
		return nil, errors.Errorf(
			"base system prompt hash mismatch: expected=%s actual=%s path=%s",
			expected, actual, promptPath,
		)
	}

	return &Assembler{base: string(data), sha256: actual}, nil
}

// New creates an assembler from an in-memory base prompt. Used by tests;
// production loads through Load.
func New(base string) *Assembler {
	sum := sha256.Sum256([]byte(base))
	return &Assembler{base: base, sha256: hex.EncodeToString(sum[:])}
}

// SHA256 returns the hex digest of the loaded base prompt.
func (a *Assembler) SHA256() string {
	return a.sha256
}

// Assemble builds the prompt. The function is pure and deterministic: the
// same history and preferences always produce the same string.
func (a *Assembler) Assemble(messages []*store.Message, preferences map[string]string) string {
	var parts []string

	for _, line := range strings.Split(strings.TrimRight(a.base, " \t\r\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts = append(parts, "System: "+line)
	}
	parts = append(parts,
		"System: Reply as the assistant only. Do not write any 'User:' lines or simulate additional turns.",
		"System: Do not output internal reasoning or thinking (e.g., <think>, 〈thinking〉). Provide only the final answer.",
	)

	if len(preferences) > 0 {
		keys := make([]string, 0, len(preferences))
		for key := range preferences {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", key, preferences[key]))
		}
		parts = append(parts,
			"System: Defaults (apply only when user did not specify otherwise): "+strings.Join(pairs, ", "))
	}

	for _, message := range messages {
		switch message.Role {
		case store.RoleUser:
			parts = append(parts, "User:", indentBlock(message.Content))
		case store.RoleAssistant:
			cleaned := SanitizeAssistantHistory(message.Content)
			if cleaned == "" {
				continue
			}
			parts = append(parts, "Assistant:", indentBlock(cleaned))
		}
	}

	parts = append(parts, "Assistant:")
	return strings.Join(parts, "\n") + " "
}

// indentBlock prefixes every line of text with two spaces.
func indentBlock(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return "  "
	}
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
