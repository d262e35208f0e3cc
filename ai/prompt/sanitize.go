package prompt

import (
	"regexp"
	"strings"
)

var (
	ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

	// Reasoning-block patterns, including cases where the close tag is
	// missing due to truncation (match runs to end of string).
	thinkREs = []*regexp.Regexp{
		regexp.MustCompile(`(?s)<think>.*?(</think>|$)`),
		regexp.MustCompile(`(?s)〈thinking〉.*?(〈/thinking〉|$)`),
		regexp.MustCompile(`(?s)＜thinking＞.*?(＜/thinking＞|$)`),
	}

	leadingAssistantRE = regexp.MustCompile(`^\s*Assistant:\s*`)
	roleMarkerRE       = regexp.MustCompile(`(?m)^(User:|System:|Assistant:)\s*`)
)

// thinkWrappers pairs open and close tags for the last-close-tag scan used
// on streamed responses.
var thinkWrappers = [][2]string{
	{"<think>", "</think>"},
	{"〈thinking〉", "〈/thinking〉"},
	{"＜thinking＞", "＜/thinking＞"},
}

// StripANSI removes ANSI CSI escape sequences.
func StripANSI(text string) string {
	return ansiRE.ReplaceAllString(text, "")
}

// SanitizeAssistantHistory keeps assistant history as close as possible to
// what was said while removing transcript artifacts and reasoning wrappers
// that can cause the model to continue the log instead of answering.
func SanitizeAssistantHistory(text string) string {
	s := ansiRE.ReplaceAllString(text, "")
	for _, re := range thinkREs {
		s = re.ReplaceAllString(s, "")
	}
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "User:") ||
			strings.HasPrefix(line, "Assistant:") ||
			strings.HasPrefix(line, "System:") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// StripThinkBlocks handles streamed responses: if a close tag is present,
// everything up to and including the last close tag is dropped; otherwise
// only the open tags are removed.
func StripThinkBlocks(text string) string {
	for _, wrapper := range thinkWrappers {
		if idx := strings.LastIndex(text, wrapper[1]); idx != -1 {
			return text[idx+len(wrapper[1]):]
		}
	}
	cleaned := text
	for _, wrapper := range thinkWrappers {
		cleaned = strings.ReplaceAll(cleaned, wrapper[0], "")
	}
	return cleaned
}

// TruncateAtRoleMarkers strips a leading "Assistant:" and cuts the text at
// the first line that begins a new transcript turn.
func TruncateAtRoleMarkers(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = leadingAssistantRE.ReplaceAllString(cleaned, "")
	if loc := roleMarkerRE.FindStringIndex(cleaned); loc != nil && loc[0] > 0 {
		return strings.TrimRight(cleaned[:loc[0]], " \t\r\n")
	}
	return cleaned
}

// CleanAssistantResponse runs the full post-stream cleanup. If stripping
// reasoning blocks empties the text, the ANSI and role-marker passes are
// retried on the raw content so a reasoning-only stream still yields what
// was said.
func CleanAssistantResponse(raw string) string {
	cleaned := TruncateAtRoleMarkers(strings.TrimSpace(StripANSI(StripThinkBlocks(raw))))
	if cleaned == "" {
		cleaned = TruncateAtRoleMarkers(strings.TrimSpace(StripANSI(raw)))
	}
	return cleaned
}
