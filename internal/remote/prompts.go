package remote

import (
	"regexp"
	"strings"
)

// maxPromptLen caps the user text embedded in the optimization request.
const maxPromptLen = 8000

// BuildOptimizationPrompt builds the instruction sent to the model for one
// user prompt.
func BuildOptimizationPrompt(original string) string {
	var sb strings.Builder

	sb.WriteString("You are a professional prompt optimization assistant. Your task is to improve the user's prompt while maintaining the original language and intent.\n\n")
	sb.WriteString("Original prompt: \"")
	sb.WriteString(truncate(original, maxPromptLen))
	sb.WriteString("\"\n\n")
	sb.WriteString(`Optimize this prompt following these rules:
1. Keep the same language as the original (Chinese/English/etc.)
2. Make it clearer, more specific, and better structured
3. When information is missing or unclear, add placeholder suggestions in square brackets [like this] for the user to customize
4. Maintain the user's original intent and goals
5. Make it more actionable and likely to get better results from AI

Provide ONLY the optimized prompt text - no explanations, no JSON, no additional formatting. Just the improved prompt ready to use.

Example:
Original: "Write an article"
Optimized: "Write a [article type, e.g. explainer/opinion/story] about [topic], around [word count] words, for [target audience], in a [formal/casual/professional] tone."

Now optimize the user's prompt:`)

	return sb.String()
}

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\n?")
	fenceClose = regexp.MustCompile("\n?```$")
)

// cleanResponse trims the model output and removes a markdown fence that
// wraps the whole of it. Inner fences are kept.
func cleanResponse(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 6 && strings.HasPrefix(text, "```") && strings.HasSuffix(text, "```") {
		text = fenceOpen.ReplaceAllString(text, "")
		text = fenceClose.ReplaceAllString(text, "")
		text = strings.TrimSpace(text)
	}
	return text
}

// truncate truncates a string to the specified length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... (truncated)"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
