// Package privacy keeps private prompt sections and credentials from leaving
// the machine or reaching the logs.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// privateTagRegex matches <private>...</private> tags
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// googleKeyRegex matches Google API keys
	googleKeyRegex = regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)
)

// Redacted replaces secrets found in text.
const Redacted = "[REDACTED]"

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// RedactSecrets replaces API keys embedded in text.
func RedactSecrets(text string) string {
	return googleKeyRegex.ReplaceAllString(text, Redacted)
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	stripped := StripPrivateTags(text)
	return strings.TrimSpace(stripped) == ""
}

// Clean prepares prompt text for a remote service: private sections are
// dropped, embedded keys redacted and whitespace trimmed.
func Clean(text string) string {
	text = StripPrivateTags(text)
	text = RedactSecrets(text)
	return strings.TrimSpace(text)
}

// MaskKey renders a credential for logs, keeping only its first and last
// four characters.
func MaskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}
