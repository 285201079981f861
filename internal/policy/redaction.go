package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// LogPreviewRunes caps how much of a chat message may appear in a log line.
const LogPreviewRunes = 48

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Card before phone, or long card numbers get classified as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// LogPreview returns a redacted, single-line, length-capped form of a chat
// message that is safe to attach to log records.
func LogPreview(message string) string {
	out, _ := RedactPII(message)
	out = strings.Join(strings.Fields(out), " ")
	if utf8.RuneCountInString(out) <= LogPreviewRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:LogPreviewRunes]) + "…"
}
