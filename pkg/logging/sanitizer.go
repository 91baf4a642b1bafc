// Package logging provides redaction helpers so PII never reaches the log
// sink unredacted, and constructs the process-wide zap.Logger.
package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength bounds how much of a raw observation is logged.
	MaxQueryLogLength = 100
	// RedactedText replaces any sensitive value before logging.
	RedactedText = "[REDACTED]"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
)

// SanitizeName truncates and never logs more than a prefix of an observed
// name, to avoid building a plaintext log trail of every person's full name.
func SanitizeName(name string) string {
	return TruncateString(name, MaxQueryLogLength)
}

// RedactEmail replaces the local part of an email with a fixed marker,
// keeping the domain (useful for triaging which source a blocklist hit
// came from without logging the address itself).
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return RedactedText
	}
	return RedactedText + email[at:]
}

// RedactPhone replaces all but the last 4 digits of a phone number.
func RedactPhone(phone string) string {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 4 {
		return RedactedText
	}
	kept := 0
	var b strings.Builder
	runes := []rune(phone)
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] >= '0' && runes[i] <= '9' && kept < 4 {
			kept++
			b.WriteRune(runes[i])
		}
	}
	reversed := []rune(b.String())
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	return RedactedText + string(reversed)
}

// SanitizeFreeText scrubs emails/phone numbers out of arbitrary text
// (notes, metadata values) before it is attached to a log line.
func SanitizeFreeText(s string) string {
	sanitized := emailPattern.ReplaceAllString(s, RedactedText)
	sanitized = phonePattern.ReplaceAllString(sanitized, RedactedText)
	return TruncateString(sanitized, MaxQueryLogLength)
}

// TruncateString truncates s to maxLen runes, appending an ellipsis marker.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
