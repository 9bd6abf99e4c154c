// Package identity decides when an anonymous visitor gets a permanent display name.
package identity

import (
	"regexp"
	"strings"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

// introduction matches the supported self-introduction phrases and captures the
// first alphabetic token after them. The phrase is matched case-insensitively,
// the captured name keeps the visitor's casing.
var introduction = regexp.MustCompile(`(?i)(?:my name is|i am|this is|myself)\s+([a-zA-Z]+)`)

// Resolve returns the locked name for a session after seeing latest.
// An already locked name is returned unchanged; otherwise a visitor turn is
// scanned for a self-introduction. An empty result means no name is locked.
func Resolve(locked string, latest chat.Turn) string {
	if locked != "" {
		return locked
	}
	if latest.Speaker != chat.SpeakerVisitor {
		return ""
	}
	return ExtractName(latest.Text)
}

// ExtractName returns the name introduced in text, or "" when there is none.
func ExtractName(text string) string {
	match := introduction.FindStringSubmatch(text)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimSpace(match[1])
}
