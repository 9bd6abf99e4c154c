package chat

import (
	"strings"
	"time"
)

// Speaker labels who produced a turn.
type Speaker string

const (
	SpeakerVisitor   Speaker = "visitor"
	SpeakerCompanion Speaker = "companion"
)

// Turn is one immutable entry of a transcript. Order is replayed verbatim upstream.
type Turn struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ParseSpeaker maps client role labels onto a Speaker.
// The browser client sends "user" and "bot"; "assistant" shows up from API clients.
func ParseSpeaker(role string) (Speaker, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "visitor":
		return SpeakerVisitor, true
	case "bot", "assistant", "companion":
		return SpeakerCompanion, true
	default:
		return "", false
	}
}

// ClientRole is the label the browser client renders for a speaker.
func (s Speaker) ClientRole() string {
	if s == SpeakerCompanion {
		return "bot"
	}
	return "user"
}

// Tail returns the last n turns of a transcript, or all of them when shorter.
func Tail(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
