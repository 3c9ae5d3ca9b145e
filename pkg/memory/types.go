package memory

import (
	"strings"
	"time"
)

// EventKind classifies a [Event] in a session transcript.
type EventKind string

const (
	// KindUserUtterance is something the human said.
	KindUserUtterance EventKind = "user-utterance"

	// KindModelUtterance is something the model said.
	KindModelUtterance EventKind = "model-utterance"
)

// Speaker returns the transcript label used when rendering the kind.
func (k EventKind) Speaker() string {
	switch k {
	case KindUserUtterance:
		return "User"
	case KindModelUtterance:
		return "Model"
	default:
		return string(k)
	}
}

// Event is one transcript fragment of a live session.
type Event struct {
	// Kind tells who spoke.
	Kind EventKind

	// Text is the transcribed fragment.
	Text string

	// Timestamp is when the fragment arrived.
	Timestamp time.Time
}

// Snippet is a long-term memory entry retrieved for a user.
type Snippet struct {
	// SessionID is the session the snippet was distilled from.
	SessionID string

	// Content is the stored summary text.
	Content string

	// Distance is the cosine distance to the query embedding. Lower is closer.
	// Zero when the snippet was selected by recency.
	Distance float64

	// CreatedAt is when the snippet was stored.
	CreatedAt time.Time
}

// FullText renders events as a speaker-labelled transcript, one line per
// event, in order.
func FullText(events []Event) string {
	var sb strings.Builder
	for _, e := range events {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		sb.WriteString(e.Kind.Speaker())
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// TextLength is the number of characters of transcript text carried by
// events, ignoring labels and surrounding whitespace.
func TextLength(events []Event) int {
	n := 0
	for _, e := range events {
		n += len([]rune(strings.TrimSpace(e.Text)))
	}
	return n
}
