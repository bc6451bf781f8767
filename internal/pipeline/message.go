// Package pipeline implements the per-channel conversation pipeline: event
// filtering, backpressure-aware queueing, debounced batch scheduling, the
// rolling conversation history, and the lifecycle of transient error notices.
package pipeline

import (
	"strings"
	"time"
)

// IncomingMessage is one user-authored chat message accepted for processing.
// It is created by the filter stage, moved into the history batch, and never
// mutated after creation.
type IncomingMessage struct {
	ID          string
	ReplyToID   string // empty when the message is not a reply
	Content     string
	AuthorName  string
	AuthorID    string
	DisplayName string // guild nickname or global display name; empty when neither is set
	SentAt      time.Time
	Images      []ImageRef
}

// ImageRef points at an image attachment that may be inlined into the
// message's User turn when vision support is enabled.
type ImageRef struct {
	URL         string
	ContentType string
}

// Format serializes the message into the layout the model is prompted to
// expect. The optional replying_to line and display-name suffix are omitted
// entirely when absent.
func (m IncomingMessage) Format() string {
	var b strings.Builder

	b.WriteString("<msg>message_id: ")
	b.WriteString(m.ID)
	b.WriteByte('\n')
	if m.ReplyToID != "" {
		b.WriteString("replying_to: ")
		b.WriteString(m.ReplyToID)
		b.WriteByte('\n')
	}
	b.WriteString("author_name: ")
	b.WriteString(m.AuthorName)
	b.WriteByte('\n')
	b.WriteString("author_id: ")
	b.WriteString(m.AuthorID)
	if m.DisplayName != "" {
		b.WriteString(" (")
		b.WriteString(m.DisplayName)
		b.WriteByte(')')
	}
	b.WriteByte('\n')
	b.WriteString("sent_at: ")
	b.WriteString(m.SentAt.UTC().Format(time.RFC3339))
	b.WriteByte('\n')
	b.WriteString(m.Content)
	b.WriteString("</msg>")

	return b.String()
}
