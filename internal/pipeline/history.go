package pipeline

import "github.com/nextlevelbuilder/aichan/internal/providers"

// History is the rolling conversation window for one channel. It holds User
// and Assistant turns in insertion order; the system prompt is not stored
// here, it is re-injected at the front of every rendered request.
type History struct {
	turns []providers.Message
}

// Append adds a turn to the back of the window.
func (h *History) Append(turn providers.Message) {
	h.turns = append(h.turns, turn)
}

// Len returns the number of retained turns.
func (h *History) Len() int { return len(h.turns) }

// TrimTo evicts turns from the front, oldest first, until at most max remain.
func (h *History) TrimTo(max int) {
	if max < 0 {
		max = 0
	}
	if excess := len(h.turns) - max; excess > 0 {
		h.turns = append(h.turns[:0], h.turns[excess:]...)
	}
}

// RenderRequest returns the current system prompt followed by all retained
// turns in insertion order.
func (h *History) RenderRequest(systemPrompt string) []providers.Message {
	rendered := make([]providers.Message, 0, len(h.turns)+1)
	rendered = append(rendered, providers.Message{Role: "system", Content: systemPrompt})
	rendered = append(rendered, h.turns...)
	return rendered
}
