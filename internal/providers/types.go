package providers

import "context"

// Provider is the completion surface the scheduler generates replies through.
type Provider interface {
	// Chat sends the rendered conversation to the LLM and returns a response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier used in logs and error prefixes.
	Name() string
}

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Message represents one role-tagged conversation turn.
type Message struct {
	Role    string         `json:"role"` // "system", "user", "assistant"
	Content string         `json:"content"`
	Images  []ImageContent `json:"images,omitempty"` // vision: inline base64 images
}

// ImageContent represents a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"` // e.g. "image/jpeg"
	Data     string `json:"data"`      // base64-encoded image bytes
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
