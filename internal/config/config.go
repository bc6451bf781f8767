// Package config owns the aichan configuration surface: the JSON5 config
// file, environment overrides, and per-channel system prompts with hot reload.
package config

import "time"

// Config is the root configuration for the bridge.
type Config struct {
	Discord  DiscordConfig   `json:"discord"`
	Channels []ChannelConfig `json:"channels"`
	OCR      OCRConfig       `json:"ocr,omitempty"`
}

// DiscordConfig holds the bot credentials.
type DiscordConfig struct {
	Token string `json:"token"`
}

// ChannelConfig is the immutable per-channel pipeline configuration.
type ChannelConfig struct {
	ChannelID  string    `json:"channel_id"`
	PromptPath string    `json:"prompt_path"`
	LLM        LLMConfig `json:"llm"`

	// MaxHistorySize bounds the rolling history by message count, not tokens.
	// The system prompt does not count against it. Default 32.
	MaxHistorySize int `json:"max_history_size,omitempty"`

	// MinResponseDelayMs is the minimum spacing between LLM calls, measured
	// from when the previous call returned. Default 1500.
	MinResponseDelayMs int `json:"min_response_delay_ms,omitempty"`

	Images ImagesConfig `json:"images,omitempty"`
}

// LLMConfig points one channel at a chat completion endpoint.
type LLMConfig struct {
	APIKey string `json:"api_key"`
	// APIBase overrides the endpoint base URL. Empty means the OpenAI API.
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model"`
}

// ImagesConfig toggles vision support for a channel.
type ImagesConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// MaxDimension bounds the longest image side after downscaling. Default 768.
	MaxDimension int `json:"max_dimension,omitempty"`
}

// OCRConfig configures the optional image text extraction consumer.
type OCRConfig struct {
	Enabled         bool   `json:"enabled,omitempty"`
	GoogleProjectID string `json:"google_project_id,omitempty"`
	GoogleAPIToken  string `json:"google_api_token,omitempty"`
}

const (
	defaultMaxHistorySize     = 32
	defaultMinResponseDelayMs = 1500
	defaultMaxImageDimension  = 768
)

// HistorySize returns the configured history bound with the default applied.
func (c ChannelConfig) HistorySize() int {
	if c.MaxHistorySize > 0 {
		return c.MaxHistorySize
	}
	return defaultMaxHistorySize
}

// QueueCapacity derives the ingest queue bound from the history size.
// Half the history absorbs reasonable bursts without unbounded growth.
func (c ChannelConfig) QueueCapacity() int {
	cap := c.HistorySize() / 2
	if cap < 1 {
		cap = 1
	}
	return cap
}

// MinResponseDelay returns the LLM rate-limit gate with the default applied.
func (c ChannelConfig) MinResponseDelay() time.Duration {
	ms := c.MinResponseDelayMs
	if ms <= 0 {
		ms = defaultMinResponseDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

// MaxImageDimension returns the image bound with the default applied.
func (c ChannelConfig) MaxImageDimension() int {
	if c.Images.MaxDimension > 0 {
		return c.Images.MaxDimension
	}
	return defaultMaxImageDimension
}
