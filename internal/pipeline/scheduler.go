package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aichan/internal/providers"
)

// NoReplySentinel is the literal the model sends to decline a visible reply.
// The turn is still retained in history so the model sees its own decision,
// but nothing is posted to the channel.
const NoReplySentinel = "<empty/>"

// maxMessageChars is the Discord message character limit.
const maxMessageChars = 2000

// maxResponseTokens bounds the completion output.
const maxResponseTokens = 400

// PromptSource supplies the system prompt currently in effect.
// Implemented by config.Prompt; the scheduler reads it every cycle so prompt
// file edits apply to the next batch.
type PromptSource interface {
	Current() string
}

// ImageEncoder turns an attachment reference into an inline image part.
type ImageEncoder interface {
	Encode(ctx context.Context, ref ImageRef) (providers.ImageContent, error)
}

// SchedulerConfig wires one channel's scheduler.
type SchedulerConfig struct {
	ChannelID string
	Queue     <-chan IncomingMessage
	Provider  providers.Provider
	Model     string
	Prompt    PromptSource
	Messenger Messenger

	// Encoder is nil when image support is disabled for the channel.
	Encoder ImageEncoder

	MaxHistorySize int
	MinDelay       time.Duration
}

// Scheduler is the per-channel control loop. It owns the channel's
// conversation state exclusively: no other goroutine touches the history,
// the last-response timestamp, or the outstanding error notice.
type Scheduler struct {
	channelID  string
	queue      <-chan IncomingMessage
	provider   providers.Provider
	model      string
	prompt     PromptSource
	messenger  Messenger
	notices    *NoticeManager
	encoder    ImageEncoder
	maxHistory int
	minDelay   time.Duration

	history      History
	lastResponse time.Time
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		channelID:  cfg.ChannelID,
		queue:      cfg.Queue,
		provider:   cfg.Provider,
		model:      cfg.Model,
		prompt:     cfg.Prompt,
		messenger:  cfg.Messenger,
		notices:    NewNoticeManager(cfg.Messenger, cfg.ChannelID),
		encoder:    cfg.Encoder,
		maxHistory: cfg.MaxHistorySize,
		minDelay:   cfg.MinDelay,
		// Start the gate as if a response just happened so a backlog present
		// at startup doesn't trigger an immediate call.
		lastResponse: time.Now(),
	}
}

// Run drives the loop until the queue closes or ctx is cancelled. On the way
// out any outstanding error notice is deleted best-effort.
func (s *Scheduler) Run(ctx context.Context) {
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		s.notices.Clear(cleanupCtx)
	}()

	for {
		// Waiting: the single suspension point that throttles LLM call
		// frequency regardless of how fast messages arrive.
		if !s.waitForGate(ctx) {
			return
		}

		batch, ok := s.drain(ctx)
		if len(batch) > 0 {
			s.generate(ctx, batch)
		}
		if !ok {
			return
		}
	}
}

// waitForGate sleeps until lastResponse + minDelay has elapsed.
// Returns false when ctx is cancelled.
func (s *Scheduler) waitForGate(ctx context.Context) bool {
	wait := time.Until(s.lastResponse.Add(s.minDelay))
	if wait <= 0 {
		return true
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// drain blocks until at least one message is available, then opportunistically
// collects up to maxHistory additional already-queued messages without waiting
// further. Returns ok=false when the queue reports permanent closure or ctx
// is cancelled; any batch collected before closure is still returned so it
// gets processed before shutdown.
func (s *Scheduler) drain(ctx context.Context) ([]IncomingMessage, bool) {
	var batch []IncomingMessage

	select {
	case <-ctx.Done():
		return nil, false
	case msg, ok := <-s.queue:
		if !ok {
			return nil, false
		}
		batch = append(batch, msg)
	}

	for extra := 0; extra < s.maxHistory; extra++ {
		select {
		case msg, ok := <-s.queue:
			if !ok {
				return batch, false
			}
			batch = append(batch, msg)
		default:
			return batch, true
		}
	}
	return batch, true
}

// generate runs one Generating→Posting/ErrorRecovery cycle for a batch.
func (s *Scheduler) generate(ctx context.Context, batch []IncomingMessage) {
	runID := uuid.NewString()

	for _, msg := range batch {
		turn := providers.Message{Role: "user", Content: msg.Format()}
		if s.encoder != nil && len(msg.Images) > 0 {
			turn.Images = s.encodeImages(ctx, msg.Images)
		}
		s.history.Append(turn)
	}
	s.history.TrimTo(s.maxHistory)

	slog.Debug("generating response",
		"channel_id", s.channelID, "run_id", runID,
		"batch", len(batch), "history", s.history.Len())

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model:     s.model,
		Messages:  s.history.RenderRequest(s.prompt.Current()),
		MaxTokens: maxResponseTokens,
	})
	// The gate measures from call return, not call issue, so a slow call
	// does not compound with the fixed delay.
	s.lastResponse = time.Now()

	if err != nil {
		slog.Error("failed to generate response",
			"channel_id", s.channelID, "run_id", runID, "error", err)
		s.notices.Post(ctx, fmt.Sprintf(
			"Something went wrong while generating a response\n```\n%s\n```", err))
		return
	}

	// The cycle resolved: the previous error notice comes down.
	s.notices.ClearAsync()

	content := truncateChars(resp.Content, maxMessageChars)
	s.history.Append(providers.Message{Role: "assistant", Content: content})

	// Sentinel check happens after truncation; evaluation order is part of
	// the protocol with the model.
	if strings.TrimSpace(content) == NoReplySentinel {
		slog.Debug("model chose to not respond", "channel_id", s.channelID, "run_id", runID)
		return
	}

	if _, err := s.messenger.CreateMessage(ctx, s.channelID, content); err != nil {
		slog.Error("failed to send response message",
			"channel_id", s.channelID, "run_id", runID, "error", err)
	}
}

// encodeImages inlines the batch message's attachments. A failure to encode
// one image skips that image and never aborts the message.
func (s *Scheduler) encodeImages(ctx context.Context, refs []ImageRef) []providers.ImageContent {
	var images []providers.ImageContent
	for _, ref := range refs {
		img, err := s.encoder.Encode(ctx, ref)
		if err != nil {
			slog.Warn("failed to encode attachment image",
				"channel_id", s.channelID, "url", ref.URL, "error", err)
			continue
		}
		images = append(images, img)
	}
	return images
}

// truncateChars cuts s to at most max characters, never splitting a
// multi-byte character.
func truncateChars(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
