package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Messenger is the outbound delivery surface the pipeline needs.
// Implemented by the Discord adapter; faked in tests.
type Messenger interface {
	// CreateMessage posts text to a channel and returns the new message ID.
	CreateMessage(ctx context.Context, channelID, content string) (string, error)

	// CreateNotice posts a visible error notice (colored embed) and returns
	// the new message ID.
	CreateNotice(ctx context.Context, channelID, description string) (string, error)

	// DeleteMessage removes a previously posted message.
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// deleteTimeout bounds fire-and-forget notice deletions so a hung delivery
// call cannot leak goroutines forever.
const deleteTimeout = 15 * time.Second

// NoticeManager keeps at most one transient error notice visible in a
// channel. It is owned by the scheduler goroutine and must not be shared.
type NoticeManager struct {
	messenger Messenger
	channelID string
	currentID string
}

func NewNoticeManager(m Messenger, channelID string) *NoticeManager {
	return &NoticeManager{messenger: m, channelID: channelID}
}

// Post publishes a new error notice, replacing any previous one. The previous
// notice is deleted asynchronously so the scheduling loop never waits on it.
func (n *NoticeManager) Post(ctx context.Context, description string) {
	n.ClearAsync()

	id, err := n.messenger.CreateNotice(ctx, n.channelID, description)
	if err != nil {
		slog.Error("failed to post error notice", "channel_id", n.channelID, "error", err)
		return
	}
	n.currentID = id
}

// ClearAsync deletes the outstanding notice, if any, without blocking the
// caller. Deletion failures are logged and not retried.
func (n *NoticeManager) ClearAsync() {
	if n.currentID == "" {
		return
	}
	id := n.currentID
	n.currentID = ""

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := n.messenger.DeleteMessage(ctx, n.channelID, id); err != nil {
			slog.Error("failed to delete previous error notice",
				"channel_id", n.channelID, "message_id", id, "error", err)
		}
	}()
}

// Clear deletes the outstanding notice synchronously. Used on scheduler
// shutdown so the channel is not left cluttered with a stale notice.
func (n *NoticeManager) Clear(ctx context.Context) {
	if n.currentID == "" {
		return
	}
	id := n.currentID
	n.currentID = ""

	if err := n.messenger.DeleteMessage(ctx, n.channelID, id); err != nil {
		slog.Error("failed to delete error notice on shutdown",
			"channel_id", n.channelID, "message_id", id, "error", err)
	}
}
