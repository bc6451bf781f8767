package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aichan/internal/bus"
)

// RunIngest consumes the broadcast stream for one channel, discards events
// that are not user messages in that channel, and offers the rest to the
// scheduler queue. The send never blocks: when the queue is full the message
// is dropped, so a slow scheduler can neither grow memory without bound nor
// stall the shared event stream.
//
// The task exits when the broadcast reports permanent closure or ctx is
// cancelled (the scheduler and ingest share a lifetime). The queue is closed
// on exit so the scheduler can drain what remains and shut down.
func RunIngest(ctx context.Context, sub *bus.Subscription, queue chan<- IncomingMessage, channelID string, withImages bool) {
	defer close(queue)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			m := ev.Message
			if m == nil || m.ChannelID != channelID {
				continue
			}
			if m.Author == nil || m.Author.Bot {
				continue
			}

			select {
			case queue <- fromMessageCreate(m, withImages):
			default:
				slog.Debug("message queue full, dropping message",
					"channel_id", channelID, "message_id", m.ID)
			}
		}
	}
}

// fromMessageCreate converts an accepted gateway event into an IncomingMessage.
func fromMessageCreate(m *discordgo.MessageCreate, withImages bool) IncomingMessage {
	msg := IncomingMessage{
		ID:          m.ID,
		Content:     m.Content,
		AuthorName:  m.Author.Username,
		AuthorID:    m.Author.ID,
		DisplayName: resolveDisplayName(m),
		SentAt:      m.Timestamp,
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	if withImages {
		for _, att := range m.Attachments {
			if !strings.HasPrefix(att.ContentType, "image/") {
				continue
			}
			msg.Images = append(msg.Images, ImageRef{
				URL:         att.URL,
				ContentType: att.ContentType,
			})
		}
	}
	return msg
}

// resolveDisplayName returns the author's display name.
// Priority: server nickname > global display name. An empty result means the
// author has no display name distinct from the username and the formatted
// message omits the suffix.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return m.Author.GlobalName
}
