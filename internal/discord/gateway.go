// Package discord owns the gateway connection and the outbound REST surface.
// Inbound events are republished on the bus; consumers never touch the
// session directly.
package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aichan/internal/bus"
)

// Gateway holds the bot's gateway connection and forwards message-create
// events to the broadcaster.
type Gateway struct {
	session     *discordgo.Session
	broadcaster *bus.Broadcaster
	botUserID   string // populated on open
}

// NewGateway creates a gateway from a raw bot token.
func NewGateway(token string, broadcaster *bus.Broadcaster) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return &Gateway{session: session, broadcaster: broadcaster}, nil
}

// Open connects to the gateway and begins publishing events.
func (g *Gateway) Open() error {
	// Fetch bot identity before the gateway opens so the handler can filter
	// the bot's own messages from the very first event.
	user, err := g.session.User("@me")
	if err != nil {
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	g.botUserID = user.ID

	g.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		g.publish(m)
	})

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// publish forwards a message-create event to subscribers. The bot's own
// messages are dropped here so posted replies and notices never feed back
// into the stream.
func (g *Gateway) publish(m *discordgo.MessageCreate) {
	if m.Author != nil && m.Author.ID == g.botUserID {
		return
	}
	g.broadcaster.Publish(bus.Event{Message: m})
}

// Close disconnects from the gateway and permanently closes the event stream,
// which lets every consumer drain and shut down.
func (g *Gateway) Close() error {
	slog.Info("stopping discord bot")
	err := g.session.Close()
	g.broadcaster.Close()
	return err
}

// Messenger returns the outbound delivery surface backed by this session.
func (g *Gateway) Messenger() *Messenger {
	return &Messenger{session: g.session}
}
