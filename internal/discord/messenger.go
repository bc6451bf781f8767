package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// errorEmbedColor is the light red used for transient error notices.
const errorEmbedColor = 0xFF7F7F

// Messenger sends and deletes channel messages over the bot session.
// It implements pipeline.Messenger.
type Messenger struct {
	session *discordgo.Session
}

func (m *Messenger) CreateMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := m.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send discord message: %w", err)
	}
	return msg.ID, nil
}

func (m *Messenger) CreateNotice(ctx context.Context, channelID, description string) (string, error) {
	embed := &discordgo.MessageEmbed{
		Description: description,
		Color:       errorEmbedColor,
	}
	msg, err := m.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send discord notice: %w", err)
	}
	return msg.ID, nil
}

func (m *Messenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := m.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete discord message: %w", err)
	}
	return nil
}
