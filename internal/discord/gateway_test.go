package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aichan/internal/bus"
)

func TestGateway_PublishSkipsOwnMessages(t *testing.T) {
	b := bus.NewBroadcaster()
	defer b.Close()
	sub := b.Subscribe(4)

	g := &Gateway{broadcaster: b, botUserID: "bot-1"}

	g.publish(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID:     "1",
		Author: &discordgo.User{ID: "bot-1", Bot: true},
	}})
	g.publish(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID:     "2",
		Author: &discordgo.User{ID: "u1"},
	}})
	g.publish(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "3"}})

	if got := len(sub.C); got != 2 {
		t.Fatalf("published %d events, want 2 (own message dropped)", got)
	}
	if ev := <-sub.C; ev.Message.ID != "2" {
		t.Errorf("first forwarded event = %q, want message 2", ev.Message.ID)
	}
	if ev := <-sub.C; ev.Message.ID != "3" {
		t.Errorf("second forwarded event = %q, want message 3", ev.Message.ID)
	}
}
