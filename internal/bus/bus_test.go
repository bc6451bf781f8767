package bus

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func msgEvent(id string) Event {
	return Event{Message: &discordgo.MessageCreate{
		Message: &discordgo.Message{ID: id},
	}}
}

func TestBroadcaster_AllSubscribersReceive(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)

	b.Publish(msgEvent("1"))
	b.Publish(msgEvent("2"))

	for _, sub := range []*Subscription{s1, s2} {
		for _, want := range []string{"1", "2"} {
			ev := <-sub.C
			if ev.Message.ID != want {
				t.Fatalf("got message %q, want %q", ev.Message.ID, want)
			}
		}
	}
}

func TestBroadcaster_SlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe(1)
	fast := b.Subscribe(8)

	// Nobody reads slow's buffer; publishing must not block.
	for i := 0; i < 5; i++ {
		b.Publish(msgEvent("x"))
	}

	if got := len(slow.C); got != 1 {
		t.Errorf("slow subscriber buffered %d events, want 1", got)
	}
	if got := len(fast.C); got != 5 {
		t.Errorf("fast subscriber buffered %d events, want 5", got)
	}
}

func TestBroadcaster_CloseClosesSubscribers(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(2)

	b.Publish(msgEvent("1"))
	b.Close()

	// Buffered event is still delivered, then the channel reports closure.
	ev, ok := <-sub.C
	if !ok || ev.Message.ID != "1" {
		t.Fatalf("expected buffered event before closure, got ok=%v", ok)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel after Close")
	}

	// Publishing and re-closing after Close are no-ops.
	b.Publish(msgEvent("2"))
	b.Close()

	// New subscriptions observe immediate closure.
	late := b.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Fatal("expected late subscription to be closed")
	}
}

func TestSubscription_Cancel(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe(1)
	sub.Cancel()

	if _, ok := <-sub.C; ok {
		t.Fatal("expected cancelled subscription channel to be closed")
	}

	// Publishing after cancel must not panic.
	b.Publish(msgEvent("1"))
	sub.Cancel()
}
