// Package bus fans gateway events out to independent consumer tasks.
//
// Delivery is lossy: each subscriber owns a bounded buffer and events are
// dropped per-subscriber when that buffer is full. A slow consumer can miss
// events but can never stall the gateway reader or another consumer.
package bus

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Event is one gateway event as seen by subscribers.
type Event struct {
	// Message is set for message-create events. Other gateway event kinds are
	// not forwarded through the bus.
	Message *discordgo.MessageCreate
}

// Broadcaster delivers each published event to every live subscriber.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
}

// Subscription is one receiver of the broadcast stream. The channel is closed
// when the broadcaster shuts down, which subscribers treat as permanent
// closure of the upstream stream.
type Subscription struct {
	C <-chan Event

	id uint64
	b  *Broadcaster
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a receiver with the given buffer capacity.
// Subscribing to a closed broadcaster yields an already-closed channel.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return &Subscription{C: ch, b: b}
	}

	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	return &Subscription{C: ch, id: id, b: b}
}

// Publish offers ev to every subscriber without blocking. Subscribers whose
// buffer is full miss this event.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("bus: dropped event for slow subscriber", "subscriber", id)
		}
	}
}

// Close permanently shuts down the stream. All subscriber channels are closed
// after any already-buffered events are drained by their consumers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Cancel removes the subscription and closes its channel. Safe to call after
// the broadcaster has closed.
func (s *Subscription) Cancel() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	ch, ok := s.b.subs[s.id]
	if !ok {
		return
	}
	delete(s.b.subs, s.id)
	close(ch)
}
