package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/aichan/internal/providers"
)

type chatReply struct {
	content string
	err     error
}

// fakeProvider replays canned replies in order; the last reply repeats.
type fakeProvider struct {
	mu       sync.Mutex
	requests []providers.ChatRequest
	replies  []chatReply
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &providers.ChatResponse{Content: r.content}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Requests() []providers.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.ChatRequest(nil), f.requests...)
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []string
	live    map[string]string
	deleted []string

	created chan string // CreateMessage contents
	noticed chan string // CreateNotice message IDs
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		live:    make(map[string]string),
		created: make(chan string, 16),
		noticed: make(chan string, 16),
	}
}

func (f *fakeMessenger) CreateMessage(_ context.Context, _, content string) (string, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.sent = append(f.sent, content)
	f.mu.Unlock()

	f.created <- content
	return id, nil
}

func (f *fakeMessenger) CreateNotice(_ context.Context, _, description string) (string, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("notice-%d", f.nextID)
	f.live[id] = description
	f.mu.Unlock()

	f.noticed <- id
	return id, nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, messageID)
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) liveNotices() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeMessenger) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type staticPrompt string

func (p staticPrompt) Current() string { return string(p) }

type schedulerFixture struct {
	provider  *fakeProvider
	messenger *fakeMessenger
	queue     chan IncomingMessage
	done      chan struct{}
	cancel    context.CancelFunc
}

func startScheduler(t *testing.T, replies []chatReply, maxHistory int, minDelay time.Duration) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		provider:  &fakeProvider{replies: replies},
		messenger: newFakeMessenger(),
		queue:     make(chan IncomingMessage, 16),
		done:      make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)

	s := NewScheduler(SchedulerConfig{
		ChannelID:      "chan-1",
		Queue:          f.queue,
		Provider:       f.provider,
		Model:          "test-model",
		Prompt:         staticPrompt("sys"),
		Messenger:      f.messenger,
		MaxHistorySize: maxHistory,
		MinDelay:       minDelay,
	})
	go func() {
		defer close(f.done)
		s.Run(ctx)
	}()
	return f
}

func (f *schedulerFixture) send(id string) {
	f.queue <- IncomingMessage{
		ID:         id,
		Content:    "content " + id,
		AuthorName: "alice",
		AuthorID:   "u1",
		SentAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *schedulerFixture) stop(t *testing.T) {
	t.Helper()
	close(f.queue)
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func waitSignal(t *testing.T, ch <-chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

func poll(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduler_BatchPreservesArrivalOrder(t *testing.T) {
	// The gate is long enough that all three messages arrive while the
	// scheduler is still waiting, so they form a single batch.
	f := startScheduler(t, []chatReply{{content: "ok"}}, 8, 200*time.Millisecond)
	f.send("1")
	f.send("2")
	f.send("3")

	waitSignal(t, f.messenger.created, "response message")
	f.stop(t)

	reqs := f.provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("provider calls = %d, want 1 batched call", len(reqs))
	}
	msgs := reqs[0].Messages
	if len(msgs) != 4 || msgs[0].Role != "system" || msgs[0].Content != "sys" {
		t.Fatalf("request messages = %+v", msgs)
	}
	for i, id := range []string{"1", "2", "3"} {
		turn := msgs[i+1]
		if turn.Role != "user" || !strings.Contains(turn.Content, "message_id: "+id+"\n") {
			t.Errorf("turn %d = %+v, want user message %s", i+1, turn, id)
		}
	}
	if reqs[0].Model != "test-model" || reqs[0].MaxTokens != 400 {
		t.Errorf("request model/tokens = %q/%d", reqs[0].Model, reqs[0].MaxTokens)
	}
}

func TestScheduler_BatchLargerThanWindowTrimsBeforeRequest(t *testing.T) {
	f := startScheduler(t, []chatReply{{content: "ok"}}, 2, 200*time.Millisecond)
	f.send("A")
	f.send("B")
	f.send("C")

	waitSignal(t, f.messenger.created, "response message")
	f.stop(t)

	reqs := f.provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("provider calls = %d, want one drain to collect all three", len(reqs))
	}
	// All three were drained, then the window kept only the newest two.
	msgs := reqs[0].Messages
	if len(msgs) != 3 || msgs[0].Role != "system" {
		t.Fatalf("request messages = %+v", msgs)
	}
	if !strings.Contains(msgs[1].Content, "message_id: B\n") ||
		!strings.Contains(msgs[2].Content, "message_id: C\n") {
		t.Errorf("retained turns = %+v, want B then C", msgs[1:])
	}
}

func TestScheduler_HistoryTrimmedAcrossCycles(t *testing.T) {
	f := startScheduler(t, []chatReply{{content: "first reply"}, {content: "second reply"}}, 2, time.Millisecond)

	f.send("1")
	waitSignal(t, f.messenger.created, "first response")
	f.send("2")
	waitSignal(t, f.messenger.created, "second response")
	f.stop(t)

	reqs := f.provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(reqs))
	}
	// With a window of 2 the second request keeps the assistant turn and the
	// new message; the original user turn is evicted.
	msgs := reqs[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "first reply" {
		t.Errorf("retained turn = %+v, want previous assistant reply", msgs[1])
	}
	if msgs[2].Role != "user" || !strings.Contains(msgs[2].Content, "message_id: 2\n") {
		t.Errorf("newest turn = %+v, want user message 2", msgs[2])
	}
}

func TestScheduler_SentinelSuppressesPostButKeepsTurn(t *testing.T) {
	f := startScheduler(t, []chatReply{{content: "  <empty/> \n"}, {content: "ok"}}, 8, time.Millisecond)

	f.send("1")
	poll(t, "first provider call", func() bool { return len(f.provider.Requests()) == 1 })
	if sent := f.messenger.sentMessages(); len(sent) != 0 {
		t.Fatalf("posted %q for a declined reply", sent)
	}

	f.send("2")
	waitSignal(t, f.messenger.created, "second response")
	f.stop(t)

	msgs := f.provider.Requests()[1].Messages
	var sawSentinel bool
	for _, m := range msgs {
		if m.Role == "assistant" && strings.TrimSpace(m.Content) == NoReplySentinel {
			sawSentinel = true
		}
	}
	if !sawSentinel {
		t.Errorf("declined turn missing from next request: %+v", msgs)
	}
}

func TestScheduler_TruncatesToCharLimit(t *testing.T) {
	long := strings.Repeat("é", 2500)
	f := startScheduler(t, []chatReply{{content: long}}, 8, time.Millisecond)

	f.send("1")
	got := waitSignal(t, f.messenger.created, "response message")
	f.stop(t)

	if !utf8.ValidString(got) {
		t.Fatal("truncation split a multi-byte character")
	}
	if n := utf8.RuneCountInString(got); n != 2000 {
		t.Fatalf("posted %d characters, want 2000", n)
	}
	if got != strings.Repeat("é", 2000) {
		t.Error("truncated content is not a prefix of the reply")
	}
}

func TestScheduler_RepeatedFailuresKeepOneNotice(t *testing.T) {
	f := startScheduler(t, []chatReply{{err: errors.New("boom")}}, 8, time.Millisecond)

	f.send("1")
	first := waitSignal(t, f.messenger.noticed, "first notice")
	f.send("2")
	waitSignal(t, f.messenger.noticed, "second notice")

	// The previous notice comes down asynchronously.
	poll(t, "first notice deletion", func() bool {
		f.messenger.mu.Lock()
		defer f.messenger.mu.Unlock()
		_, alive := f.messenger.live[first]
		return !alive
	})
	if n := f.messenger.liveNotices(); n != 1 {
		t.Errorf("live notices = %d, want 1", n)
	}
	f.stop(t)
}

func TestScheduler_ShutdownDeletesOutstandingNotice(t *testing.T) {
	f := startScheduler(t, []chatReply{{err: errors.New("boom")}}, 8, time.Millisecond)

	f.send("1")
	waitSignal(t, f.messenger.noticed, "error notice")
	f.stop(t)

	if n := f.messenger.liveNotices(); n != 0 {
		t.Errorf("live notices after shutdown = %d, want 0", n)
	}
}

func TestScheduler_NoticeClearedAfterRecovery(t *testing.T) {
	f := startScheduler(t, []chatReply{{err: errors.New("boom")}, {content: "back up"}}, 8, time.Millisecond)

	f.send("1")
	waitSignal(t, f.messenger.noticed, "error notice")
	f.send("2")
	waitSignal(t, f.messenger.created, "recovery response")

	poll(t, "notice cleanup", func() bool { return f.messenger.liveNotices() == 0 })
	f.stop(t)
}

func TestTruncateChars(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under limit", "hello", 10, "hello"},
		{"at limit", "hello", 5, "hello"},
		{"ascii cut", "hello", 3, "hel"},
		{"multibyte cut", "ééé", 2, "éé"},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateChars(tt.in, tt.max); got != tt.want {
				t.Errorf("truncateChars(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestScheduler_WaitForGate(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MinDelay: time.Hour})
	s.lastResponse = time.Now().Add(-2 * time.Hour)
	if !s.waitForGate(context.Background()) {
		t.Error("waitForGate() = false with the delay already elapsed")
	}

	s.lastResponse = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s.waitForGate(ctx) {
		t.Error("waitForGate() = true on a cancelled context")
	}
}
