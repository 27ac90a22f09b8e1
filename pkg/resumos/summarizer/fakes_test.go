package summarizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const testChat = "120363000000000000@g.us"

var baseTime = time.Unix(1700000000, 0)

// msg builds a chat message from sender at baseTime+offset seconds.
func msg(id, sender, body string, offset int64) channels.ChatMessage {
	return channels.ChatMessage{
		ID:        id,
		ChatID:    testChat,
		Sender:    channels.Sender{JID: sender + "@s.whatsapp.net", PushName: sender},
		Body:      body,
		Timestamp: baseTime.Add(time.Duration(offset) * time.Second),
	}
}

func selfMsg(id, body string, offset int64) channels.ChatMessage {
	m := msg(id, "bot", body, offset)
	m.IsFromSelf = true
	return m
}

type sentReply struct {
	ChatID string
	Quoted channels.ChatMessage
	Text   string
}

type deleteCall struct {
	Handle      channels.MessageHandle
	ForEveryone bool
}

type fakeSession struct {
	mu sync.Mutex

	history  []channels.ChatMessage
	fetchErr error

	groupSize int
	groupErr  error

	sendErr   error
	deleteErr error
	sentAt    time.Time

	fetchLimits []int
	groupCalls  int
	typing      []string
	sent        []sentReply
	deleted     []deleteCall
}

func (s *fakeSession) FetchRecentMessages(_ context.Context, _ string, limit int) ([]channels.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchLimits = append(s.fetchLimits, limit)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	start := 0
	if len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]channels.ChatMessage, len(s.history)-start)
	copy(out, s.history[start:])
	return out, nil
}

func (s *fakeSession) SendReply(_ context.Context, chatID string, quoted channels.ChatMessage, text string) (channels.MessageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return channels.MessageHandle{}, s.sendErr
	}
	s.sent = append(s.sent, sentReply{ChatID: chatID, Quoted: quoted, Text: text})
	return channels.MessageHandle{
		ChatID: chatID,
		ID:     fmt.Sprintf("reply-%d", len(s.sent)),
		SentAt: s.sentAt,
	}, nil
}

func (s *fakeSession) DeleteMessage(_ context.Context, handle channels.MessageHandle, forEveryone bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, deleteCall{Handle: handle, ForEveryone: forEveryone})
	return s.deleteErr
}

func (s *fakeSession) SendTyping(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, chatID)
	return nil
}

func (s *fakeSession) GroupSize(context.Context, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupCalls++
	return s.groupSize, s.groupErr
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSession) deleteCalls() []deleteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]deleteCall(nil), s.deleted...)
}

type fakeCompleter struct {
	mu sync.Mutex

	out string
	err error

	calls       int
	system      string
	user        string
	model       string
	hadDeadline bool
}

func (c *fakeCompleter) Complete(ctx context.Context, system, user, model string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.system, c.user, c.model = system, user, model
	_, c.hadDeadline = ctx.Deadline()
	return c.out, c.err
}

func (c *fakeCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// charCounter counts one token per byte.
type charCounter struct{}

func (charCounter) CountTokens(text string) int { return len(text) }
