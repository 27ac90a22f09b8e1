package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
	"github.com/dnephew1/resumos/pkg/resumos/database"
	"github.com/dnephew1/resumos/pkg/resumos/summarizer"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const testGroup = "120363000000000001@g.us"

type fakeSession struct {
	mu        sync.Mutex
	messages  chan *channels.IncomingMessage
	failed    chan struct{}
	history   []channels.ChatMessage
	replies   []string
	connected bool
	connErr   error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		messages: make(chan *channels.IncomingMessage, 8),
		failed:   make(chan struct{}),
	}
}

func (f *fakeSession) Name() string { return "fake" }

func (f *fakeSession) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connErr != nil {
		return f.connErr
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeSession) Receive() <-chan *channels.IncomingMessage { return f.messages }
func (f *fakeSession) Failed() <-chan struct{}                  { return f.failed }
func (f *fakeSession) Err() error                               { return channels.ErrConnectionFailed }

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: f.IsConnected()}
}

func (f *fakeSession) FetchRecentMessages(_ context.Context, _ string, limit int) ([]channels.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) > limit {
		return append([]channels.ChatMessage(nil), f.history[len(f.history)-limit:]...), nil
	}
	return append([]channels.ChatMessage(nil), f.history...), nil
}

func (f *fakeSession) SendReply(_ context.Context, chatID string, _ channels.ChatMessage, text string) (channels.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return channels.MessageHandle{ChatID: chatID, ID: "reply", SentAt: time.Now()}, nil
}

func (f *fakeSession) DeleteMessage(context.Context, channels.MessageHandle, bool) error { return nil }
func (f *fakeSession) SendTyping(context.Context, string) error                          { return nil }
func (f *fakeSession) SendPresence(context.Context, bool) error                          { return nil }
func (f *fakeSession) GroupSize(context.Context, string) (int, error)                    { return 3, nil }

func (f *fakeSession) replyTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

type staticCompleter struct{ out string }

func (c staticCompleter) Complete(context.Context, string, string, string) (string, error) {
	return c.out, nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "resumos.db")
	cfg.Gate = summarizer.Gate{Mode: summarizer.GateGroups}
	cfg.Summary.MaxPromptTokens = 0
	cfg.applyDefaults()
	return cfg
}

func chatMsg(id, name, body string, at time.Time) channels.ChatMessage {
	return channels.ChatMessage{
		ID:        id,
		ChatID:    testGroup,
		Sender:    channels.Sender{PushName: name},
		Body:      body,
		Timestamp: at,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gate.Mode = "everyone"

	_, err := New(cfg, testLogger, WithSession(newFakeSession()), WithCompleter(staticCompleter{}))
	require.Error(t, err)
}

func TestNewRejectsBadPruneSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.PruneSchedule = "every now and then"

	_, err := New(cfg, testLogger, WithSession(newFakeSession()), WithCompleter(staticCompleter{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune")
}

func TestRunSummarizes(t *testing.T) {
	cfg := testConfig(t)
	session := newFakeSession()
	reg := prometheus.NewRegistry()

	b, err := New(cfg, testLogger,
		WithSession(session),
		WithCompleter(staticCompleter{out: "Resumo: reunião às 10h."}),
		WithRegistry(reg))
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	now := time.Now()
	trigger := chatMsg("t", "Ana", "#resumo", now)
	session.history = []channels.ChatMessage{
		chatMsg("1", "Bia", "reunião às 10h", now.Add(-2*time.Minute)),
		chatMsg("2", "Caio", "ok", now.Add(-time.Minute)),
		trigger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	session.messages <- &channels.IncomingMessage{ChatMessage: trigger, Channel: "fake", IsGroup: true}

	require.Eventually(t, func() bool { return len(session.replyTexts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Resumo: reunião às 10h.", session.replyTexts()[0])
	assert.Equal(t, 1.0, counterTotal(t, reg, "resumos_summary_requests_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// counterTotal sums every series of a counter family.
func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestRunStopsWhenChannelFails(t *testing.T) {
	session := newFakeSession()
	b, err := New(testConfig(t), testLogger, WithSession(session), WithCompleter(staticCompleter{}))
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	close(session.failed)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrChannelFailed)
		assert.ErrorIs(t, err, channels.ErrConnectionFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel failure")
	}
}

func TestRunConnectError(t *testing.T) {
	session := newFakeSession()
	session.connErr = errors.New("no session")
	b, err := New(testConfig(t), testLogger, WithSession(session), WithCompleter(staticCompleter{}))
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	err = b.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, session.connErr)
}

func TestPruneHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.History.Retention = 2 * time.Hour

	b, err := New(cfg, testLogger, WithSession(newFakeSession()), WithCompleter(staticCompleter{}))
	require.NoError(t, err)
	defer b.Shutdown(ctx)

	now := time.Now()
	for id, at := range map[string]time.Time{"old": now.Add(-3 * time.Hour), "new": now.Add(-time.Hour)} {
		require.NoError(t, b.History().Record(ctx, database.StoredMessage{ChatID: testGroup, ID: id, Body: id, Timestamp: at}))
	}

	require.NoError(t, b.pruneHistory(ctx))

	rows, err := b.History().Recent(ctx, testGroup, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].ID)
}

func TestShutdownIsIdempotent(t *testing.T) {
	session := newFakeSession()
	b, err := New(testConfig(t), testLogger, WithSession(session), WithCompleter(staticCompleter{}))
	require.NoError(t, err)

	require.NoError(t, b.Shutdown(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))
	assert.False(t, session.IsConnected())
}
