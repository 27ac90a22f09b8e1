package summarizer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
)

const (
	// DefaultRetention is how long a summary stays in the chat.
	DefaultRetention = 5 * time.Minute

	deleteTimeout = 30 * time.Second
)

// Timer is a cancellable pending call.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so deletion scheduling can be tested.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

type pendingDeletion struct {
	deletion ScheduledDeletion
	timer    Timer
}

// Publisher posts summaries as replies and retracts them after Retention.
// It owns the registry of pending deletions.
type Publisher struct {
	sink      ReplySink
	retention time.Duration
	clock     Clock
	metrics   *Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingDeletion
	closed  bool
}

// NewPublisher creates a publisher. clock and metrics may be nil.
func NewPublisher(sink ReplySink, retention time.Duration, clock Clock, metrics *Metrics, logger *slog.Logger) *Publisher {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sink:      sink,
		retention: retention,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
		pending:   make(map[string]*pendingDeletion),
	}
}

// Publish replies to trigger with result and schedules its deletion for
// everyone at send time + retention. An empty result is a no-op.
func (p *Publisher) Publish(ctx context.Context, chatID string, trigger channels.ChatMessage, result SummaryResult) (*ScheduledDeletion, error) {
	if result == "" {
		return nil, nil
	}

	handle, err := p.sink.SendReply(ctx, chatID, trigger, result)
	if err != nil {
		return nil, &DeliveryError{Op: "send", ChatID: chatID, Err: err}
	}
	if handle.ChatID == "" {
		handle.ChatID = chatID
	}
	if handle.SentAt.IsZero() {
		handle.SentAt = p.clock.Now()
	}
	p.metrics.publishedSummary()

	return p.schedule(handle), nil
}

func (p *Publisher) schedule(handle channels.MessageHandle) *ScheduledDeletion {
	fireAt := handle.SentAt.Add(p.retention)
	delay := fireAt.Sub(p.clock.Now())
	if delay < 0 {
		delay = 0
	}
	deletion := ScheduledDeletion{Handle: handle, FireAt: fireAt}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Warn("publisher closed, summary will not be deleted", "message_id", handle.ID)
		return &deletion
	}

	if old, ok := p.pending[handle.ID]; ok {
		old.timer.Stop()
	}
	p.pending[handle.ID] = &pendingDeletion{
		deletion: deletion,
		timer:    p.clock.AfterFunc(delay, func() { p.fire(handle) }),
	}
	p.metrics.setPending(len(p.pending))

	p.logger.Debug("summary deletion scheduled", "message_id", handle.ID, "fire_at", fireAt)
	return &deletion
}

// fire deletes a published summary. Failures are logged and dropped.
func (p *Publisher) fire(handle channels.MessageHandle) {
	p.mu.Lock()
	if _, ok := p.pending[handle.ID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, handle.ID)
	p.metrics.setPending(len(p.pending))
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	if err := p.sink.DeleteMessage(ctx, handle, true); err != nil {
		p.metrics.failure("delete")
		p.logger.Warn("summary deletion failed",
			"error", &DeliveryError{Op: "delete", ChatID: handle.ChatID, Err: err},
			"message_id", handle.ID)
		return
	}
	p.logger.Debug("summary deleted", "chat", handle.ChatID, "message_id", handle.ID)
}

// Pending returns the scheduled deletions ordered by fire time.
func (p *Publisher) Pending() []ScheduledDeletion {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ScheduledDeletion, 0, len(p.pending))
	for _, pd := range p.pending {
		out = append(out, pd.deletion)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Close cancels every pending deletion. Later publishes are not scheduled.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	cancelled := len(p.pending)
	for id, pd := range p.pending {
		pd.timer.Stop()
		delete(p.pending, id)
	}
	p.metrics.setPending(0)
	p.logger.Debug("publisher closed", "cancelled_deletions", cancelled)
}
