package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
)

// GateMode selects which chats may use the summary command.
type GateMode string

const (
	// GateGroups accepts every group chat.
	GateGroups GateMode = "groups"
	// GateMinMembers accepts group chats with more than MinMembers participants.
	GateMinMembers GateMode = "min_members"
)

// DefaultMinMembers is the participant threshold of GateMinMembers.
const DefaultMinMembers = 100

// Gate is the eligibility policy. Direct chats are never eligible.
type Gate struct {
	Mode       GateMode `yaml:"mode"`
	MinMembers int      `yaml:"min_members"`
}

// DefaultGate returns the min_members gate with a threshold of 100.
func DefaultGate() Gate {
	return Gate{Mode: GateMinMembers, MinMembers: DefaultMinMembers}
}

// Validate rejects unknown modes and negative thresholds.
func (g Gate) Validate() error {
	switch g.Mode {
	case GateGroups:
	case GateMinMembers:
		if g.MinMembers < 0 {
			return fmt.Errorf("gate.min_members must not be negative, got %d", g.MinMembers)
		}
	default:
		return fmt.Errorf("unknown gate.mode %q (want %q or %q)", g.Mode, GateGroups, GateMinMembers)
	}
	return nil
}

// Config configures a Pipeline.
type Config struct {
	// Command is the trigger token, "#resumo" by default.
	Command string

	Window    WindowPolicy
	Template  Template
	Dispatch  DispatchConfig
	Retention time.Duration
	Gate      Gate

	// MaxPromptTokens trims the oldest messages to fit; 0 disables it.
	MaxPromptTokens int

	// EmptyNotice is posted when there is nothing to summarize. Empty means
	// stay silent.
	EmptyNotice string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for deletion scheduling.
func WithClock(c Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithTokenCounter enables the prompt token budget.
func WithTokenCounter(tc TokenCounter) Option { return func(p *Pipeline) { p.counter = tc } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// Pipeline reacts to inbound messages: gate, select, format, dispatch, publish.
type Pipeline struct {
	session    ChatSession
	cfg        Config
	dispatcher *Dispatcher
	publisher  *Publisher
	counter    TokenCounter
	clock      Clock
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a pipeline over a chat session and a completion service.
func New(session ChatSession, completer Completer, cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Gate.Mode == "" {
		cfg.Gate = DefaultGate()
	}
	if err := cfg.Gate.Validate(); err != nil {
		return nil, err
	}
	cfg.Window = cfg.Window.withDefaults()
	cfg.Template = cfg.Template.withDefaults()

	p := &Pipeline{
		session: session,
		cfg:     cfg,
		clock:   SystemClock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "summarizer")

	p.dispatcher = NewDispatcher(completer, cfg.Dispatch, p.metrics, p.logger)
	p.publisher = NewPublisher(session, cfg.Retention, p.clock, p.metrics, p.logger)
	return p, nil
}

// HandleMessage processes one inbound message. Errors are logged and never
// propagate; a panic is recovered so one bad event cannot stop the bot.
func (p *Pipeline) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while handling message", "panic", r)
		}
	}()
	if msg == nil {
		return
	}

	p.logger.Debug("message received",
		"chat", msg.ChatID,
		"sender", DisplayName(msg.Sender),
		"body", msg.Body)

	if msg.IsFromSelf {
		return
	}
	limit, ok := ParseCommand(msg.Body, p.cfg.Command)
	if !ok {
		return
	}
	if !msg.IsGroup {
		p.logger.Info("not a group chat, skipping", "chat", msg.ChatID)
		return
	}

	allowed, err := p.allowed(ctx, msg.ChatID)
	if err != nil {
		p.metrics.failure("gate")
		p.logger.Error("eligibility check failed", "chat", msg.ChatID, "error", err)
		return
	}
	if !allowed {
		p.logger.Info("group below member threshold, skipping",
			"chat", msg.ChatID, "min_members", p.cfg.Gate.MinMembers)
		return
	}

	req := SummaryRequest{ChatID: msg.ChatID, Trigger: msg.ChatMessage, Limit: limit}
	if _, err := p.Summarize(ctx, req); err != nil {
		var fetchErr *FetchError
		var deliveryErr *DeliveryError
		switch {
		case errors.As(err, &fetchErr):
			p.logger.Error("could not read chat history", "chat", msg.ChatID, "error", err)
		case errors.As(err, &deliveryErr):
			p.logger.Error("could not post summary", "chat", msg.ChatID, "error", err)
		default:
			p.logger.Error("summary failed", "chat", msg.ChatID, "error", err)
		}
	}
}

// Summarize runs one request through selection, formatting, completion and
// publication. It returns the scheduled deletion of the posted reply, or nil
// when nothing was posted.
func (p *Pipeline) Summarize(ctx context.Context, req SummaryRequest) (*ScheduledDeletion, error) {
	mode := req.Mode()
	logger := p.logger.With(
		"request_id", uuid.NewString(),
		"chat", req.ChatID,
		"mode", string(mode),
		"limit", req.Limit)
	p.metrics.request(mode)

	// The composing state expires by itself; the reply supersedes it.
	if err := p.session.SendTyping(ctx, req.ChatID); err != nil {
		logger.Debug("typing indicator failed", "error", err)
	}

	window, err := SelectWindow(ctx, p.session, req, p.cfg.Window)
	if err != nil {
		p.metrics.failure("fetch")
		return nil, err
	}

	window = FitBudget(window, p.cfg.Template, p.counter, p.cfg.MaxPromptTokens)
	if window.Dropped > 0 {
		logger.Info("oldest messages dropped to fit token budget",
			"dropped", window.Dropped, "max_tokens", p.cfg.MaxPromptTokens)
	}

	prompt := Format(window, p.cfg.Template)
	logger.Debug("prompt built", "messages", len(window.Messages), "prompt", prompt.String())

	result := p.dispatcher.Dispatch(ctx, prompt)
	if result == "" && window.Empty() {
		logger.Info("nothing to summarize")
		result = p.cfg.EmptyNotice
	}
	if result == "" {
		return nil, nil
	}

	deletion, err := p.publisher.Publish(ctx, req.ChatID, req.Trigger, result)
	if err != nil {
		p.metrics.failure("send")
		return nil, err
	}
	logger.Info("summary published",
		"message_id", deletion.Handle.ID,
		"delete_at", deletion.FireAt,
		"summary", result)
	return deletion, nil
}

// Pending returns the summaries waiting for deletion.
func (p *Pipeline) Pending() []ScheduledDeletion {
	return p.publisher.Pending()
}

// Close cancels pending deletions.
func (p *Pipeline) Close() {
	p.publisher.Close()
}

func (p *Pipeline) allowed(ctx context.Context, chatID string) (bool, error) {
	if p.cfg.Gate.Mode == GateGroups {
		return true, nil
	}
	n, err := p.session.GroupSize(ctx, chatID)
	if err != nil {
		return false, &FetchError{ChatID: chatID, Err: err}
	}
	return n > p.cfg.Gate.MinMembers, nil
}
