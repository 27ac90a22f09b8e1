package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
	"github.com/dnephew1/resumos/pkg/resumos/channels/whatsapp"
	"github.com/dnephew1/resumos/pkg/resumos/database"
	"github.com/dnephew1/resumos/pkg/resumos/llm"
	"github.com/dnephew1/resumos/pkg/resumos/scheduler"
	"github.com/dnephew1/resumos/pkg/resumos/summarizer"
)

// ErrChannelFailed is returned by Run when the channel gave up reconnecting.
var ErrChannelFailed = errors.New("chat channel failed permanently")

// pruneJobID identifies the message log prune job.
const pruneJobID = "prune-history"

// Session is the chat channel the bot runs on: history for window
// selection, quoted replies and retraction, presence and group lookups.
type Session interface {
	channels.HistoryChannel
	channels.ReplyChannel
	channels.PresenceChannel
	channels.GroupChannel
}

var _ summarizer.ChatSession = Session(nil)

// failer is implemented by channels that can fail permanently. Err reports
// why once Failed is closed.
type failer interface {
	Failed() <-chan struct{}
	Err() error
}

// Option customizes a Bot.
type Option func(*Bot)

// WithSession replaces the WhatsApp channel.
func WithSession(s Session) Option { return func(b *Bot) { b.session = s } }

// WithCompleter replaces the OpenAI client.
func WithCompleter(c summarizer.Completer) Option { return func(b *Bot) { b.completer = c } }

// WithRegistry sets the Prometheus registry (a fresh one by default).
func WithRegistry(r *prometheus.Registry) Option { return func(b *Bot) { b.registry = r } }

// Bot owns every long-running component.
type Bot struct {
	cfg    *Config
	logger *slog.Logger

	backend   *database.SQLiteBackend
	history   *database.MessageLog
	session   Session
	completer summarizer.Completer
	pipeline  *summarizer.Pipeline
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
	metrics   *MetricsServer

	inflight sync.WaitGroup
	stopOnce sync.Once
}

// New opens the database and assembles the bot. Nothing connects until Run.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bot{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = prometheus.NewRegistry()
		b.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	backend, err := database.OpenSQLite(cfg.SQLiteConfig())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := backend.Migrator.Migrate(); err != nil {
		backend.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	b.backend = backend
	b.history = database.NewMessageLog(backend.DB)

	if b.session == nil {
		b.session = whatsapp.New(cfg.Channels.WhatsApp, b.history, logger)
	}
	if b.completer == nil {
		b.completer = llm.New(cfg.API, logger)
	}
	if o, ok := b.session.(observable); ok {
		o.AddConnectionObserver(newConnectionWatcher(b.registry, logger))
	}

	pipelineOpts := []summarizer.Option{
		summarizer.WithLogger(logger),
		summarizer.WithMetrics(summarizer.NewMetrics(b.registry)),
	}
	if cfg.Summary.MaxPromptTokens > 0 {
		pipelineOpts = append(pipelineOpts, summarizer.WithTokenCounter(llm.NewTokenCounter(cfg.API.Model, logger)))
	}
	b.pipeline, err = summarizer.New(b.session, b.completer, cfg.SummarizerConfig(), pipelineOpts...)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	b.scheduler = scheduler.New(logger)
	err = b.scheduler.Add(&scheduler.Job{
		ID:       pruneJobID,
		Schedule: cfg.History.PruneSchedule,
		Run:      b.pruneHistory,
		Timeout:  time.Minute,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("scheduling history prune: %w", err)
	}

	if cfg.Metrics.Address != "" {
		b.metrics = NewMetricsServer(cfg.Metrics.Address, b.registry, b.session.Health, logger)
	}
	return b, nil
}

// History returns the message log.
func (b *Bot) History() *database.MessageLog { return b.history }

// Registry returns the Prometheus registry the bot reports to.
func (b *Bot) Registry() *prometheus.Registry { return b.registry }

// Run connects the channel and handles messages until ctx ends, the
// channel closes, or the channel fails (ErrChannelFailed).
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s: %w", b.session.Name(), err)
	}

	if err := b.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	if err := b.scheduler.RunNow(pruneJobID); err != nil {
		b.logger.Warn("initial history prune failed", "error", err)
	}
	if b.metrics != nil {
		b.metrics.Start()
	}

	var failed <-chan struct{}
	if f, ok := b.session.(failer); ok {
		failed = f.Failed()
	}

	b.logger.Info("resumos running",
		"name", b.cfg.Name,
		"command", b.cfg.Summary.Command,
		"gate", b.cfg.Gate.Mode)

	messages := b.session.Receive()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-failed:
			return fmt.Errorf("%w: %w", ErrChannelFailed, b.session.(failer).Err())
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				b.pipeline.HandleMessage(ctx, msg)
			}()
		}
	}
}

// Shutdown stops every component. Pending deletions are abandoned.
func (b *Bot) Shutdown(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.scheduler.Stop()
		b.pipeline.Close()

		if derr := b.session.Disconnect(); derr != nil {
			b.logger.Warn("disconnect failed", "error", derr)
		}

		done := make(chan struct{})
		go func() {
			b.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			b.logger.Warn("shutdown: in-flight summaries still running")
		}

		if b.metrics != nil {
			if serr := b.metrics.Stop(ctx); serr != nil {
				b.logger.Warn("metrics server shutdown failed", "error", serr)
			}
		}
		err = b.backend.Close()
	})
	return err
}

// pruneHistory drops messages older than the history retention.
func (b *Bot) pruneHistory(ctx context.Context) error {
	cutoff := time.Now().Add(-b.cfg.History.Retention)
	n, err := b.history.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		b.logger.Info("message log pruned", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
