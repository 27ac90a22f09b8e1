package summarizer

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DefaultCompletionTimeout bounds one completion call.
const DefaultCompletionTimeout = 60 * time.Second

// DispatchConfig configures the Dispatcher.
type DispatchConfig struct {
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// Dispatcher sends formatted prompts to the completion service.
type Dispatcher struct {
	completer Completer
	cfg       DispatchConfig
	metrics   *Metrics
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(completer Completer, cfg DispatchConfig, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCompletionTimeout
	}
	return &Dispatcher{
		completer: completer,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// Dispatch asks for a summary of prompt. An empty block never reaches the
// completion service. Failures are logged and produce an empty result.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt FormattedPrompt) SummaryResult {
	result, err := d.dispatch(ctx, prompt)
	if err != nil {
		d.metrics.failure("completion")
		d.logger.Error("summary completion failed", "error", err)
		return ""
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, prompt FormattedPrompt) (SummaryResult, error) {
	if prompt.Block == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := d.completer.Complete(ctx, d.cfg.SystemPrompt, prompt.String(), d.cfg.Model)
	d.metrics.observeCompletion(time.Since(start))
	if err != nil {
		return "", &ServiceError{Model: d.cfg.Model, Err: err}
	}
	return strings.TrimSpace(out), nil
}
