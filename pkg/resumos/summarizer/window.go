package summarizer

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
)

const (
	// DefaultWindow is how far back from the last message time-window mode looks.
	DefaultWindow = time.Hour

	// DefaultMaxHistory caps the history scanned in time-window mode.
	DefaultMaxHistory = 500
)

// WindowPolicy tunes window selection.
type WindowPolicy struct {
	Window     time.Duration
	MaxHistory int
}

func (p WindowPolicy) withDefaults() WindowPolicy {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.MaxHistory <= 0 {
		p.MaxHistory = DefaultMaxHistory
	}
	return p
}

// SelectWindow fetches the chat history and picks the messages to summarize.
//
// In time-window mode the newest MaxHistory messages are fetched; the message
// right before the trigger is the anchor and only messages strictly newer than
// anchor - Window are kept. In count mode exactly Limit+1 messages are fetched
// and the trigger is dropped. Both modes exclude self-sent and blank messages.
// With fewer than two fetched messages the window is empty.
func SelectWindow(ctx context.Context, src HistorySource, req SummaryRequest, policy WindowPolicy) (EligibleWindow, error) {
	policy = policy.withDefaults()
	mode := req.Mode()

	w := EligibleWindow{
		Mode:        mode,
		RequestedBy: DisplayName(req.Trigger.Sender),
	}

	fetch := policy.MaxHistory
	if mode == ModeCount {
		fetch = req.Limit + 1
	}

	msgs, err := src.FetchRecentMessages(ctx, req.ChatID, fetch)
	if err != nil {
		return w, &FetchError{ChatID: req.ChatID, Err: err}
	}
	if len(msgs) < 2 {
		return w, nil
	}

	prior := priorTo(msgs, req.Trigger.ID)
	if len(prior) == 0 {
		return w, nil
	}

	keep := isEligible
	switch mode {
	case ModeCount:
		if len(prior) > req.Limit {
			prior = prior[len(prior)-req.Limit:]
		}
	case ModeTimeWindow:
		anchor := prior[len(prior)-1]
		threshold := anchor.TimestampSeconds() - int64(policy.Window/time.Second)
		keep = func(m channels.ChatMessage) bool {
			return m.TimestampSeconds() > threshold && isEligible(m)
		}
	}

	w.Messages = lo.Filter(prior, func(m channels.ChatMessage, _ int) bool {
		return keep(m)
	})
	return w, nil
}

// priorTo returns the messages before the trigger. When the trigger is not in
// msgs the newest message is taken to be the trigger.
func priorTo(msgs []channels.ChatMessage, triggerID string) []channels.ChatMessage {
	if triggerID != "" {
		_, idx, found := lo.FindIndexOf(msgs, func(m channels.ChatMessage) bool {
			return m.ID == triggerID
		})
		if found {
			return msgs[:idx]
		}
	}
	return msgs[:len(msgs)-1]
}

func isEligible(m channels.ChatMessage) bool {
	return !m.IsFromSelf && strings.TrimSpace(m.Body) != ""
}
