// Package summarizer turns a "#resumo" command into a summary reply: it
// selects the relevant slice of chat history, formats it into a prompt, asks
// a completion service for a summary and posts the result as a reply that is
// retracted after a retention period.
package summarizer

import (
	"context"
	"time"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
)

// Mode selects how the window of messages is chosen.
type Mode string

const (
	// ModeTimeWindow keeps messages from the hour before the last message.
	ModeTimeWindow Mode = "time_window"
	// ModeCount keeps the N messages preceding the trigger.
	ModeCount Mode = "count"
)

// SummaryRequest is one invocation of the summary command.
type SummaryRequest struct {
	ChatID  string
	Trigger channels.ChatMessage

	// Limit > 0 selects count mode.
	Limit int
}

// Mode returns the selection mode implied by Limit.
func (r SummaryRequest) Mode() Mode {
	if r.Limit > 0 {
		return ModeCount
	}
	return ModeTimeWindow
}

// TriggerTimestamp returns the trigger time in seconds.
func (r SummaryRequest) TriggerTimestamp() int64 {
	return r.Trigger.TimestampSeconds()
}

// EligibleWindow is the ordered (oldest first) set of messages to summarize.
type EligibleWindow struct {
	Mode     Mode
	Messages []channels.ChatMessage

	// RequestedBy is the display name of whoever sent the trigger.
	RequestedBy string

	// Dropped counts messages removed to fit the token budget.
	Dropped int
}

// Empty reports whether there is nothing to summarize.
func (w EligibleWindow) Empty() bool { return len(w.Messages) == 0 }

// FormattedPrompt is the text sent to the completion service.
type FormattedPrompt struct {
	Preamble string
	Block    string
}

// String returns the full prompt.
func (p FormattedPrompt) String() string { return p.Preamble + p.Block }

// SummaryResult is the generated summary; empty means nothing to publish.
type SummaryResult = string

// ScheduledDeletion is a pending retraction of a published reply.
type ScheduledDeletion struct {
	Handle channels.MessageHandle
	FireAt time.Time
}

// HistorySource provides the recent messages of a chat, oldest first.
type HistorySource interface {
	FetchRecentMessages(ctx context.Context, chatID string, limit int) ([]channels.ChatMessage, error)
}

// ReplySink posts and retracts replies.
type ReplySink interface {
	SendReply(ctx context.Context, chatID string, quoted channels.ChatMessage, text string) (channels.MessageHandle, error)
	DeleteMessage(ctx context.Context, handle channels.MessageHandle, forEveryone bool) error
}

// ChatSession is everything the pipeline needs from a chat provider.
type ChatSession interface {
	HistorySource
	ReplySink
	SendTyping(ctx context.Context, chatID string) error
	GroupSize(ctx context.Context, chatID string) (int, error)
}

// Completer generates text from a system and a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user, model string) (string, error)
}

// TokenCounter measures prompt size.
type TokenCounter interface {
	CountTokens(text string) int
}
