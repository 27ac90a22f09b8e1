// Package channels defines the interfaces and types shared by resumos chat
// channels. A channel delivers inbound group messages, exposes the recent
// history of a chat and publishes (and later retracts) replies.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// HistoryChannel exposes the recent messages of a chat.
type HistoryChannel interface {
	Channel

	// FetchRecentMessages returns up to limit of the most recent messages of
	// the chat, oldest first.
	FetchRecentMessages(ctx context.Context, chatID string, limit int) ([]ChatMessage, error)
}

// ReplyChannel extends Channel with quoted replies and retraction.
type ReplyChannel interface {
	Channel

	// SendReply posts text to the chat quoting the given message.
	SendReply(ctx context.Context, chatID string, quoted ChatMessage, text string) (MessageHandle, error)

	// DeleteMessage retracts a previously sent message. With forEveryone the
	// message is revoked for all participants.
	DeleteMessage(ctx context.Context, handle MessageHandle, forEveryone bool) error
}

// PresenceChannel extends Channel with typing/presence indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, chatID string) error

	// SendPresence updates the bot's presence status.
	SendPresence(ctx context.Context, available bool) error
}

// GroupChannel extends Channel with group metadata lookups.
type GroupChannel interface {
	Channel

	// GroupSize returns the number of participants of a group chat.
	GroupSize(ctx context.Context, chatID string) (int, error)
}

// Sender identifies the author of a message.
type Sender struct {
	// JID is the platform identifier of the author.
	JID string

	// PushName is the name the author chose for themselves.
	PushName string

	// ContactName is the name saved in the bot's address book.
	ContactName string

	// Number is the phone number part of the JID.
	Number string
}

// ChatMessage is an immutable snapshot of one message of a chat.
type ChatMessage struct {
	ID         string
	ChatID     string
	Sender     Sender
	Body       string
	Timestamp  time.Time
	IsFromSelf bool
}

// TimestampSeconds returns the message time with second resolution.
func (m ChatMessage) TimestampSeconds() int64 {
	return m.Timestamp.Unix()
}

// IncomingMessage represents a message received from a channel.
type IncomingMessage struct {
	ChatMessage

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// MessageHandle references a message sent by the bot.
type MessageHandle struct {
	ChatID string
	ID     string
	SentAt time.Time
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool           `json:"connected"`
	LastMessageAt time.Time      `json:"last_message_at"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
	ErrNotAGroup           = fmt.Errorf("chat is not a group")
)
