package channels

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestChatMessageTimestampSeconds(t *testing.T) {
	msg := ChatMessage{Timestamp: time.Unix(1700000000, 999_000_000)}
	if got := msg.TimestampSeconds(); got != 1700000000 {
		t.Errorf("expected 1700000000, got %d", got)
	}
}

func TestIncomingMessageEmbedsChatMessage(t *testing.T) {
	in := &IncomingMessage{
		ChatMessage: ChatMessage{ID: "m1", ChatID: "g@g.us", Body: "#resumo"},
		Channel:     "whatsapp",
		IsGroup:     true,
	}
	if in.ID != "m1" || in.Body != "#resumo" {
		t.Errorf("promoted fields not accessible: %+v", in)
	}
}

func TestErrorsWrap(t *testing.T) {
	err := fmt.Errorf("sending reply: %w", ErrChannelDisconnected)
	if !errors.Is(err, ErrChannelDisconnected) {
		t.Error("expected wrapped ErrChannelDisconnected")
	}
}
