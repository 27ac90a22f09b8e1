package whatsapp

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
	"github.com/dnephew1/resumos/pkg/resumos/database"
)

// FetchRecentMessages returns up to limit recent messages of a chat from the
// message log, oldest first, with contact names resolved from the session's
// address book.
func (w *WhatsApp) FetchRecentMessages(ctx context.Context, chatID string, limit int) ([]channels.ChatMessage, error) {
	if w.history == nil {
		return nil, fmt.Errorf("message log not configured")
	}
	rows, err := w.history.Recent(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string)
	out := make([]channels.ChatMessage, 0, len(rows))
	for _, row := range rows {
		m := chatMessageFromStored(row)
		name, ok := names[row.SenderJID]
		if !ok {
			name = w.contactName(ctx, row.SenderJID)
			names[row.SenderJID] = name
		}
		m.Sender.ContactName = name
		out = append(out, m)
	}
	return out, nil
}

// contactName looks a sender up in the address book synced from the phone.
func (w *WhatsApp) contactName(ctx context.Context, senderJID string) string {
	if w.client == nil || w.client.Store == nil || w.client.Store.Contacts == nil {
		return ""
	}
	jid, err := types.ParseJID(senderJID)
	if err != nil {
		return ""
	}
	info, err := w.client.Store.Contacts.GetContact(ctx, jid.ToNonAD())
	if err != nil || !info.Found {
		return ""
	}
	name, _ := lo.Coalesce(info.FullName, info.FirstName, info.BusinessName)
	return name
}

// SendReply posts text to a chat quoting the given message and records the
// reply in the message log.
func (w *WhatsApp) SendReply(ctx context.Context, chatID string, quoted channels.ChatMessage, text string) (channels.MessageHandle, error) {
	if !w.connected.Load() {
		return channels.MessageHandle{}, channels.ErrChannelDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return channels.MessageHandle{}, fmt.Errorf("invalid JID %q: %w", chatID, err)
	}

	resp, err := w.client.SendMessage(ctx, jid, buildReplyMessage(text, quoted))
	if err != nil {
		w.errorCount.Add(1)
		return channels.MessageHandle{}, fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}

	sentAt := resp.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	handle := channels.MessageHandle{ChatID: chatID, ID: string(resp.ID), SentAt: sentAt}

	if w.history != nil {
		err := w.history.Record(ctx, database.StoredMessage{
			ChatID:    chatID,
			ID:        handle.ID,
			SenderJID: w.getClientJID(),
			Body:      text,
			Timestamp: sentAt,
			FromMe:    true,
		})
		if err != nil {
			w.logger.Warn("whatsapp: failed to record reply", "chat", chatID, "id", handle.ID, "error", err)
		}
	}
	return handle, nil
}

// DeleteMessage retracts a message the bot sent. Only revoke-for-everyone
// reaches WhatsApp; either way the message leaves the local log.
func (w *WhatsApp) DeleteMessage(ctx context.Context, handle channels.MessageHandle, forEveryone bool) error {
	if forEveryone {
		if !w.connected.Load() {
			return channels.ErrChannelDisconnected
		}
		jid, err := parseJID(handle.ChatID)
		if err != nil {
			return fmt.Errorf("invalid JID %q: %w", handle.ChatID, err)
		}
		revoke := w.client.BuildRevoke(jid, types.EmptyJID, types.MessageID(handle.ID))
		if _, err := w.client.SendMessage(ctx, jid, revoke); err != nil {
			w.errorCount.Add(1)
			return fmt.Errorf("revoking message %s: %w", handle.ID, err)
		}
	}

	if w.history != nil {
		return w.history.Delete(ctx, handle.ChatID, handle.ID)
	}
	return nil
}

// SendTyping sends a "composing" indicator to a chat.
func (w *WhatsApp) SendTyping(ctx context.Context, chatID string) error {
	if !w.connected.Load() || !w.cfg.SendTyping {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	return w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// SendPresence updates the bot's presence status.
func (w *WhatsApp) SendPresence(ctx context.Context, available bool) error {
	if !w.connected.Load() {
		return nil
	}
	if available {
		return w.client.SendPresence(ctx, types.PresenceAvailable)
	}
	return w.client.SendPresence(ctx, types.PresenceUnavailable)
}

// GroupSize returns the participant count of a group chat.
func (w *WhatsApp) GroupSize(ctx context.Context, chatID string) (int, error) {
	jid, err := parseJID(chatID)
	if err != nil {
		return 0, fmt.Errorf("invalid JID %q: %w", chatID, err)
	}
	if jid.Server != types.GroupServer {
		return 0, channels.ErrNotAGroup
	}
	if !w.connected.Load() {
		return 0, channels.ErrChannelDisconnected
	}
	info, err := w.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return 0, fmt.Errorf("group info %s: %w", chatID, err)
	}
	return len(info.Participants), nil
}

// ---------- Conversions ----------

// buildReplyMessage builds a text message quoting another message.
func buildReplyMessage(text string, quoted channels.ChatMessage) *waE2E.Message {
	if quoted.ID == "" {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	ctxInfo := &waE2E.ContextInfo{
		StanzaID:      proto.String(quoted.ID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(quoted.Body)},
	}
	if quoted.Sender.JID != "" {
		ctxInfo.Participant = proto.String(quoted.Sender.JID)
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: ctxInfo,
		},
	}
}

// storedFromEvent converts a whatsmeow message into a message log row.
func storedFromEvent(chatID string, sender types.JID, evt *events.Message, body string) database.StoredMessage {
	ts := evt.Info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return database.StoredMessage{
		ChatID:    chatID,
		ID:        string(evt.Info.ID),
		SenderJID: sender.ToNonAD().String(),
		PushName:  evt.Info.PushName,
		Body:      body,
		Timestamp: ts,
		FromMe:    evt.Info.IsFromMe,
	}
}

// chatMessageFromStored converts a message log row into a ChatMessage.
func chatMessageFromStored(row database.StoredMessage) channels.ChatMessage {
	return channels.ChatMessage{
		ID:     row.ID,
		ChatID: row.ChatID,
		Sender: channels.Sender{
			JID:      row.SenderJID,
			PushName: row.PushName,
			Number:   numberOf(row.SenderJID),
		},
		Body:       row.Body,
		Timestamp:  row.Timestamp,
		IsFromSelf: row.FromMe,
	}
}

func incomingFromStored(row database.StoredMessage, isGroup bool) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ChatMessage: chatMessageFromStored(row),
		Channel:     "whatsapp",
		IsGroup:     isGroup,
	}
}

// numberOf returns the phone number of a user JID. LIDs and other servers
// carry no phone number.
func numberOf(jid string) string {
	parsed, err := types.ParseJID(jid)
	if err != nil || parsed.Server != types.DefaultUserServer {
		return ""
	}
	return parsed.User
}
