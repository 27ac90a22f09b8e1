package whatsapp

import (
	"fmt"
	"strings"
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ConnectionState represents the current connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateLoggingOut   ConnectionState = "logging_out"
	StateBanned       ConnectionState = "banned"

	// StateFailed is terminal: the reconnect budget ran out.
	StateFailed ConnectionState = "failed"
)

// ConnectionEvent represents a connection state change event.
type ConnectionEvent struct {
	State     ConnectionState `json:"state"`
	Previous  ConnectionState `json:"previous,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
}

// ConnectionObserver receives connection state changes.
type ConnectionObserver interface {
	OnConnectionChange(evt ConnectionEvent)
}

// ConnectionObserverFunc adapts a function to ConnectionObserver.
type ConnectionObserverFunc func(evt ConnectionEvent)

// OnConnectionChange calls f(evt).
func (f ConnectionObserverFunc) OnConnectionChange(evt ConnectionEvent) { f(evt) }

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.HistorySync:
		w.handleHistorySync(evt)

	case *events.Connected:
		w.handleConnected(evt)

	case *events.Disconnected:
		w.handleDisconnected(evt)

	case *events.StreamReplaced:
		w.handleStreamReplaced(evt)

	case *events.LoggedOut:
		w.handleLoggedOut(evt)

	case *events.TemporaryBan:
		w.handleTemporaryBan(evt)

	case *events.KeepAliveTimeout:
		w.handleKeepAliveTimeout(evt)

	case *events.KeepAliveRestored:
		w.logger.Info("whatsapp: keep-alive restored")
		w.errorCount.Store(0)

	case *events.ConnectFailure:
		w.handleConnectFailure(evt)

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID,
			"platform", evt.Platform,
			"business", evt.BusinessName)
	}
}

// handleConnected handles successful connection.
func (w *WhatsApp) handleConnected(_ *events.Connected) {
	previous := w.getState()
	w.setState(StateConnected)
	w.connected.Store(true)
	w.errorCount.Store(0)
	w.reconnectAttempts.Store(0)
	w.UpdateLastMsgTime()

	w.logger.Info("whatsapp: connected", "jid", w.getClientJID())

	w.notifyConnectionChange(ConnectionEvent{
		State:     StateConnected,
		Previous:  previous,
		Timestamp: time.Now(),
		Details:   map[string]any{"jid": w.getClientJID()},
	})

	// Announce the bot as available so typing indicators show up.
	if w.client != nil {
		go func() {
			if err := w.SendPresence(w.ctx, true); err != nil {
				w.logger.Warn("whatsapp: failed to send presence", "error", err)
			}
		}()
	}
}

// handleDisconnected handles disconnection.
func (w *WhatsApp) handleDisconnected(_ *events.Disconnected) {
	previous := w.getState()
	if previous == StateFailed {
		return
	}
	w.setState(StateDisconnected)

	w.logger.Warn("whatsapp: disconnected", "was_connected", w.connected.Load())
	w.connected.Store(false)

	w.notifyConnectionChange(ConnectionEvent{
		State:     StateDisconnected,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    "connection_lost",
	})

	// Reconnect unless the disconnect was requested. A drop while a
	// reconnect is still being confirmed keeps spending the same budget.
	if (previous == StateConnected || previous == StateReconnecting) && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

// handleStreamReplaced handles when another client took over the session.
// Reconnecting would just kick that client off, so the channel fails.
func (w *WhatsApp) handleStreamReplaced(_ *events.StreamReplaced) {
	w.logger.Error("whatsapp: stream replaced, another client connected with this session")
	w.fail("stream_replaced", nil)
}

// handleLoggedOut handles session invalidation. whatsmeow drops the stored
// device, so a restart pairs again with a fresh QR code.
func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}

	w.logger.Error("whatsapp: logged out", "reason", reason, "on_connect", evt.OnConnect)
	w.fail("logged_out", map[string]any{"reason": reason, "needs_qr": true})
}

// handleTemporaryBan handles temporary bans.
func (w *WhatsApp) handleTemporaryBan(evt *events.TemporaryBan) {
	previous := w.getState()
	w.setState(StateBanned)
	w.connected.Store(false)

	w.logger.Error("whatsapp: temporary ban", "code", evt.Code, "expire", evt.Expire)

	details := map[string]any{
		"code":   evt.Code.String(),
		"expire": evt.Expire.String(),
	}
	w.notifyConnectionChange(ConnectionEvent{
		State:     StateBanned,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    "temporary_ban",
		Details:   details,
	})
	w.fail("temporary_ban", details)
}

// handleKeepAliveTimeout forces a reconnect once keep-alives keep failing,
// which catches half-open sockets.
func (w *WhatsApp) handleKeepAliveTimeout(evt *events.KeepAliveTimeout) {
	w.logger.Warn("whatsapp: keep-alive timeout",
		"error_count", evt.ErrorCount,
		"last_success", evt.LastSuccess)
	w.errorCount.Add(1)

	if evt.ErrorCount >= 3 && w.getState() == StateConnected {
		w.logger.Error("whatsapp: keep-alive failed multiple times, forcing reconnection",
			"error_count", evt.ErrorCount)
		w.connected.Store(false)
		go w.attemptReconnect()
	}
}

// handleConnectFailure handles connection failure events from the server.
func (w *WhatsApp) handleConnectFailure(evt *events.ConnectFailure) {
	previous := w.getState()
	w.setState(StateDisconnected)
	w.connected.Store(false)
	w.errorCount.Add(1)

	permanent := evt.PermanentDisconnectDescription()
	w.logger.Error("whatsapp: connect failure",
		"reason", evt.Reason.String(),
		"message", evt.Message,
		"permanent", permanent)

	w.notifyConnectionChange(ConnectionEvent{
		State:     StateDisconnected,
		Previous:  previous,
		Timestamp: time.Now(),
		Reason:    "connect_failure",
		Details: map[string]any{
			"reason":    evt.Reason.String(),
			"message":   evt.Message,
			"permanent": permanent,
		},
	})

	switch {
	case w.ctx.Err() != nil:
	case permanent != "":
		w.fail("connect_failure", map[string]any{"reason": evt.Reason.String(), "permanent": permanent})
	default:
		go w.attemptReconnect()
	}
}

// handleMessageEvt records a message into the message log and emits group
// messages from other participants. Revokes and edits update the log instead.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	w.UpdateLastMsgTime()

	if evt.Info.Chat.Server == types.BroadcastServer {
		return
	}

	if w.applyProtocolMessage(evt) {
		return
	}

	body := extractText(evt.Message)
	chatID := w.resolveJID(evt.Info.Chat).String()
	sender := w.resolveJID(evt.Info.Sender)

	stored := storedFromEvent(chatID, sender, evt, body)
	if body != "" && w.history != nil {
		if err := w.history.Record(w.ctx, stored); err != nil {
			w.logger.Warn("whatsapp: failed to record message",
				"chat", chatID, "id", evt.Info.ID, "error", err)
		}
	}

	if evt.Info.IsFromMe || body == "" {
		return
	}

	msg := incomingFromStored(stored, evt.Info.IsGroup)
	msg.Metadata = map[string]any{
		"sender_jid": evt.Info.Sender.String(),
		"chat_jid":   evt.Info.Chat.String(),
		"push_name":  evt.Info.PushName,
	}
	w.emitMessage(msg)
}

// applyProtocolMessage handles revokes and edits. It reports whether the
// event was consumed.
func (w *WhatsApp) applyProtocolMessage(evt *events.Message) bool {
	pm := evt.Message.GetProtocolMessage()
	if pm == nil {
		pm = evt.RawMessage.GetProtocolMessage()
	}
	if pm == nil {
		return evt.IsEdit
	}

	chatID := w.resolveJID(evt.Info.Chat).String()
	target := pm.GetKey().GetID()

	switch pm.GetType() {
	case waE2E.ProtocolMessage_REVOKE:
		if w.history != nil && target != "" {
			if err := w.history.Delete(w.ctx, chatID, target); err != nil {
				w.logger.Warn("whatsapp: failed to drop revoked message", "chat", chatID, "id", target, "error", err)
			}
		}
		return true

	case waE2E.ProtocolMessage_MESSAGE_EDIT:
		body := extractText(pm.GetEditedMessage())
		if w.history != nil && target != "" && body != "" {
			if err := w.history.UpdateBody(w.ctx, chatID, target, body); err != nil {
				w.logger.Warn("whatsapp: failed to apply edit", "chat", chatID, "id", target, "error", err)
			}
		}
		return true
	}
	return true
}

// handleHistorySync backfills the message log from the history the phone
// pushes after pairing.
func (w *WhatsApp) handleHistorySync(evt *events.HistorySync) {
	if w.client == nil || w.history == nil || evt.Data == nil {
		return
	}

	recorded := 0
	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil || chatJID.Server != types.GroupServer {
			continue
		}
		for _, hm := range conv.GetMessages() {
			parsed, err := w.client.ParseWebMessage(chatJID, hm.GetMessage())
			if err != nil {
				continue
			}
			body := extractText(parsed.Message)
			if body == "" {
				continue
			}
			sender := w.resolveJID(parsed.Info.Sender)
			if err := w.history.Record(w.ctx, storedFromEvent(chatJID.String(), sender, parsed, body)); err == nil {
				recorded++
			}
		}
	}

	w.logger.Info("whatsapp: history sync ingested",
		"type", evt.Data.GetSyncType().String(),
		"conversations", len(evt.Data.GetConversations()),
		"messages", recorded)
}

// resolveJID maps LID identities to phone JIDs when the store knows them.
func (w *WhatsApp) resolveJID(jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer || w.client == nil || w.client.Store == nil {
		return jid
	}
	alt, err := w.client.Store.GetAltJID(w.ctx, jid)
	if err != nil || alt.IsEmpty() {
		return jid
	}
	return alt
}

// extractText returns the text content of a message: plain conversation,
// extended text, or a media caption. Messages without text yield "".
func extractText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	switch {
	case m.Conversation != nil:
		return m.GetConversation()
	case m.ExtendedTextMessage != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.ImageMessage != nil:
		return m.GetImageMessage().GetCaption()
	case m.VideoMessage != nil:
		return m.GetVideoMessage().GetCaption()
	case m.DocumentMessage != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

// ---------- Helpers ----------

// parseJID converts a string JID to types.JID.
// Accepts "5511999999999", "5511999999999@s.whatsapp.net"
// or group IDs like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
