package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StoredMessage is one row of the message log.
type StoredMessage struct {
	ChatID    string
	ID        string
	SenderJID string
	PushName  string
	Body      string
	Timestamp time.Time
	FromMe    bool
}

// MessageLog records chat messages so recent history can be queried later.
// WhatsApp multi-device offers no server-side history lookup, so this table
// is the source of truth for "the last N messages of a chat".
type MessageLog struct {
	db *sql.DB
}

// NewMessageLog creates a message log over an already migrated database.
func NewMessageLog(db *sql.DB) *MessageLog {
	return &MessageLog{db: db}
}

// Record stores a message. Re-recording a known message keeps the first copy,
// so history sync replays never override live data.
func (l *MessageLog) Record(ctx context.Context, m StoredMessage) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, message_id, sender_jid, push_name, body, timestamp, from_me)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO NOTHING`,
		m.ChatID, m.ID, m.SenderJID, m.PushName, m.Body, m.Timestamp.Unix(), boolToInt(m.FromMe))
	if err != nil {
		return fmt.Errorf("record message %s/%s: %w", m.ChatID, m.ID, err)
	}
	return nil
}

// Recent returns the newest limit messages of a chat, oldest first.
// Messages sharing a timestamp keep their arrival order.
func (l *MessageLog) Recent(ctx context.Context, chatID string, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT chat_id, message_id, sender_jid, push_name, body, timestamp, from_me FROM (
			SELECT seq, chat_id, message_id, sender_jid, push_name, body, timestamp, from_me
			FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp DESC, seq DESC
			LIMIT ?
		) ORDER BY timestamp ASC, seq ASC`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var (
			m      StoredMessage
			ts     int64
			fromMe int
		)
		if err := rows.Scan(&m.ChatID, &m.ID, &m.SenderJID, &m.PushName, &m.Body, &ts, &fromMe); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		m.FromMe = fromMe != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateBody replaces the text of an edited message. Unknown messages are ignored.
func (l *MessageLog) UpdateBody(ctx context.Context, chatID, id, body string) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE messages SET body = ? WHERE chat_id = ? AND message_id = ?", body, chatID, id)
	if err != nil {
		return fmt.Errorf("update message %s/%s: %w", chatID, id, err)
	}
	return nil
}

// Delete removes a message, e.g. after it was revoked.
func (l *MessageLog) Delete(ctx context.Context, chatID, id string) error {
	_, err := l.db.ExecContext(ctx,
		"DELETE FROM messages WHERE chat_id = ? AND message_id = ?", chatID, id)
	if err != nil {
		return fmt.Errorf("delete message %s/%s: %w", chatID, id, err)
	}
	return nil
}

// PruneBefore deletes every message older than cutoff and returns how many rows went away.
func (l *MessageLog) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM messages WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored messages for a chat.
func (l *MessageLog) Count(ctx context.Context, chatID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
