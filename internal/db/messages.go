package db

import (
	"context"
	"database/sql"
	"fmt"
)

const messageCols = `id, session_id, msg_id, role, content, timestamp`

// Message represents a row in the messages table.
type Message struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	MsgID     string `json:"msg_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// GetMessages returns all messages for a session in chronological
// order. Messages without a timestamp sort first, in insertion order.
func (db *DB) GetMessages(
	ctx context.Context, sessionID string,
) ([]Message, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT `+messageCols+`
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// insertMessagesTx batch-inserts messages within an existing
// transaction.
func insertMessagesTx(tx *sql.Tx, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, msg_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			m.SessionID, m.MsgID, m.Role, m.Content, m.Timestamp,
		); err != nil {
			return fmt.Errorf("inserting message %s: %w", m.MsgID, err)
		}
	}
	return nil
}

// InsertMessages batch-inserts messages for a session.
func (db *DB) InsertMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return db.Update(func(tx *sql.Tx) error {
		return insertMessagesTx(tx, msgs)
	})
}

// DeleteSessionMessages removes all messages for a session.
func (db *DB) DeleteSessionMessages(sessionID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.Exec(
		"DELETE FROM messages WHERE session_id = ?", sessionID,
	)
	return err
}

// StoreSession upserts session metadata and replaces the session's
// messages in a single transaction. Readers never observe updated
// metadata alongside a stale transcript, or an empty one mid-replace.
func (db *DB) StoreSession(s Session, msgs []Message) error {
	return db.Update(func(tx *sql.Tx) error {
		if err := upsertSessionTx(tx, s); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"DELETE FROM messages WHERE session_id = ?", s.ID,
		); err != nil {
			return fmt.Errorf("deleting old messages: %w", err)
		}
		return insertMessagesTx(tx, msgs)
	})
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		err := rows.Scan(
			&m.ID, &m.SessionID, &m.MsgID,
			&m.Role, &m.Content, &m.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of messages for a session.
func (db *DB) MessageCount(sessionID string) (int, error) {
	var count int
	err := db.reader.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE session_id = ?",
		sessionID,
	).Scan(&count)
	return count, err
}
