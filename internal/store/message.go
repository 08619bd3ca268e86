package store

import (
	"fmt"
	"time"
)

// InsertMessage records a message in the mirror. The first write for a given
// id wins; later writes with the same id are ignored.
func (db *DB) InsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT OR IGNORE INTO messages (id, chat_id, sender_id, sender_name, content, file_url, file_type, file_name, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.SenderID, m.SenderName, m.Content, m.FileURL, m.FileType, m.FileName, m.CreatedAt, now)
	return err
}

// ReplaceMessages swaps a chat's mirrored history for a fresh snapshot.
func (db *DB) ReplaceMessages(chatID int64, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i := range msgs {
		m := &msgs[i]
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO messages (id, chat_id, sender_id, sender_name, content, file_url, file_type, file_name, created_at, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, chatID, m.SenderID, m.SenderName, m.Content, m.FileURL, m.FileType, m.FileName, m.CreatedAt, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns a chat's mirrored history oldest first, using keyset
// pagination by created_at.
func (db *DB) ListMessages(chatID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, sender_id, sender_name, content, file_url, file_type, file_name, created_at
		FROM (
			SELECT id, chat_id, sender_id, sender_name, content, file_url, file_type, file_name, created_at
			FROM messages
			WHERE chat_id = ? AND created_at < ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.Content, &m.FileURL, &m.FileType, &m.FileName, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
