package store

import (
	"fmt"
	"time"
)

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, name, is_group, unread_count, last_message_at, last_message_preview, participants, pinned_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			participants = excluded.participants,
			pinned_message = excluded.pinned_message,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.IsGroup, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, c.Participants, c.PinnedMessage, now)
	return err
}

// ReplaceChats swaps the whole mirrored chat list for a fresh snapshot.
// Chats absent from the snapshot are dropped, along with their messages.
func (db *DB) ReplaceChats(chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM chats`); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i := range chats {
		c := &chats[i]
		if _, err := tx.Exec(`
			INSERT INTO chats (id, name, is_group, unread_count, last_message_at, last_message_preview, participants, pinned_message, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.IsGroup, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, c.Participants, c.PinnedMessage, now); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id NOT IN (SELECT id FROM chats)`); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteChat removes a chat and its messages from the mirror.
func (db *DB) DeleteChat(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListChats returns mirrored chats sorted by last message timestamp descending.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT id, name, is_group, unread_count, last_message_at, last_message_preview, participants, pinned_message
		FROM chats
		ORDER BY last_message_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.Participants, &c.PinnedMessage); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}
