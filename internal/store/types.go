package store

import (
	"encoding/json"
	"time"

	"github.com/chatterd/chatterd/internal/protocol"
)

// Chat is a mirrored chat row. Timestamps are unix millis; participants are
// stored as a JSON array of users.
type Chat struct {
	ID                 int64
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
	Participants       string
	PinnedMessage      string
}

// Message is a mirrored message row. The id is the server-assigned message id.
type Message struct {
	ID         int64
	ChatID     int64
	SenderID   int64
	SenderName string
	Content    string
	FileURL    string
	FileType   string
	FileName   string
	CreatedAt  int64
}

// ChatFromSummary converts a wire chat summary into a mirror row.
func ChatFromSummary(c *protocol.ChatSummary) *Chat {
	parts, err := json.Marshal(c.Participants)
	if err != nil {
		parts = []byte("[]")
	}
	row := &Chat{
		ID:                 c.ID,
		Name:               c.Name,
		IsGroup:            c.IsGroup,
		UnreadCount:        c.UnreadCount,
		LastMessagePreview: c.LastMessage,
		Participants:       string(parts),
		PinnedMessage:      c.PinnedMessage,
	}
	if !c.LastMessageTime.IsZero() {
		row.LastMessageAt = c.LastMessageTime.UnixMilli()
	}
	return row
}

// Summary converts the mirror row back into the wire shape.
func (c *Chat) Summary() protocol.ChatSummary {
	s := protocol.ChatSummary{
		ID:            c.ID,
		Name:          c.Name,
		IsGroup:       c.IsGroup,
		UnreadCount:   c.UnreadCount,
		LastMessage:   c.LastMessagePreview,
		PinnedMessage: c.PinnedMessage,
	}
	if c.LastMessageAt > 0 {
		s.LastMessageTime = time.UnixMilli(c.LastMessageAt).UTC()
	}
	if err := json.Unmarshal([]byte(c.Participants), &s.Participants); err != nil {
		s.Participants = nil
	}
	return s
}

// MessageFromProtocol converts a wire message into a mirror row.
func MessageFromProtocol(m *protocol.Message) *Message {
	return &Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderName: m.Sender.Username,
		Content:    m.Content,
		FileURL:    m.FileURL,
		FileType:   m.FileType,
		FileName:   m.FileName,
		CreatedAt:  m.CreatedAt.UnixMilli(),
	}
}

// Protocol converts the mirror row back into the wire shape.
func (m *Message) Protocol() protocol.Message {
	return protocol.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Sender:    protocol.User{ID: m.SenderID, Username: m.SenderName},
		Content:   m.Content,
		FileURL:   m.FileURL,
		FileType:  m.FileType,
		FileName:  m.FileName,
		CreatedAt: time.UnixMilli(m.CreatedAt).UTC(),
	}
}
