// Package protocol defines the closed record shapes exchanged with the chat
// service and the tagged-union frames of its push channel. All shape
// tolerance (duck-typed timestamps, alternate field names) is absorbed here,
// at the ingestion boundary; the rest of the client never branches on wire
// representation.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// User carries the denormalized sender display fields attached to messages
// and participant sets.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Message is an immutable message record. IDs are assigned by the remote
// service and are globally unique within the client's working set.
type Message struct {
	ID        int64
	ChatID    int64
	SenderID  int64
	Sender    User
	Content   string
	FileURL   string
	FileType  string
	FileName  string
	CreatedAt time.Time
}

// HasAttachment reports whether the message carries an attachment descriptor.
func (m *Message) HasAttachment() bool {
	return m.FileURL != ""
}

// wireMessage tolerates the loose payloads the service emits: the creation
// time arrives as either "created_at" or "timestamp", as RFC3339 or unix
// milliseconds, and the sender may be id-only.
type wireMessage struct {
	ID        int64    `json:"id"`
	ChatID    int64    `json:"chat_id"`
	SenderID  int64    `json:"sender_id"`
	Sender    User     `json:"sender"`
	Content   string   `json:"content"`
	FileURL   string   `json:"file_url"`
	FileType  string   `json:"filetype"`
	FileName  string   `json:"filename"`
	CreatedAt wireTime `json:"created_at"`
	Timestamp wireTime `json:"timestamp"`
}

// UnmarshalJSON parses a message from its wire form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts := time.Time(w.CreatedAt)
	if ts.IsZero() {
		ts = time.Time(w.Timestamp)
	}
	senderID := w.SenderID
	if senderID == 0 {
		senderID = w.Sender.ID
	}
	*m = Message{
		ID:        w.ID,
		ChatID:    w.ChatID,
		SenderID:  senderID,
		Sender:    w.Sender,
		Content:   w.Content,
		FileURL:   w.FileURL,
		FileType:  w.FileType,
		FileName:  w.FileName,
		CreatedAt: ts,
	}
	return nil
}

// MarshalJSON emits the canonical wire form (created_at, RFC3339).
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Sender:    m.Sender,
		Content:   m.Content,
		FileURL:   m.FileURL,
		FileType:  m.FileType,
		FileName:  m.FileName,
		CreatedAt: wireTime(m.CreatedAt),
	})
}

// ChatSummary is one entry of the chat list. Owned by the chat-list
// reconciler; the UI never mutates it directly.
type ChatSummary struct {
	ID              int64
	Name            string
	IsGroup         bool
	Participants    []User
	LastMessage     string
	LastMessageTime time.Time
	UnreadCount     int
	PinnedMessage   string
}

type wireChat struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	IsGroup         bool     `json:"is_group"`
	Participants    []User   `json:"participants"`
	LastMessage     string   `json:"last_message"`
	LastMessageTime wireTime `json:"last_message_time"`
	UnreadCount     int      `json:"unread_count"`
	PinnedMessage   string   `json:"pinned_message"`
}

// UnmarshalJSON parses a chat summary from its wire form.
func (c *ChatSummary) UnmarshalJSON(data []byte) error {
	var w wireChat
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = ChatSummary{
		ID:              w.ID,
		Name:            w.Name,
		IsGroup:         w.IsGroup,
		Participants:    w.Participants,
		LastMessage:     w.LastMessage,
		LastMessageTime: time.Time(w.LastMessageTime),
		UnreadCount:     w.UnreadCount,
		PinnedMessage:   w.PinnedMessage,
	}
	return nil
}

// MarshalJSON emits the canonical wire form.
func (c ChatSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireChat{
		ID:              c.ID,
		Name:            c.Name,
		IsGroup:         c.IsGroup,
		Participants:    c.Participants,
		LastMessage:     c.LastMessage,
		LastMessageTime: wireTime(c.LastMessageTime),
		UnreadCount:     c.UnreadCount,
		PinnedMessage:   c.PinnedMessage,
	})
}

// runWindow is the gap within which consecutive messages from one sender
// form a single visual run.
const runWindow = 5 * time.Minute

// SameRun reports whether next continues prev's visual run: same sender and
// at most five minutes apart. It is a pure function of two adjacent records
// and must be recomputed on render, never stored.
func SameRun(prev, next *Message) bool {
	if prev == nil || next == nil {
		return false
	}
	if prev.SenderID != next.SenderID {
		return false
	}
	gap := next.CreatedAt.Sub(prev.CreatedAt)
	return gap >= 0 && gap <= runWindow
}

// wireTime accepts RFC3339 strings (with or without zone) and unix
// second/millisecond numbers. Zero value means "absent".
type wireTime time.Time

func (t *wireTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*t = wireTime{}
		return nil
	}
	if s[0] == '"' {
		raw, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				*t = wireTime(parsed)
				return nil
			}
		}
		return fmt.Errorf("timestamp: unrecognized format %q", raw)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	// Values this large can only be unix milliseconds.
	if n > 1e12 {
		*t = wireTime(time.UnixMilli(int64(n)))
	} else {
		*t = wireTime(time.Unix(int64(n), 0))
	}
	return nil
}

func (t wireTime) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(tt.UTC().Format(time.RFC3339Nano))
}
