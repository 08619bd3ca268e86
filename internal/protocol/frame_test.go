package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeMessageFrame(t *testing.T) {
	data := []byte(`{
		"type": "message",
		"message": {
			"id": 100, "chat_id": 1, "sender_id": 7,
			"sender": {"id": 7, "username": "alice"},
			"content": "hi",
			"created_at": "2025-01-15T12:00:00Z"
		}
	}`)

	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameMessage {
		t.Fatalf("type = %q, want message", f.Type)
	}
	m := f.Message
	if m.ID != 100 || m.ChatID != 1 || m.SenderID != 7 {
		t.Errorf("ids = (%d,%d,%d), want (100,1,7)", m.ID, m.ChatID, m.SenderID)
	}
	if m.Sender.Username != "alice" {
		t.Errorf("sender username = %q, want alice", m.Sender.Username)
	}
	want := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	if !m.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", m.CreatedAt, want)
	}
}

func TestDecodeMessageFrameTimestampVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", `"2025-01-15T12:00:00Z"`, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"rfc3339 no zone", `"2025-01-15T12:00:00"`, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"unix seconds", `1736942400`, time.Unix(1736942400, 0)},
		{"unix millis", `1736942400000`, time.UnixMilli(1736942400000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{"type":"message","message":{"id":1,"chat_id":1,"created_at":` + tt.raw + `}}`)
			f, err := DecodeFrame(data)
			if err != nil {
				t.Fatal(err)
			}
			if !f.Message.CreatedAt.Equal(tt.want) {
				t.Errorf("created_at = %v, want %v", f.Message.CreatedAt, tt.want)
			}
		})
	}
}

func TestDecodeMessageFrameTimestampFallback(t *testing.T) {
	// Some payloads carry "timestamp" instead of "created_at".
	data := []byte(`{"type":"message","message":{"id":1,"chat_id":1,"timestamp":"2025-01-15T09:30:00Z"}}`)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	if !f.Message.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", f.Message.CreatedAt, want)
	}
}

func TestDecodeMessageFrameSenderIDFromSender(t *testing.T) {
	// sender_id may be absent when the sender object is present.
	data := []byte(`{"type":"message","message":{"id":1,"chat_id":1,"sender":{"id":9,"username":"bob"}}}`)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Message.SenderID != 9 {
		t.Errorf("sender id = %d, want 9", f.Message.SenderID)
	}
}

func TestDecodeChatUpdateFrame(t *testing.T) {
	data := []byte(`{
		"type": "chat_update",
		"update_type": "message_update",
		"chat": {
			"id": 3, "name": "team", "is_group": true,
			"participants": [{"id":1,"username":"alice"},{"id":2,"username":"bob"}],
			"last_message": "see you", "last_message_time": "2025-01-15T12:00:00Z",
			"unread_count": 2
		}
	}`)

	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameChatUpdate || f.UpdateType != UpdateMessage {
		t.Fatalf("type = %q/%q, want chat_update/message_update", f.Type, f.UpdateType)
	}
	c := f.Chat
	if c.ID != 3 || !c.IsGroup || c.UnreadCount != 2 {
		t.Errorf("chat = %+v", c)
	}
	if len(c.Participants) != 2 || c.Participants[1].Username != "bob" {
		t.Errorf("participants = %+v", c.Participants)
	}
}

func TestDecodeParticipantUpdateFrame(t *testing.T) {
	data := []byte(`{
		"type": "chat_update",
		"update_type": "participant_update",
		"chat": {
			"id": 3, "name": "team", "is_group": true,
			"participants": [{"id":1,"username":"alice"},{"id":4,"username":"dana"}]
		}
	}`)

	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameChatUpdate || f.UpdateType != UpdateParticipant {
		t.Fatalf("type = %q/%q, want chat_update/participant_update", f.Type, f.UpdateType)
	}
	if len(f.Chat.Participants) != 2 || f.Chat.Participants[1].Username != "dana" {
		t.Errorf("participants = %+v", f.Chat.Participants)
	}
}

func TestDecodeChatUpdateUnknownUpdateType(t *testing.T) {
	data := []byte(`{"type":"chat_update","update_type":"presence_update","chat":{"id":3}}`)
	if _, err := DecodeFrame(data); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("err = %v, want ErrUnknownFrame", err)
	}
}

func TestDecodeChatsUpdateUpsert(t *testing.T) {
	data := []byte(`{"type":"chats_update","chat":{"id":5,"name":"new chat"}}`)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Deleted || f.Chat == nil || f.Chat.ID != 5 {
		t.Errorf("frame = %+v", f)
	}
}

func TestDecodeChatsUpdateDeletion(t *testing.T) {
	data := []byte(`{"type":"chats_update","chat":{"id":5,"deleted":true}}`)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Deleted || f.DeletedID != 5 {
		t.Errorf("frame = %+v, want deletion of id 5", f)
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	data := []byte(`{"type":"error","message":"Not authorized to send messages to this chat"}`)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameError || f.ErrorText == "" {
		t.Errorf("frame = %+v, want error with text", f)
	}
}

func TestDecodeUnknownFrameType(t *testing.T) {
	data := []byte(`{"type":"typing","chat_id":1}`)
	if _, err := DecodeFrame(data); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("err = %v, want ErrUnknownFrame", err)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"type":"message","message":`)); err == nil {
		t.Error("malformed frame should fail to decode")
	}
}

func TestEncodeJoin(t *testing.T) {
	var got map[string]any
	if err := json.Unmarshal(EncodeJoin(42), &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "join_chat" || got["chat_id"] != float64(42) {
		t.Errorf("join frame = %v", got)
	}
	if _, ok := got["content"]; ok {
		t.Error("join frame should not carry content")
	}
}

func TestEncodeSend(t *testing.T) {
	var got map[string]any
	if err := json.Unmarshal(EncodeSend(1, "hello"), &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "message" || got["chat_id"] != float64(1) || got["content"] != "hello" {
		t.Errorf("send frame = %v", got)
	}
}

func TestSameRun(t *testing.T) {
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	msg := func(sender int64, at time.Time) *Message {
		return &Message{SenderID: sender, CreatedAt: at}
	}

	tests := []struct {
		name string
		prev *Message
		next *Message
		want bool
	}{
		{"nil prev", nil, msg(1, base), false},
		{"same sender close together", msg(1, base), msg(1, base.Add(time.Minute)), true},
		{"same sender exactly 5m", msg(1, base), msg(1, base.Add(5 * time.Minute)), true},
		{"same sender beyond window", msg(1, base), msg(1, base.Add(5*time.Minute + time.Second)), false},
		{"different sender", msg(1, base), msg(2, base.Add(time.Second)), false},
		{"out of order", msg(1, base), msg(1, base.Add(-time.Second)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameRun(tt.prev, tt.next); got != tt.want {
				t.Errorf("SameRun() = %v, want %v", got, tt.want)
			}
		})
	}
}
