package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType tags an inbound push-channel frame.
type FrameType string

// The closed inbound tag set. Anything else is a protocol error: logged and
// dropped by the router, never fatal.
const (
	FrameMessage     FrameType = "message"
	FrameChatUpdate  FrameType = "chat_update"
	FrameChatsUpdate FrameType = "chats_update"
	FrameError       FrameType = "error"
)

// UpdateType qualifies a chat_update frame.
type UpdateType string

const (
	UpdateMessage     UpdateType = "message_update"
	UpdateParticipant UpdateType = "participant_update"
)

// Frame is a decoded inbound push-channel frame.
type Frame struct {
	Type       FrameType
	Message    *Message    // FrameMessage
	UpdateType UpdateType  // FrameChatUpdate
	Chat       *ChatSummary // FrameChatUpdate, FrameChatsUpdate (non-delete)
	DeletedID  int64       // FrameChatsUpdate with deleted:true
	Deleted    bool
	ErrorText  string // FrameError
}

// ErrUnknownFrame is wrapped into decode errors for unrecognized tags so the
// router can distinguish "unknown type" from "malformed payload".
var ErrUnknownFrame = fmt.Errorf("unknown frame type")

type frameEnvelope struct {
	Type       FrameType       `json:"type"`
	Message    json.RawMessage `json:"message"` // object for message frames, string for error frames
	UpdateType UpdateType      `json:"update_type"`
	Chat       json.RawMessage `json:"chat"`
}

// DecodeFrame parses one push-channel frame. Malformed or unknown frames
// return an error; callers log and drop, they do not close the connection.
func DecodeFrame(data []byte) (*Frame, error) {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case FrameMessage:
		var m Message
		if err := json.Unmarshal(env.Message, &m); err != nil {
			return nil, fmt.Errorf("decode message frame: %w", err)
		}
		if m.ID == 0 || m.ChatID == 0 {
			return nil, fmt.Errorf("message frame missing id or chat_id")
		}
		return &Frame{Type: FrameMessage, Message: &m}, nil

	case FrameChatUpdate:
		if env.UpdateType != UpdateMessage && env.UpdateType != UpdateParticipant {
			return nil, fmt.Errorf("chat_update with update_type %q: %w", env.UpdateType, ErrUnknownFrame)
		}
		c, err := decodeChat(env.Chat)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: FrameChatUpdate, UpdateType: env.UpdateType, Chat: c}, nil

	case FrameChatsUpdate:
		// The chat payload is either a full summary or {id, deleted:true}.
		var probe struct {
			ID      int64 `json:"id"`
			Deleted bool  `json:"deleted"`
		}
		if err := json.Unmarshal(env.Chat, &probe); err != nil {
			return nil, fmt.Errorf("decode chats_update frame: %w", err)
		}
		if probe.Deleted {
			if probe.ID == 0 {
				return nil, fmt.Errorf("chats_update deletion missing id")
			}
			return &Frame{Type: FrameChatsUpdate, Deleted: true, DeletedID: probe.ID}, nil
		}
		c, err := decodeChat(env.Chat)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: FrameChatsUpdate, Chat: c}, nil

	case FrameError:
		// Error frames carry their text in the "message" field as a string.
		var text string
		if len(env.Message) > 0 {
			_ = json.Unmarshal(env.Message, &text)
		}
		return &Frame{Type: FrameError, ErrorText: text}, nil

	default:
		return nil, fmt.Errorf("frame type %q: %w", env.Type, ErrUnknownFrame)
	}
}

func decodeChat(raw json.RawMessage) (*ChatSummary, error) {
	var c ChatSummary
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode chat payload: %w", err)
	}
	if c.ID == 0 {
		return nil, fmt.Errorf("chat payload missing id")
	}
	return &c, nil
}

type outboundFrame struct {
	Type    string `json:"type"`
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content,omitempty"`
}

// EncodeJoin builds a join_chat command frame.
func EncodeJoin(chatID int64) []byte {
	b, _ := json.Marshal(outboundFrame{Type: "join_chat", ChatID: chatID})
	return b
}

// EncodeSend builds an outbound message frame.
func EncodeSend(chatID int64, content string) []byte {
	b, _ := json.Marshal(outboundFrame{Type: "message", ChatID: chatID, Content: content})
	return b
}
