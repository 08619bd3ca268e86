package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/protocol"
)

// ErrEmptyContent rejects a send whose text is blank after trimming.
var ErrEmptyContent = errors.New("message content is empty")

// SendMessage transmits a user-authored text message. There is no optimistic
// local insertion: the content enters the buffer only when the push echo
// arrives, which doubles as the send confirmation. Returns
// transport.ErrNotConnected unless the connection is Open at the moment of
// the write.
func (e *Engine) SendMessage(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyContent
	}
	return e.tr.Send(ctx, protocol.EncodeSend(chatID, text))
}

// CreateChat creates a chat over REST and applies the returned summary
// immediately. The chats_update broadcast that follows lands as an
// idempotent upsert.
func (e *Engine) CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []int64) (*protocol.ChatSummary, error) {
	c, err := e.api.CreateChat(ctx, name, isGroup, participantIDs)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	e.post(func() { e.adoptChat(c) })
	return c, nil
}

// OpenDirectChat creates, or fetches the existing, one-to-one chat with the
// given user and applies it locally.
func (e *Engine) OpenDirectChat(ctx context.Context, userID int64) (*protocol.ChatSummary, error) {
	c, err := e.api.CreateDirectChat(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("open direct chat: %w", err)
	}
	e.post(func() { e.adoptChat(c) })
	return c, nil
}

// AddParticipant adds a user to a group chat. The membership change arrives
// back as a chat_update broadcast; nothing is mutated locally.
func (e *Engine) AddParticipant(ctx context.Context, chatID, userID int64) error {
	if err := e.api.AddParticipant(ctx, chatID, userID); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// DeleteChat deletes a chat over REST and removes it locally without waiting
// for the broadcast. The sticky-delete mark absorbs any stale update racing
// the removal.
func (e *Engine) DeleteChat(ctx context.Context, chatID int64) error {
	if err := e.api.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	e.post(func() { e.removeChat(chatID) })
	return nil
}

// adoptChat runs on the loop. A summary the server returned for a command
// the local user issued outranks sticky state; absent chats enter at the
// front and get joined.
func (e *Engine) adoptChat(c *protocol.ChatSummary) {
	e.chats.undelete(c.ID)
	if existing := e.chats.get(c.ID); existing != nil {
		*existing = *c
		e.mirrorChat(existing)
	} else {
		e.chats.insertFront(c)
		e.joinChat(c.ID)
		e.mirrorChat(c)
	}
	e.bus.Emit(bus.ChatsChanged, nil)
}

// SendAttachment uploads a file over REST and appends the returned message
// locally for immediate feedback. The push echo that may follow carries the
// same id and collapses into the local copy.
func (e *Engine) SendAttachment(ctx context.Context, chatID int64, filename string, r io.Reader) (*protocol.Message, error) {
	msg, err := e.api.UploadAttachment(ctx, chatID, filename, r)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	e.post(func() { e.appendLocalOrigin(msg) })
	return msg, nil
}
