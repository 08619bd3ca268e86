package engine

import (
	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/protocol"
	"github.com/chatterd/chatterd/internal/store"
)

// messageBuffer is the ordered, deduplicated message sequence of the open
// conversation. Message ids are globally unique in the working set; the
// first accepted version of an id wins, later copies from any source (push
// delivery, upload response, replay on reconnect) are absorbed silently.
type messageBuffer struct {
	chatID int64
	order  []protocol.Message
	seen   map[int64]struct{}
}

func newMessageBuffer() *messageBuffer {
	return &messageBuffer{seen: make(map[int64]struct{})}
}

// reset discards the buffer and rebinds it to a newly selected chat.
// chatID 0 means no selection.
func (b *messageBuffer) reset(chatID int64) {
	b.chatID = chatID
	b.order = b.order[:0]
	b.seen = make(map[int64]struct{})
}

// load replaces the buffer with a history snapshot for the bound chat.
func (b *messageBuffer) load(msgs []protocol.Message) {
	b.order = b.order[:0]
	b.seen = make(map[int64]struct{}, len(msgs))
	for i := range msgs {
		b.append(&msgs[i])
	}
}

// append inserts a message in timestamp order. It reports false when the
// message belongs to another chat or its id was already accepted.
func (b *messageBuffer) append(m *protocol.Message) bool {
	if b.chatID == 0 || m.ChatID != b.chatID {
		return false
	}
	if _, dup := b.seen[m.ID]; dup {
		return false
	}
	b.seen[m.ID] = struct{}{}

	// Messages almost always arrive in order; walk back from the end for
	// the rare out-of-order delivery.
	i := len(b.order)
	for i > 0 {
		prev := &b.order[i-1]
		if prev.CreatedAt.Before(m.CreatedAt) ||
			(prev.CreatedAt.Equal(m.CreatedAt) && prev.ID < m.ID) {
			break
		}
		i--
	}
	b.order = append(b.order, protocol.Message{})
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = *m
	return true
}

func (b *messageBuffer) snapshot() []protocol.Message {
	out := make([]protocol.Message, len(b.order))
	copy(out, b.order)
	return out
}

// loadHistory installs a fetched history snapshot for the open conversation.
func (e *Engine) loadHistory(chatID int64, msgs []protocol.Message) {
	e.msgs.load(msgs)
	e.mirrorHistory(chatID, msgs)
	e.bus.Emit(bus.MessagesChanged, nil)
	e.logger.Info("history loaded", zap.Int64("chat_id", chatID), zap.Int("messages", len(msgs)))
}

// warmHistory seeds a newly selected conversation's buffer from the mirror
// so cached history shows while the fresh fetch is in flight. The fetch
// replaces the buffer when it lands; a push frame arriving in between is
// deduplicated against the seeded ids.
func (e *Engine) warmHistory(chatID int64) {
	if e.db == nil {
		return
	}
	rows, err := e.db.ListMessages(chatID, 0, 0)
	if err != nil {
		e.logger.Warn("cached history read failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	for i := range rows {
		m := rows[i].Protocol()
		e.msgs.append(&m)
	}
	if len(rows) > 0 {
		e.logger.Debug("cached history seeded", zap.Int64("chat_id", chatID), zap.Int("messages", len(rows)))
	}
}

// appendIncoming adds a push-delivered message to the open conversation's
// buffer. Duplicates are absorbed.
func (e *Engine) appendIncoming(m *protocol.Message) bool {
	if !e.msgs.append(m) {
		return false
	}
	e.bus.Emit(bus.MessagesAppended, m)
	return true
}

// appendLocalOrigin inserts an upload response message immediately, before
// any push echo arrives. The later echo carries the same id and is absorbed
// by the dedup rule instead of producing a second entry.
func (e *Engine) appendLocalOrigin(m *protocol.Message) {
	if m.ChatID == e.selected && e.msgs.append(m) {
		e.bus.Emit(bus.MessagesAppended, m)
	}
	e.touchFromMessage(m)
	e.mirrorMessage(m)
}

func (e *Engine) mirrorMessage(m *protocol.Message) {
	if e.db == nil {
		return
	}
	if err := e.db.InsertMessage(store.MessageFromProtocol(m)); err != nil {
		e.logger.Warn("mirror message insert failed", zap.Int64("msg_id", m.ID), zap.Error(err))
	}
}

func (e *Engine) mirrorHistory(chatID int64, msgs []protocol.Message) {
	if e.db == nil {
		return
	}
	rows := make([]store.Message, 0, len(msgs))
	for i := range msgs {
		rows = append(rows, *store.MessageFromProtocol(&msgs[i]))
	}
	if err := e.db.ReplaceMessages(chatID, rows); err != nil {
		e.logger.Warn("mirror history replace failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
