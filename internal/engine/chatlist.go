package engine

import (
	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/protocol"
	"github.com/chatterd/chatterd/internal/store"
)

// chatList is the ordered working set of chat summaries, most recent
// activity first. Entries are unique by id. Deletions are sticky: once an id
// is observed deleted, later stale updates cannot resurrect it until a fresh
// fetch snapshot arrives.
type chatList struct {
	order   []int64
	byID    map[int64]*protocol.ChatSummary
	deleted map[int64]struct{}
}

func newChatList() *chatList {
	return &chatList{
		byID:    make(map[int64]*protocol.ChatSummary),
		deleted: make(map[int64]struct{}),
	}
}

func (l *chatList) contains(id int64) bool {
	_, ok := l.byID[id]
	return ok
}

func (l *chatList) get(id int64) *protocol.ChatSummary {
	return l.byID[id]
}

func (l *chatList) isDeleted(id int64) bool {
	_, ok := l.deleted[id]
	return ok
}

// replaceAll swaps the working set for a fresh authoritative snapshot and
// clears the sticky-delete set.
func (l *chatList) replaceAll(list []protocol.ChatSummary) {
	l.order = l.order[:0]
	l.byID = make(map[int64]*protocol.ChatSummary, len(list))
	l.deleted = make(map[int64]struct{})
	for i := range list {
		c := list[i]
		if _, ok := l.byID[c.ID]; ok {
			continue
		}
		l.order = append(l.order, c.ID)
		l.byID[c.ID] = &c
	}
}

func (l *chatList) insertFront(c *protocol.ChatSummary) {
	cp := *c
	l.byID[c.ID] = &cp
	l.order = append([]int64{c.ID}, l.order...)
}

func (l *chatList) moveToFront(id int64) {
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.order = append([]int64{id}, l.order...)
}

func (l *chatList) remove(id int64) {
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	delete(l.byID, id)
	l.deleted[id] = struct{}{}
}

// undelete clears a sticky mark. Only user-initiated creates use it: a chat
// the server just handed back over REST outranks an earlier observed delete.
func (l *chatList) undelete(id int64) {
	delete(l.deleted, id)
}

func (l *chatList) ids() []int64 {
	out := make([]int64, len(l.order))
	copy(out, l.order)
	return out
}

func (l *chatList) snapshot() []protocol.ChatSummary {
	out := make([]protocol.ChatSummary, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.byID[id])
	}
	return out
}

// applyFetchSnapshot replaces the working set wholesale with a fresh fetch
// result. If the open conversation vanished from the snapshot it is
// deselected and its buffer cleared.
func (e *Engine) applyFetchSnapshot(list []protocol.ChatSummary) {
	known := len(e.chats.byID)
	e.chats.replaceAll(list)
	if e.selected != 0 {
		if c := e.chats.get(e.selected); c != nil {
			c.UnreadCount = 0
		} else {
			e.deselectLocked("chat gone from snapshot")
		}
	}
	e.mirrorChats(list)
	e.bus.Emit(bus.ChatsChanged, nil)
	e.logger.Info("chat list snapshot applied",
		zap.Int("chats", len(list)), zap.Int("previously_known", known))

	// The snapshot may contain chats we had never joined.
	e.rejoinAll()
}

// applyMessageUpdate upserts a summary by id and moves it to the front. This
// is how an inbound message refreshes its chat's preview and ordering without
// a separate fetch.
func (e *Engine) applyMessageUpdate(c *protocol.ChatSummary) {
	if e.chats.isDeleted(c.ID) {
		e.logger.Debug("update for deleted chat ignored", zap.Int64("chat_id", c.ID))
		return
	}
	grew := !e.chats.contains(c.ID)
	cp := *c
	if cp.ID == e.selected {
		cp.UnreadCount = 0
	}
	if grew {
		e.chats.insertFront(&cp)
		e.joinChat(cp.ID)
	} else {
		*e.chats.get(cp.ID) = cp
		e.chats.moveToFront(cp.ID)
	}
	e.mirrorChat(&cp)
	e.bus.Emit(bus.ChatsChanged, nil)
}

// applyParticipantUpdate refreshes membership fields in place without
// changing ordering.
func (e *Engine) applyParticipantUpdate(c *protocol.ChatSummary) {
	if e.chats.isDeleted(c.ID) {
		return
	}
	existing := e.chats.get(c.ID)
	if existing == nil {
		cp := *c
		e.chats.insertFront(&cp)
		e.joinChat(cp.ID)
		e.mirrorChat(&cp)
		e.bus.Emit(bus.ChatsChanged, nil)
		return
	}
	existing.Participants = c.Participants
	if c.Name != "" {
		existing.Name = c.Name
	}
	e.mirrorChat(existing)
	e.bus.Emit(bus.ChatsChanged, nil)
}

// applyChatsUpdate upserts by id, or removes when the deletion flag is set.
// Upserts do not change ordering; new chats enter at the front.
func (e *Engine) applyChatsUpdate(frame *protocol.Frame) {
	if frame.Deleted {
		e.removeChat(frame.DeletedID)
		return
	}
	c := frame.Chat
	if e.chats.isDeleted(c.ID) {
		e.logger.Debug("stale update for deleted chat ignored", zap.Int64("chat_id", c.ID))
		return
	}
	cp := *c
	if cp.ID == e.selected {
		cp.UnreadCount = 0
	}
	if existing := e.chats.get(cp.ID); existing != nil {
		*existing = cp
	} else {
		e.chats.insertFront(&cp)
		e.joinChat(cp.ID)
	}
	e.mirrorChat(&cp)
	e.bus.Emit(bus.ChatsChanged, nil)
}

// removeChat drops a chat from the working set and marks the deletion
// sticky. Removing the open conversation also clears its buffer and
// deselects.
func (e *Engine) removeChat(id int64) {
	e.chats.remove(id)
	if id == e.selected {
		e.deselectLocked("open chat deleted")
	}
	e.mirrorRemoveChat(id)
	e.bus.Emit(bus.ChatsChanged, nil)
	e.logger.Info("chat removed", zap.Int64("chat_id", id))
}

// touchFromMessage refreshes a known chat's preview and recency from an
// inbound message, bumping the unread counter unless the chat is open or the
// message is the user's own echo.
func (e *Engine) touchFromMessage(m *protocol.Message) {
	c := e.chats.get(m.ChatID)
	if c == nil {
		return
	}
	c.LastMessage = preview(m)
	c.LastMessageTime = m.CreatedAt
	if m.ChatID != e.selected && m.SenderID != e.userID {
		c.UnreadCount++
	}
	e.chats.moveToFront(m.ChatID)
	e.mirrorChat(c)
	e.bus.Emit(bus.ChatsChanged, nil)
}

func preview(m *protocol.Message) string {
	if m.Content != "" {
		return m.Content
	}
	return m.FileName
}

// Mirror write-through. The mirror is best effort; a write failure degrades
// the next warm start, not the live view.

func (e *Engine) mirrorChat(c *protocol.ChatSummary) {
	if e.db == nil {
		return
	}
	if err := e.db.UpsertChat(store.ChatFromSummary(c)); err != nil {
		e.logger.Warn("mirror chat upsert failed", zap.Int64("chat_id", c.ID), zap.Error(err))
	}
}

func (e *Engine) mirrorChats(list []protocol.ChatSummary) {
	if e.db == nil {
		return
	}
	rows := make([]store.Chat, 0, len(list))
	for i := range list {
		rows = append(rows, *store.ChatFromSummary(&list[i]))
	}
	if err := e.db.ReplaceChats(rows); err != nil {
		e.logger.Warn("mirror chat snapshot failed", zap.Error(err))
	}
}

func (e *Engine) mirrorRemoveChat(id int64) {
	if e.db == nil {
		return
	}
	if err := e.db.DeleteChat(id); err != nil {
		e.logger.Warn("mirror chat delete failed", zap.Int64("chat_id", id), zap.Error(err))
	}
}
