// Package engine is the client-side synchronization core: it merges push
// events from the transport with pull-fetched snapshots from the REST API
// into one consistent view of the chat list and the open conversation.
//
// All mutation happens on a single loop goroutine. Inbound frames, user
// commands, and async fetch completions are serialized through that loop, so
// reconciliation needs no locking, only staleness checks: frames from a
// superseded connection generation and fetch results for a superseded
// selection are discarded.
package engine

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/protocol"
	"github.com/chatterd/chatterd/internal/store"
	"github.com/chatterd/chatterd/internal/transport"
)

// Transport is the push-channel surface the engine consumes. Connection
// state is not part of it: Send performs its own liveness check and returns
// transport.ErrNotConnected, which is the only signal the engine acts on.
type Transport interface {
	Frames() <-chan transport.Inbound
	Generation() uint64
	Send(ctx context.Context, data []byte) error
}

// API is the REST collaborator the engine fetches snapshots from and issues
// chat-management commands through.
type API interface {
	ListChats(ctx context.Context) ([]protocol.ChatSummary, error)
	ListMessages(ctx context.Context, chatID int64) ([]protocol.Message, error)
	CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []int64) (*protocol.ChatSummary, error)
	CreateDirectChat(ctx context.Context, userID int64) (*protocol.ChatSummary, error)
	AddParticipant(ctx context.Context, chatID, userID int64) error
	DeleteChat(ctx context.Context, chatID int64) error
	UploadAttachment(ctx context.Context, chatID int64, filename string, r io.Reader) (*protocol.Message, error)
}

// Engine owns the chat list and the open conversation's message buffer.
type Engine struct {
	userID int64
	tr     Transport
	api    API
	db     *store.DB // optional offline mirror
	bus    *bus.Bus
	logger *zap.Logger

	cmds        chan func()
	resyncRetry time.Duration
	ctx         context.Context
	cancel      context.CancelFunc

	// Loop-owned state. Only the loop goroutine touches these.
	chats     *chatList
	msgs      *messageBuffer
	selected  int64  // open conversation id, 0 when none
	epoch     uint64 // bumped on every selection change; stale fetches carry the old value
	resyncing bool
	parked    []*protocol.Message // messages awaiting a chat-list resync
}

// NewEngine wires the engine to its collaborators. db may be nil to run
// without an offline mirror.
func NewEngine(userID int64, tr Transport, api API, db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		userID:      userID,
		tr:          tr,
		api:         api,
		db:          db,
		bus:         b,
		logger:      logger,
		cmds:        make(chan func(), 64),
		resyncRetry: 5 * time.Second,
		chats:       newChatList(),
		msgs:        newMessageBuffer(),
	}
}

// Start launches the loop goroutine. The mirror, if present, seeds the chat
// list before the first frame or fetch so a restart shows data immediately.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.loop(e.ctx)
}

// Stop stops the loop. In-flight fetches are cancelled via context.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) loop(ctx context.Context) {
	connCh, unsub := e.bus.Subscribe("conn.", 64)
	defer unsub()

	e.warmStart()

	for {
		select {
		case in := <-e.tr.Frames():
			e.handleFrame(in)
		case fn := <-e.cmds:
			fn()
		case evt := <-connCh:
			if evt.Kind == bus.ConnUp {
				// Subscriptions are connection-scoped; the server
				// retains nothing across reconnects.
				e.rejoinAll()
			}
		case <-ctx.Done():
			return
		}
	}
}

// post hands fn to the loop goroutine.
func (e *Engine) post(fn func()) {
	if e.ctx == nil {
		return
	}
	select {
	case e.cmds <- fn:
	case <-e.ctx.Done():
	}
}

func (e *Engine) warmStart() {
	if e.db == nil {
		return
	}
	rows, err := e.db.ListChats()
	if err != nil {
		e.logger.Warn("warm start failed", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	list := make([]protocol.ChatSummary, 0, len(rows))
	for i := range rows {
		list = append(list, rows[i].Summary())
	}
	e.chats.replaceAll(list)
	e.bus.Emit(bus.ChatsChanged, nil)
	e.logger.Info("warm start", zap.Int("chats", len(list)))
}

// Resync schedules a fresh chat-list fetch. Safe to call from any goroutine.
func (e *Engine) Resync() {
	e.post(e.startResync)
}

// startResync runs on the loop. Concurrent triggers collapse into one
// in-flight fetch; messages parked for unknown chats are re-applied against
// the fresh snapshot. A failed fetch keeps the parked messages and retries
// after a delay, so a transient error cannot lose them.
func (e *Engine) startResync() {
	if e.resyncing {
		return
	}
	e.resyncing = true
	e.bus.Emit(bus.ChatsResync, nil)
	go func() {
		chats, err := e.api.ListChats(e.ctx)
		e.post(func() {
			e.resyncing = false
			if err != nil {
				e.logger.Warn("chat list fetch failed, retrying",
					zap.Int("parked", len(e.parked)), zap.Error(err))
				time.AfterFunc(e.resyncRetry, func() { e.post(e.startResync) })
				return
			}
			parked := e.parked
			e.parked = nil
			e.applyFetchSnapshot(chats)
			for _, m := range parked {
				e.applyMessage(m, false)
			}
		})
	}()
}

// SelectChat opens a conversation: the previous buffer is discarded and
// reseeded from the mirror, the chat's unread counter zeroed, a join issued,
// and a fresh history fetch started.
// A fetch still in flight for the previous selection is ignored when it
// lands.
func (e *Engine) SelectChat(chatID int64) {
	e.post(func() {
		if !e.chats.contains(chatID) {
			e.logger.Warn("select of unknown chat", zap.Int64("chat_id", chatID))
			return
		}
		e.selected = chatID
		e.epoch++
		e.msgs.reset(chatID)
		e.warmHistory(chatID)
		if c := e.chats.get(chatID); c != nil {
			c.UnreadCount = 0
			e.mirrorChat(c)
		}
		e.joinChat(chatID)
		e.bus.Emit(bus.SelectionChanged, chatID)
		e.bus.Emit(bus.MessagesChanged, nil)
		e.bus.Emit(bus.ChatsChanged, nil)

		epoch := e.epoch
		go func() {
			msgs, err := e.api.ListMessages(e.ctx, chatID)
			e.post(func() {
				if epoch != e.epoch {
					e.logger.Debug("history fetch for superseded selection discarded",
						zap.Int64("chat_id", chatID))
					return
				}
				if err != nil {
					e.logger.Warn("history fetch failed",
						zap.Int64("chat_id", chatID), zap.Error(err))
					return
				}
				e.loadHistory(chatID, msgs)
			})
		}()
	})
}

// Deselect closes the open conversation.
func (e *Engine) Deselect() {
	e.post(func() {
		e.deselectLocked("deselected")
	})
}

// deselectLocked runs on the loop.
func (e *Engine) deselectLocked(reason string) {
	if e.selected == 0 {
		return
	}
	e.logger.Debug("selection cleared", zap.Int64("chat_id", e.selected), zap.String("reason", reason))
	e.selected = 0
	e.epoch++
	e.msgs.reset(0)
	e.bus.Emit(bus.SelectionChanged, int64(0))
	e.bus.Emit(bus.MessagesChanged, nil)
}

// Chats returns a copy of the chat list, most recent activity first.
func (e *Engine) Chats() []protocol.ChatSummary {
	if e.ctx == nil {
		return nil
	}
	reply := make(chan []protocol.ChatSummary, 1)
	e.post(func() { reply <- e.chats.snapshot() })
	select {
	case out := <-reply:
		return out
	case <-e.ctx.Done():
		return nil
	}
}

// Messages returns a copy of the open conversation's buffer, oldest first.
func (e *Engine) Messages() []protocol.Message {
	if e.ctx == nil {
		return nil
	}
	reply := make(chan []protocol.Message, 1)
	e.post(func() { reply <- e.msgs.snapshot() })
	select {
	case out := <-reply:
		return out
	case <-e.ctx.Done():
		return nil
	}
}

// Selected returns the open conversation id, 0 when none.
func (e *Engine) Selected() int64 {
	if e.ctx == nil {
		return 0
	}
	reply := make(chan int64, 1)
	e.post(func() { reply <- e.selected })
	select {
	case out := <-reply:
		return out
	case <-e.ctx.Done():
		return 0
	}
}
