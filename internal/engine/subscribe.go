package engine

import (
	"errors"

	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/protocol"
	"github.com/chatterd/chatterd/internal/transport"
)

// Subscriptions are connection-scoped and at-least-once: the engine joins
// every known chat id plus the open conversation whenever the connection
// opens, the list grows, or the selection changes. Joins are idempotent on
// the server; duplicate delivery is absorbed by message dedup. No per-chat
// acknowledgment is tracked.

// rejoinAll runs on the loop goroutine.
func (e *Engine) rejoinAll() {
	ids := e.chats.ids()
	if e.selected != 0 && !e.chats.contains(e.selected) {
		ids = append(ids, e.selected)
	}
	for _, id := range ids {
		e.joinChat(id)
	}
	e.logger.Info("subscriptions issued", zap.Int("chats", len(ids)))
}

// joinChat issues one join command. Failing while disconnected is routine;
// the connection-open trigger re-issues everything.
func (e *Engine) joinChat(id int64) {
	if err := e.tr.Send(e.ctx, protocol.EncodeJoin(id)); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			return
		}
		e.logger.Warn("join failed", zap.Int64("chat_id", id), zap.Error(err))
	}
}
