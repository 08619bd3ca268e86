package engine

import (
	"errors"

	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/protocol"
	"github.com/chatterd/chatterd/internal/transport"
)

// handleFrame classifies one inbound frame and dispatches it to the right
// reconciler. Frames are handled strictly in arrival order on the loop
// goroutine; nothing here is fatal to the connection.
func (e *Engine) handleFrame(in transport.Inbound) {
	if in.Gen != e.tr.Generation() {
		e.logger.Debug("frame from superseded connection dropped",
			zap.Uint64("frame_gen", in.Gen), zap.Uint64("current_gen", e.tr.Generation()))
		return
	}

	frame, err := protocol.DecodeFrame(in.Data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownFrame) {
			e.logger.Warn("unknown frame type dropped", zap.Error(err))
		} else {
			e.logger.Warn("malformed frame dropped", zap.Error(err))
		}
		return
	}

	switch frame.Type {
	case protocol.FrameMessage:
		e.applyMessage(frame.Message, true)

	case protocol.FrameChatUpdate:
		switch frame.UpdateType {
		case protocol.UpdateMessage:
			e.applyMessageUpdate(frame.Chat)
		case protocol.UpdateParticipant:
			e.applyParticipantUpdate(frame.Chat)
		}

	case protocol.FrameChatsUpdate:
		e.applyChatsUpdate(frame)

	case protocol.FrameError:
		// Server-reported errors are transient notices; the connection
		// stays up.
		e.logger.Warn("server error frame", zap.String("message", frame.ErrorText))
		e.bus.Emit(bus.ConnTransientError, frame.ErrorText)
	}
}

// applyMessage routes a push-delivered message. A message for a chat absent
// from the list means a missed chat-list update: the message is parked and a
// resync fetched, never silently dropped. allowResync is false on the
// post-resync replay so a chat still unknown after a fresh snapshot cannot
// loop forever.
func (e *Engine) applyMessage(m *protocol.Message, allowResync bool) {
	if !e.chats.contains(m.ChatID) {
		if !allowResync {
			e.logger.Warn("message for chat absent from fresh snapshot dropped",
				zap.Int64("chat_id", m.ChatID), zap.Int64("msg_id", m.ID))
			return
		}
		e.logger.Info("message for unknown chat, resyncing chat list",
			zap.Int64("chat_id", m.ChatID), zap.Int64("msg_id", m.ID))
		e.parked = append(e.parked, m)
		e.startResync()
		return
	}

	if m.ChatID == e.selected {
		e.appendIncoming(m)
	}
	e.touchFromMessage(m)
	e.mirrorMessage(m)
}
