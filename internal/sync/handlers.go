package sync

import (
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// handleEnvelope routes one inbound push envelope. The transport calls it
// serially from its reader goroutine.
func (e *Engine) handleEnvelope(env transport.Envelope) {
	sc := e.current.Load()
	if sc == nil {
		return
	}

	switch env.Type {
	case transport.Chat:
		e.onChat(sc, env)
	case transport.Read:
		if env.SenderID == sc.self {
			return
		}
		if sc.store.ApplyReadReceipt(env.SenderID) {
			e.conversationUpdated(sc, env.SenderID)
		}
	case transport.Typing, transport.StopTyping:
		if env.SenderID == sc.self || env.SenderID == 0 {
			return
		}
		sc.presence.Typing(env.SenderID, env.Type == transport.Typing)
	case transport.Join, transport.Leave:
		if env.SenderID == sc.self || env.SenderID == 0 {
			return
		}
		sc.presence.Online(env.SenderID, env.Type == transport.Join)
	default:
		e.logger.Debug("ignoring push envelope", zap.String("type", string(env.Type)))
	}
}

func (e *Engine) onChat(sc *scope, env transport.Envelope) {
	outcome, msg := sc.rec.ApplyChat(env)
	if outcome == Ignored || outcome == Duplicate {
		return
	}

	counterpart := env.SenderID
	if env.SenderID == sc.self {
		counterpart = env.ReceiverID
	}

	switch {
	case outcome == Inserted && env.SenderID == counterpart:
		sc.presence.Typing(counterpart, false)
		e.rememberProfile(store.Profile{UserID: counterpart, Name: env.SenderName, Avatar: env.SenderPhoto})
	case outcome == Confirmed && conversation.IsDurable(msg.ID):
		if err := e.db.MarkSend(env.ID, store.SendConfirmed, msg.ID, ""); err != nil {
			e.logger.Warn("failed to confirm outbox entry", zap.String("local_id", env.ID), zap.Error(err))
		}
		e.bus.Emit(bus.KindMessageConfirmed, bus.MessagePayload{CounterpartID: counterpart, MessageID: msg.ID, Outcome: outcome.String()})
	}

	e.bus.Emit(bus.KindMessageUpserted, bus.MessagePayload{
		CounterpartID: counterpart,
		MessageID:     msg.ID,
		Outcome:       outcome.String(),
	})
	e.conversationUpdated(sc, counterpart)
}
