package sync

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sent is the result of an optimistic send.
type Sent struct {
	Message conversation.Message
	// Transmitted is false when the push link was down. The message stays in
	// the store as a local copy; it is not retried.
	Transmitted bool
}

// Send inserts content as an optimistic message to counterpartID and hands
// it to the push link. The local copy exists even when the send fails.
func (e *Engine) Send(counterpartID int64, content string) (Sent, error) {
	sc, err := e.scope()
	if err != nil {
		return Sent{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Sent{}, ErrEmptyMessage
	}
	if counterpartID <= 0 || counterpartID == sc.self {
		return Sent{}, ErrInvalidCounterpart
	}

	m := sc.rec.SendLocal(counterpartID, content)
	ok := e.link.SendChatMessage(counterpartID, m.ConversationID, content, m.ID)

	st := store.SendSent
	if !ok {
		st = store.SendUnsent
	}
	if err := e.db.RecordSend(m.ID, counterpartID, content, st); err != nil {
		e.logger.Warn("failed to record send", zap.String("local_id", m.ID), zap.Error(err))
	}

	payload := bus.MessagePayload{CounterpartID: counterpartID, MessageID: m.ID, Outcome: "provisional"}
	e.bus.Emit(bus.KindMessageUpserted, payload)
	e.conversationUpdated(sc, counterpartID)
	if !ok {
		e.logger.Warn("push link down; message kept locally", zap.String("local_id", m.ID))
		payload.Outcome = "unsent"
		e.bus.Emit(bus.KindMessageSendFailed, payload)
	}
	return Sent{Message: m, Transmitted: ok}, nil
}

// Select makes counterpartID the active conversation, loads its history
// when only the summary is known, and marks it read.
func (e *Engine) Select(ctx context.Context, counterpartID int64) error {
	sc, err := e.scope()
	if err != nil {
		return err
	}
	if counterpartID <= 0 || counterpartID == sc.self {
		return ErrInvalidCounterpart
	}

	phase := sc.store.Phase(counterpartID)
	sc.store.SetActive(counterpartID)
	e.conversationUpdated(sc, counterpartID)

	if phase == conversation.Uninitialized || phase == conversation.SummaryOnly {
		if err := e.hydrate(ctx, sc, counterpartID); err != nil {
			return err
		}
	}
	return e.markRead(ctx, sc, counterpartID)
}

// Deselect clears the active conversation.
func (e *Engine) Deselect() error {
	sc, err := e.scope()
	if err != nil {
		return err
	}
	sc.store.ClearActive()
	return nil
}

// MarkRead zeroes the unread count of counterpartID and tells both the
// counterpart and the backend.
func (e *Engine) MarkRead(ctx context.Context, counterpartID int64) error {
	sc, err := e.scope()
	if err != nil {
		return err
	}
	if sc.store.Phase(counterpartID) == conversation.Uninitialized {
		return ErrUnknownConversation
	}
	return e.markRead(ctx, sc, counterpartID)
}

func (e *Engine) markRead(ctx context.Context, sc *scope, counterpartID int64) error {
	sc.store.Apply(counterpartID, func(c *conversation.Conversation, _ bool) {
		c.Unread = 0
		if c.Last != nil {
			c.Last.Read = true
		}
	})
	e.conversationUpdated(sc, counterpartID)

	e.link.SendRead(counterpartID, conversation.ID(sc.self, counterpartID))
	return e.api.MarkRead(ctx, sc.self, counterpartID)
}

// Typing announces that the local user started or stopped typing to
// counterpartID. It reports whether the link carried the signal.
func (e *Engine) Typing(counterpartID int64, typing bool) (bool, error) {
	sc, err := e.scope()
	if err != nil {
		return false, err
	}
	if counterpartID <= 0 || counterpartID == sc.self {
		return false, ErrInvalidCounterpart
	}
	return e.link.SendTyping(counterpartID, conversation.ID(sc.self, counterpartID), typing), nil
}

// Hydrate fetches and merges the full history with counterpartID. A result
// arriving after another conversation was selected is still merged.
func (e *Engine) Hydrate(ctx context.Context, counterpartID int64) error {
	sc, err := e.scope()
	if err != nil {
		return err
	}
	return e.hydrate(ctx, sc, counterpartID)
}

func (e *Engine) hydrate(ctx context.Context, sc *scope, counterpartID int64) error {
	msgs, err := e.api.FetchHistory(ctx, conversation.ID(sc.self, counterpartID))
	if err != nil {
		return fmt.Errorf("hydrate %d: %w", counterpartID, err)
	}
	if e.current.Load() != sc {
		return ErrNotStarted
	}
	sc.rec.ApplyHistory(counterpartID, msgs)
	e.conversationUpdated(sc, counterpartID)
	return nil
}

// HydrateAll loads the history of every listed counterpart, or of every
// known conversation when ids is empty. Failures are isolated: a failed
// conversation is logged and left with its summary. It returns how many
// failed.
func (e *Engine) HydrateAll(ctx context.Context, ids []int64) (int, error) {
	sc, err := e.scope()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		for _, c := range sc.store.List() {
			ids = append(ids, c.Counterpart.ID)
		}
	}

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(e.opts.HydrateConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := e.hydrate(ctx, sc, id); err != nil {
				failed.Add(1)
				e.logger.Warn("history fetch failed; keeping summary only",
					zap.Int64("counterpart_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load()), nil
}

// Refresh re-merges the conversation snapshot and reloads the history of
// the active conversation.
func (e *Engine) Refresh(ctx context.Context) error {
	sc, err := e.scope()
	if err != nil {
		return err
	}
	return e.refresh(ctx, sc)
}

func (e *Engine) refresh(ctx context.Context, sc *scope) error {
	if err := e.seed(ctx, sc); err != nil {
		return err
	}
	if active := sc.store.Active(); active != 0 {
		return e.hydrate(ctx, sc, active)
	}
	return nil
}

// CreateShell creates an empty conversation with counterpartID locally and
// on the backend. The local shell survives a backend failure.
func (e *Engine) CreateShell(ctx context.Context, counterpartID int64) error {
	sc, err := e.scope()
	if err != nil {
		return err
	}
	p := conversation.Profile{ID: counterpartID}
	if cached, err := e.db.GetProfile(counterpartID); err == nil && cached != nil {
		p.Name, p.Avatar = cached.Name, cached.Avatar
	}
	sc.store.Ensure(p)
	e.conversationUpdated(sc, counterpartID)
	return e.api.CreateConversation(ctx, sc.self, counterpartID)
}

// Resolve reports whether the optimistic message localID is still waiting
// for a durable copy, was replaced by one, or is unknown to this session.
func (e *Engine) Resolve(counterpartID int64, localID string) conversation.LocalState {
	sc := e.current.Load()
	if sc == nil {
		return conversation.LocalUnknown
	}
	return sc.store.Resolve(counterpartID, localID)
}

// Self returns the local user ID, or 0 before a session starts.
func (e *Engine) Self() int64 {
	if sc := e.current.Load(); sc != nil {
		return sc.self
	}
	return 0
}

// Status returns the session state and the reason recorded with it.
func (e *Engine) Status() (status.State, string) {
	return e.machine.Current(), e.machine.Reason()
}

// Conversations lists every conversation, most recent activity first.
func (e *Engine) Conversations() ([]conversation.Conversation, error) {
	sc, err := e.scope()
	if err != nil {
		return nil, err
	}
	return sc.store.List(), nil
}

// Conversation returns the conversation with counterpartID.
func (e *Engine) Conversation(counterpartID int64) (conversation.Conversation, error) {
	sc, err := e.scope()
	if err != nil {
		return conversation.Conversation{}, err
	}
	c, ok := sc.store.Get(counterpartID)
	if !ok {
		return conversation.Conversation{}, ErrUnknownConversation
	}
	return c, nil
}
