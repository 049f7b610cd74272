package sync

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Outcome classifies how an inbound CHAT envelope was folded into the store.
type Outcome int

const (
	// Ignored envelopes are not addressed to a conversation of the local user.
	Ignored Outcome = iota
	// Inserted envelopes produced a new message.
	Inserted
	// Confirmed envelopes were echoes of an optimistic send.
	Confirmed
	// Duplicate envelopes described a message already in the store.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Confirmed:
		return "confirmed"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Reconciler keeps exactly one copy of every logical message in the
// conversation store, however many paths delivered it.
type Reconciler struct {
	store  *conversation.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler writing into store.
func NewReconciler(store *conversation.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SendLocal inserts an optimistic copy of a message the local user is about
// to send and returns it. Its ID carries the provisional prefix.
func (r *Reconciler) SendLocal(counterpartID int64, content string) conversation.Message {
	self := r.store.Self()
	m := conversation.Message{
		ID:             conversation.ProvisionalPrefix + uuid.NewString(),
		Content:        content,
		Timestamp:      r.now().UTC(),
		SenderID:       self,
		ReceiverID:     counterpartID,
		ConversationID: conversation.ID(self, counterpartID),
		LocalOrigin:    true,
	}
	r.store.UpsertMessage(counterpartID, m)
	return m
}

// ApplyChat folds a pushed CHAT envelope into the store. The returned
// message is the stored copy, or the incoming one when it was discarded.
func (r *Reconciler) ApplyChat(env transport.Envelope) (Outcome, conversation.Message) {
	self := r.store.Self()
	counterpart := env.SenderID
	if env.SenderID == self {
		counterpart = env.ReceiverID
	} else if env.ReceiverID != 0 && env.ReceiverID != self {
		return Ignored, conversation.Message{}
	}
	if env.SenderID == 0 || counterpart == 0 || counterpart == self {
		return Ignored, conversation.Message{}
	}

	in := r.message(env, self, counterpart)
	outcome := Ignored
	var stored conversation.Message

	r.store.Apply(counterpart, func(c *conversation.Conversation, active bool) {
		if env.SenderID == self {
			outcome, stored = r.applyOwn(c, env, in, active)
		} else {
			outcome, stored = r.applyRemote(c, env, in, active)
		}
	})

	r.logger.Debug("chat envelope reconciled",
		zap.Int64("counterpart_id", counterpart),
		zap.String("message_id", stored.ID),
		zap.Stringer("outcome", outcome))
	return outcome, stored
}

// applyOwn handles an envelope authored by the local user: an echo of an
// optimistic send, a copy of something already merged, or a message sent
// from another device.
func (r *Reconciler) applyOwn(c *conversation.Conversation, env transport.Envelope, in conversation.Message, active bool) (Outcome, conversation.Message) {
	self := r.store.Self()

	if conversation.IsProvisional(env.ID) {
		if i := c.IndexOf(env.ID); i >= 0 {
			if j := c.IndexOf(env.ServerID); j >= 0 {
				// History delivered the durable copy first.
				durable := c.Messages[j]
				durable.LocalOrigin = false
				durable.Read = durable.Read || c.Messages[i].Read
				c.Replace(j, durable, self, active)
				c.Remove(i)
				return Confirmed, durable
			}
			m := c.Messages[i]
			if env.ServerID != "" {
				m.ID = env.ServerID
			}
			m.LocalOrigin = false
			c.Replace(i, m, self, active)
			return Confirmed, m
		}
	}
	if i := c.IndexOf(in.ID); i >= 0 {
		return Duplicate, c.Messages[i]
	}
	if i := c.FindSimilar(self, in.Content, in.Timestamp, r.store.DuplicateWindow(), nil); i >= 0 {
		return Duplicate, c.Messages[i]
	}

	c.Append(in, self, active)
	return Inserted, in
}

// applyRemote handles an envelope authored by the counterpart. Only copies
// already merged from history are dropped; everything else is inserted and
// counted as unread unless the conversation is active.
func (r *Reconciler) applyRemote(c *conversation.Conversation, env transport.Envelope, in conversation.Message, active bool) (Outcome, conversation.Message) {
	self := r.store.Self()

	if conversation.IsDurable(in.ID) {
		if i := c.IndexOf(in.ID); i >= 0 {
			return Duplicate, c.Messages[i]
		}
	} else if i := c.FindSimilar(in.SenderID, in.Content, in.Timestamp, r.store.DuplicateWindow(), func(m conversation.Message) bool {
		return conversation.IsDurable(m.ID)
	}); i >= 0 {
		return Duplicate, c.Messages[i]
	}

	c.Counterpart.Name = conversation.BetterName(c.Counterpart.Name, env.SenderName)
	if env.SenderPhoto != "" && c.Counterpart.Avatar == "" {
		c.Counterpart.Avatar = env.SenderPhoto
	}
	c.Append(in, self, active)
	if !active {
		c.Unread++
	}
	return Inserted, in
}

func (r *Reconciler) message(env transport.Envelope, self, counterpart int64) conversation.Message {
	id := env.ServerID
	if id == "" && !conversation.IsProvisional(env.ID) {
		id = env.ID
	}
	if id == "" {
		id = conversation.RemoteID(uuid.NewString())
	}
	ts := env.Timestamp.Time
	if ts.IsZero() {
		ts = r.now().UTC()
	}
	convID := strings.TrimSpace(env.ConversationID)
	if convID == "" {
		convID = conversation.ID(self, counterpart)
	}
	return conversation.Message{
		ID:             id,
		Content:        env.Content,
		Timestamp:      ts,
		SenderID:       env.SenderID,
		ReceiverID:     env.ReceiverID,
		ConversationID: convID,
		SenderName:     env.SenderName,
	}
}

// ApplyHistory merges a fetched history. History records supersede matching
// optimistic or pushed copies, so push-then-fetch and fetch-then-push
// converge on the same messages.
func (r *Reconciler) ApplyHistory(counterpartID int64, msgs []conversation.Message) {
	r.store.MergeHistory(counterpartID, msgs)
	for _, m := range msgs {
		if m.SenderID == counterpartID && m.SenderName != "" {
			r.store.RenameCounterpart(counterpartID, m.SenderName)
		}
	}
}
