package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the daemon.
const (
	KindStatusChanged       = "session.status_changed"
	KindConversationUpdated = "conversation.updated"
	KindMessageUpserted     = "message.upserted"
	KindMessageConfirmed    = "message.confirmed"
	KindMessageSendFailed   = "message.send_failed"
	KindLinkConnected       = "link.connected"
	KindLinkDisconnected    = "link.disconnected"
	KindConnectionChanged   = "connection.changed"
)

// Event is a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event of the given kind with a fresh ID and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// ConversationPayload identifies the conversation an event refers to.
type ConversationPayload struct {
	CounterpartID  int64
	ConversationID string
}

// MessagePayload identifies an upserted message.
type MessagePayload struct {
	CounterpartID int64
	MessageID     string
	Outcome       string
}

// ConnectionPayload reports the relationship with another user after a
// lookup or mutation.
type ConnectionPayload struct {
	OtherID      int64
	Status       string
	ConnectionID int64
}

// LinkPayload describes a transport link change.
type LinkPayload struct {
	Reason string
}
