package store

// Credentials is the stored login of the session.
type Credentials struct {
	Token  string
	UserID int64
	Name   string
}

// Profile is a counterpart name and avatar learned from the backend or
// push events.
type Profile struct {
	UserID int64
	Name   string
	Avatar string
}

// SendStatus is the state of an outbox entry.
type SendStatus string

const (
	// SendSent means the transport accepted the frame.
	SendSent SendStatus = "sent"
	// SendUnsent means the link was down; the message was not transmitted.
	SendUnsent SendStatus = "unsent"
	// SendConfirmed means the backend has a durable copy.
	SendConfirmed SendStatus = "confirmed"
	// SendUnconfirmed means no durable copy appeared in time.
	SendUnconfirmed SendStatus = "unconfirmed"
)

// OutboxEntry records one optimistic send.
type OutboxEntry struct {
	LocalID       string
	CounterpartID int64
	Content       string
	Status        SendStatus
	ServerID      string
	ErrorMessage  string
	Attempts      int
	CreatedAt     int64
}
