package transport

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/wire"
)

// Type is the kind of a push envelope.
type Type string

const (
	Chat       Type = "CHAT"
	Read       Type = "READ"
	Typing     Type = "TYPING"
	StopTyping Type = "STOP_TYPING"
	Join       Type = "JOIN"
	Leave      Type = "LEAVE"

	// connectedAck is the first frame the server sends after a successful
	// upgrade.
	connectedAck Type = "CONNECTED"
)

// Outbound destinations.
const (
	DestChat   = "/app/chat.send"
	DestTyping = "/app/chat.typing"
	DestRead   = "/app/chat.read"
)

// Envelope is the push payload exchanged in both directions.
type Envelope struct {
	Type           Type      `json:"type"`
	SenderID       int64     `json:"senderId"`
	ReceiverID     int64     `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      wire.Time `json:"timestamp"`
	ConversationID string    `json:"conversationId,omitempty"`
	ID             string    `json:"id,omitempty"`
	ServerID       string    `json:"serverId,omitempty"`
	SenderName     string    `json:"senderName,omitempty"`
	SenderPhoto    string    `json:"senderPhoto,omitempty"`
}

// Frame wraps an outbound envelope with its destination.
type Frame struct {
	Destination string    `json:"destination"`
	Body        *Envelope `json:"body"`
}

// decodeEnvelope parses an inbound frame. Servers may either send the bare
// envelope or wrap it in a Frame.
func decodeEnvelope(data []byte) (Envelope, error) {
	var probe struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, err
	}
	if len(probe.Body) > 0 && probe.Body[0] == '{' {
		data = probe.Body
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	env.Type = Type(strings.ToUpper(string(env.Type)))
	return env, nil
}
