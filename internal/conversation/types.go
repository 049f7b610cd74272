package conversation

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks message IDs generated by this client before the
// backend has issued a durable ID.
const ProvisionalPrefix = "local_"

// remotePrefix marks IDs synthesized for pushed messages that arrived
// without any identifier.
const remotePrefix = "remote_"

const placeholderPrefix = "system_empty_"

// PlaceholderText is the content of the synthesized message shown in a
// conversation shell that has no history yet.
const PlaceholderText = "No messages yet"

// Message is a single chat message as held by the store.
type Message struct {
	ID             string
	Content        string
	Timestamp      time.Time
	SenderID       int64
	ReceiverID     int64
	ConversationID string
	SenderName     string
	System         bool
	LocalOrigin    bool
	Read           bool
}

// IsProvisional reports whether id was issued locally.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// IsDurable reports whether id was issued by the backend.
func IsDurable(id string) bool {
	return id != "" &&
		!strings.HasPrefix(id, ProvisionalPrefix) &&
		!strings.HasPrefix(id, remotePrefix) &&
		!strings.HasPrefix(id, placeholderPrefix)
}

// LocalState is what became of an optimistic message.
type LocalState int

const (
	// LocalUnknown means the store never held the message, for example
	// because it was sent before a restart.
	LocalUnknown LocalState = iota
	// LocalPending means the provisional copy is still waiting for a
	// durable one.
	LocalPending
	// LocalSuperseded means a durable copy replaced the provisional one.
	LocalSuperseded
)

func (s LocalState) String() string {
	switch s {
	case LocalPending:
		return "pending"
	case LocalSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// historyPrefix marks IDs derived for history records that arrived without
// an identifier.
const historyPrefix = "hist_"

// messageID returns m.ID, or for a message without one an ID derived from
// its sender, receiver, timestamp and content. The same record fetched twice
// gets the same ID.
func messageID(m Message) string {
	if m.ID != "" {
		return m.ID
	}
	key := strconv.FormatInt(m.SenderID, 10) + "|" +
		strconv.FormatInt(m.ReceiverID, 10) + "|" +
		strconv.FormatInt(m.Timestamp.UnixNano(), 10) + "|" + m.Content
	return historyPrefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// RemoteID builds a store-local ID for a pushed message that carried none.
func RemoteID(suffix string) string {
	return remotePrefix + suffix
}

// Profile summarizes the counterpart of a conversation.
type Profile struct {
	ID     int64
	Name   string
	Avatar string
	Online bool
}

// Summary is the last-message preview of a conversation.
type Summary struct {
	Content   string
	Timestamp time.Time
	Read      bool
}

// Conversation is the 1:1 thread with one counterpart.
type Conversation struct {
	Counterpart Profile
	Messages    []Message
	Last        *Summary
	Unread      int
	Typing      bool
	Hydrated    bool
}

// Phase is the lifecycle position of a conversation.
type Phase int

const (
	Uninitialized Phase = iota
	SummaryOnly
	Hydrated
	Active
)

func (p Phase) String() string {
	switch p {
	case SummaryOnly:
		return "summary-only"
	case Hydrated:
		return "hydrated"
	case Active:
		return "active"
	default:
		return "uninitialized"
	}
}

// ID returns the conversation identifier shared by both participants: the
// two user IDs in ascending order joined by an underscore.
func ID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + "_" + strconv.FormatInt(b, 10)
}

// IndexOf returns the position of the message with the given ID, or -1.
func (c *Conversation) IndexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// FindSimilar returns the index of the newest message from sender with the
// same content whose timestamp lies within window of ts, restricted to
// messages accepted by filter. Returns -1 when nothing matches.
func (c *Conversation) FindSimilar(sender int64, content string, ts time.Time, window time.Duration, filter func(Message) bool) int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.System || m.SenderID != sender || m.Content != content {
			continue
		}
		if filter != nil && !filter(m) {
			continue
		}
		if absDuration(m.Timestamp.Sub(ts)) <= window {
			return i
		}
	}
	return -1
}

// Append adds m, dropping any placeholder message, and refreshes the
// last-message summary.
func (c *Conversation) Append(m Message, self int64, active bool) {
	if !m.System {
		c.dropPlaceholders()
	}
	c.Messages = append(c.Messages, m)
	c.touch(m, self, active)
}

// Remove deletes the message at i.
func (c *Conversation) Remove(i int) {
	c.Messages = slices.Delete(c.Messages, i, i+1)
}

// Replace overwrites the message at i and refreshes the summary.
func (c *Conversation) Replace(i int, m Message, self int64, active bool) {
	c.Messages[i] = m
	c.touch(m, self, active)
}

func (c *Conversation) dropPlaceholders() {
	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if m.System && strings.HasPrefix(m.ID, placeholderPrefix) {
			continue
		}
		kept = append(kept, m)
	}
	c.Messages = kept
}

func (c *Conversation) touch(m Message, self int64, active bool) {
	if m.System {
		return
	}
	if c.Last != nil && m.Timestamp.Before(c.Last.Timestamp) {
		return
	}
	c.Last = &Summary{
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Read:      m.Read || (active && m.SenderID != self),
	}
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	if c.Last != nil {
		last := *c.Last
		out.Last = &last
	}
	return out
}

func (c *Conversation) lastActivity() time.Time {
	if c.Last != nil {
		return c.Last.Timestamp
	}
	return time.Time{}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
