package connections

import (
	"errors"
	"strconv"
	"strings"
)

// Status is the relationship between two users.
type Status string

const (
	None      Status = "NONE"
	Pending   Status = "PENDING"
	Connected Status = "CONNECTED"
	Rejected  Status = "REJECTED"
)

// ParseStatus maps a backend status string to a Status; unknown values are None.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case Pending, Connected, Rejected:
		return st
	case "ACCEPTED":
		return Connected
	default:
		return None
	}
}

// State is the cached answer for a pair of users.
type State struct {
	Status       Status
	ConnectionID int64
}

// Connection is one relationship record as listed by the backend.
type Connection struct {
	ID          int64
	RequesterID int64
	ReceiverID  int64
	Status      Status
	// Name of the counterpart when the backend includes it.
	Name string
}

// Involves reports whether the connection is between a and b.
func (c Connection) Involves(a, b int64) bool {
	return (c.RequesterID == a && c.ReceiverID == b) || (c.RequesterID == b && c.ReceiverID == a)
}

// Other returns the participant that is not user.
func (c Connection) Other(user int64) int64 {
	if c.RequesterID == user {
		return c.ReceiverID
	}
	return c.RequesterID
}

// Suggestion is a user the backend proposes to connect with.
type Suggestion struct {
	UserID int64
	Name   string
	Avatar string
}

var (
	// ErrUnsupported is returned by a Remote whose deployment has no direct
	// status query.
	ErrUnsupported = errors.New("connections: status query unsupported")

	ErrSelf             = errors.New("connections: cannot connect to yourself")
	ErrAlreadyConnected = errors.New("connections: already connected")
	ErrAlreadyPending   = errors.New("connections: request already pending")
	ErrNotPending       = errors.New("connections: no pending request")
	ErrNotConnected     = errors.New("connections: not connected")
)

// pair is an unordered cache key.
type pair struct{ lo, hi int64 }

func newPair(a, b int64) pair {
	if a > b {
		a, b = b, a
	}
	return pair{lo: a, hi: b}
}

func (p pair) String() string {
	return strconv.FormatInt(p.lo, 10) + ":" + strconv.FormatInt(p.hi, 10)
}
