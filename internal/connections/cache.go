package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Remote is the backend surface the cache consults and mutates through.
type Remote interface {
	ConnectionStatus(ctx context.Context, user, other int64) (State, error)
	ListConnections(ctx context.Context, user int64) ([]Connection, error)
	ListPending(ctx context.Context, user int64) ([]Connection, error)
	Suggestions(ctx context.Context, user int64) ([]Suggestion, error)
	SendRequest(ctx context.Context, from, to int64) (Connection, error)
	Accept(ctx context.Context, connectionID int64) (Connection, error)
	Reject(ctx context.Context, connectionID int64) error
	Remove(ctx context.Context, connectionID int64) error
}

// ShellCreator creates an empty conversation with a new connection.
type ShellCreator interface {
	CreateShell(ctx context.Context, counterpartID int64) error
}

// Cache memoizes relationship state per unordered user pair.
type Cache struct {
	remote Remote
	logger *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[pair]State
	shells  ShellCreator
}

// New creates an empty cache backed by remote.
func New(remote Remote, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		remote:  remote,
		logger:  logger,
		entries: make(map[pair]State),
	}
}

// SetShellCreator installs the collaborator notified after an accept.
func (c *Cache) SetShellCreator(s ShellCreator) {
	c.mu.Lock()
	c.shells = s
	c.mu.Unlock()
}

// Get returns the cached state for the pair without consulting the backend.
func (c *Cache) Get(a, b int64) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.entries[newPair(a, b)]
	return st, ok
}

func (c *Cache) put(a, b int64, st State) {
	c.mu.Lock()
	c.entries[newPair(a, b)] = st
	c.mu.Unlock()
}

// Invalidate drops the cached state for the pair.
func (c *Cache) Invalidate(a, b int64) {
	c.mu.Lock()
	delete(c.entries, newPair(a, b))
	c.mu.Unlock()
}

// Seed records every connection of user from a snapshot.
func (c *Cache) Seed(user int64, conns []Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range conns {
		other := conn.Other(user)
		if other == 0 || other == user {
			continue
		}
		st := conn.Status
		if st == "" {
			st = Connected
		}
		c.entries[newPair(user, other)] = State{Status: st, ConnectionID: conn.ID}
	}
}

// Check returns the relationship between user and other. The backend is
// consulted only on a cache miss; concurrent misses for the same pair share
// one lookup. Lookup failures degrade to None without caching it.
func (c *Cache) Check(ctx context.Context, user, other int64) State {
	if user == other {
		return State{Status: None}
	}
	if st, ok := c.Get(user, other); ok {
		return st
	}

	key := newPair(user, other).String()
	v, _, _ := c.group.Do(key, func() (any, error) {
		if st, ok := c.Get(user, other); ok {
			return st, nil
		}
		st, ok := c.lookup(ctx, user, other)
		if ok {
			c.put(user, other, st)
		}
		return st, nil
	})
	return v.(State)
}

// lookup walks the fallback chain. ok is false when the answer is a
// degraded default rather than something the backend said.
func (c *Cache) lookup(ctx context.Context, user, other int64) (State, bool) {
	st, err := c.remote.ConnectionStatus(ctx, user, other)
	if err == nil {
		return st, true
	}
	if !errors.Is(err, ErrUnsupported) {
		c.logger.Warn("connection status query failed; falling back to lists",
			zap.Int64("user", user), zap.Int64("other", other), zap.Error(err))
	}

	listsOK := true
	conns, err := c.remote.ListConnections(ctx, user)
	if err != nil {
		listsOK = false
		c.logger.Warn("list connections failed", zap.Int64("user", user), zap.Error(err))
	}
	for _, conn := range conns {
		if conn.Involves(user, other) {
			s := conn.Status
			if s == "" || s == None {
				s = Connected
			}
			return State{Status: s, ConnectionID: conn.ID}, true
		}
	}

	pending, err := c.remote.ListPending(ctx, user)
	if err != nil {
		listsOK = false
		c.logger.Warn("list pending requests failed", zap.Int64("user", user), zap.Error(err))
	}
	for _, conn := range pending {
		if conn.Involves(user, other) {
			return State{Status: Pending, ConnectionID: conn.ID}, true
		}
	}

	return State{Status: None}, listsOK
}

// SendRequest asks other to connect with user.
func (c *Cache) SendRequest(ctx context.Context, user, other int64) (State, error) {
	if user == other {
		return State{}, ErrSelf
	}
	switch cur := c.Check(ctx, user, other); cur.Status {
	case Connected:
		return cur, ErrAlreadyConnected
	case Pending:
		return cur, ErrAlreadyPending
	}

	conn, err := c.remote.SendRequest(ctx, user, other)
	if err != nil {
		return State{}, fmt.Errorf("send connection request: %w", err)
	}
	st := State{Status: Pending, ConnectionID: conn.ID}
	if conn.Status != "" && conn.Status != None {
		st.Status = conn.Status
	}
	c.put(user, other, st)
	return st, nil
}

// Accept accepts the pending request between user and other, then creates a
// conversation shell. Shell failures are logged and do not undo the accept.
func (c *Cache) Accept(ctx context.Context, user, other int64) (State, error) {
	cur, err := c.pending(ctx, user, other)
	if err != nil {
		return cur, err
	}

	conn, err := c.remote.Accept(ctx, cur.ConnectionID)
	if err != nil {
		return cur, fmt.Errorf("accept connection: %w", err)
	}
	st := State{Status: Connected, ConnectionID: cur.ConnectionID}
	if conn.ID != 0 {
		st.ConnectionID = conn.ID
	}
	c.put(user, other, st)

	c.mu.RLock()
	shells := c.shells
	c.mu.RUnlock()
	if shells != nil {
		if err := shells.CreateShell(ctx, other); err != nil {
			c.logger.Warn("conversation shell creation failed after accept",
				zap.Int64("other", other), zap.Error(err))
		}
	}
	return st, nil
}

// Reject declines the pending request between user and other.
func (c *Cache) Reject(ctx context.Context, user, other int64) (State, error) {
	cur, err := c.pending(ctx, user, other)
	if err != nil {
		return cur, err
	}
	if err := c.remote.Reject(ctx, cur.ConnectionID); err != nil {
		return cur, fmt.Errorf("reject connection: %w", err)
	}
	st := State{Status: Rejected, ConnectionID: cur.ConnectionID}
	c.put(user, other, st)
	return st, nil
}

// Remove ends the connection between user and other.
func (c *Cache) Remove(ctx context.Context, user, other int64) (State, error) {
	if user == other {
		return State{}, ErrSelf
	}
	cur := c.Check(ctx, user, other)
	if cur.Status != Connected {
		return cur, ErrNotConnected
	}
	if err := c.remote.Remove(ctx, cur.ConnectionID); err != nil {
		return cur, fmt.Errorf("remove connection: %w", err)
	}
	st := State{Status: None}
	c.put(user, other, st)
	return st, nil
}

// Suggestions returns the backend's connection suggestions for user.
func (c *Cache) Suggestions(ctx context.Context, user int64) ([]Suggestion, error) {
	out, err := c.remote.Suggestions(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("connection suggestions: %w", err)
	}
	return out, nil
}

func (c *Cache) pending(ctx context.Context, user, other int64) (State, error) {
	if user == other {
		return State{}, ErrSelf
	}
	cur := c.Check(ctx, user, other)
	switch {
	case cur.Status == Connected:
		return cur, ErrAlreadyConnected
	case cur.Status != Pending:
		return cur, ErrNotPending
	case cur.ConnectionID == 0:
		return cur, fmt.Errorf("%w: request has no identifier", ErrNotPending)
	}
	return cur, nil
}
