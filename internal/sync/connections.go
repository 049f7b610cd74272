package sync

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/connections"
)

// CheckConnection returns the relationship between the local user and other.
func (e *Engine) CheckConnection(ctx context.Context, other int64) (connections.State, error) {
	sc, err := e.scope()
	if err != nil {
		return connections.State{}, err
	}
	return sc.conns.Check(ctx, sc.self, other), nil
}

// RequestConnection asks other to connect.
func (e *Engine) RequestConnection(ctx context.Context, other int64) (connections.State, error) {
	return e.mutateConnection(ctx, other, (*connections.Cache).SendRequest)
}

// AcceptConnection accepts a pending request between the local user and
// other and opens a conversation shell.
func (e *Engine) AcceptConnection(ctx context.Context, other int64) (connections.State, error) {
	return e.mutateConnection(ctx, other, (*connections.Cache).Accept)
}

// RejectConnection rejects a pending request.
func (e *Engine) RejectConnection(ctx context.Context, other int64) (connections.State, error) {
	return e.mutateConnection(ctx, other, (*connections.Cache).Reject)
}

// RemoveConnection removes an established connection.
func (e *Engine) RemoveConnection(ctx context.Context, other int64) (connections.State, error) {
	return e.mutateConnection(ctx, other, (*connections.Cache).Remove)
}

// Suggestions lists users the local user may want to connect with.
func (e *Engine) Suggestions(ctx context.Context) ([]connections.Suggestion, error) {
	sc, err := e.scope()
	if err != nil {
		return nil, err
	}
	return sc.conns.Suggestions(ctx, sc.self)
}

type connectionOp func(c *connections.Cache, ctx context.Context, user, other int64) (connections.State, error)

func (e *Engine) mutateConnection(ctx context.Context, other int64, op connectionOp) (connections.State, error) {
	sc, err := e.scope()
	if err != nil {
		return connections.State{}, err
	}
	st, err := op(sc.conns, ctx, sc.self, other)
	if err != nil {
		return st, err
	}
	e.bus.Emit(bus.KindConnectionChanged, bus.ConnectionPayload{
		OtherID:      other,
		Status:       string(st.Status),
		ConnectionID: st.ConnectionID,
	})
	return st, nil
}
