package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/matheus3301/chatsync/internal/connections"
)

// ConnectionStatus queries the relationship between user and other.
// Deployments without the endpoint yield connections.ErrUnsupported.
func (c *Client) ConnectionStatus(ctx context.Context, user, other int64) (connections.State, error) {
	data, err := c.send(ctx, call{
		method: http.MethodGet,
		path:   idPath("/api/connections/status/%s/%s", user, other),
		auth:   true,
	})
	switch StatusOf(err) {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return connections.State{}, connections.ErrUnsupported
	}
	if err != nil {
		return connections.State{}, fmt.Errorf("connection status: %w", err)
	}
	var st statusDTO
	if err := decode(data, &st); err != nil {
		return connections.State{}, fmt.Errorf("connection status: %w", err)
	}
	return connections.State{
		Status:       connections.ParseStatus(st.Status),
		ConnectionID: st.ConnectionID.Int64(),
	}, nil
}

func (c *Client) listConnections(ctx context.Context, path string) ([]connections.Connection, error) {
	data, err := c.send(ctx, call{method: http.MethodGet, path: path, auth: true, retry: true})
	if err != nil {
		return nil, err
	}
	var list connectionList
	if err := decode(data, &list); err != nil {
		return nil, err
	}
	return list.connections(), nil
}

// ListConnections lists the accepted connections of user.
func (c *Client) ListConnections(ctx context.Context, user int64) ([]connections.Connection, error) {
	out, err := c.listConnections(ctx, idPath("/api/connections/user/%s", user))
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

// ListPending lists the pending requests involving user.
func (c *Client) ListPending(ctx context.Context, user int64) ([]connections.Connection, error) {
	out, err := c.listConnections(ctx, idPath("/api/connections/pending/%s", user))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	for i := range out {
		out[i].Status = connections.Pending
	}
	return out, nil
}

// Suggestions lists users the backend suggests connecting with.
func (c *Client) Suggestions(ctx context.Context, user int64) ([]connections.Suggestion, error) {
	data, err := c.send(ctx, call{
		method: http.MethodGet,
		path:   idPath("/api/connections/suggestions/%s", user),
		auth:   true,
		retry:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("suggestions: %w", err)
	}
	var list userList
	if err := decode(data, &list); err != nil {
		return nil, fmt.Errorf("suggestions: %w", err)
	}
	out := make([]connections.Suggestion, 0, len(list))
	for i := range list {
		p := list[i].profile()
		out = append(out, connections.Suggestion{UserID: p.ID, Name: p.Name, Avatar: p.Avatar})
	}
	return out, nil
}

func (c *Client) mutate(ctx context.Context, method, path string, body any) (*connectionDTO, error) {
	data, err := c.send(ctx, call{method: method, path: path, body: body, auth: true})
	if err != nil {
		return nil, err
	}
	var res result[connectionDTO]
	if err := decode(data, &res); err != nil {
		return nil, err
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// SendRequest asks to connect from to to.
func (c *Client) SendRequest(ctx context.Context, from, to int64) (connections.Connection, error) {
	dto, err := c.mutate(ctx, http.MethodPost, "/api/connections/request",
		map[string]int64{"requesterId": from, "receiverId": to})
	if err != nil {
		return connections.Connection{}, fmt.Errorf("send connection request: %w", err)
	}
	if dto == nil {
		return connections.Connection{RequesterID: from, ReceiverID: to, Status: connections.Pending}, nil
	}
	return dto.connection(), nil
}

// Accept accepts the pending request with the given identifier.
func (c *Client) Accept(ctx context.Context, connectionID int64) (connections.Connection, error) {
	dto, err := c.mutate(ctx, http.MethodPut, idPath("/api/connections/%s/accept", connectionID), nil)
	if err != nil {
		return connections.Connection{}, fmt.Errorf("accept connection: %w", err)
	}
	if dto == nil {
		return connections.Connection{ID: connectionID, Status: connections.Connected}, nil
	}
	return dto.connection(), nil
}

// Reject declines the pending request with the given identifier.
func (c *Client) Reject(ctx context.Context, connectionID int64) error {
	if _, err := c.mutate(ctx, http.MethodPut, idPath("/api/connections/%s/reject", connectionID), nil); err != nil {
		return fmt.Errorf("reject connection: %w", err)
	}
	return nil
}

// Remove deletes the connection with the given identifier.
func (c *Client) Remove(ctx context.Context, connectionID int64) error {
	if _, err := c.mutate(ctx, http.MethodDelete, idPath("/api/connections/%s", connectionID), nil); err != nil {
		return fmt.Errorf("remove connection: %w", err)
	}
	return nil
}
