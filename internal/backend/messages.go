package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matheus3301/chatsync/internal/conversation"
)

func idPath(format string, ids ...int64) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf(format, args...)
}

// ListConversations fetches the conversation summaries of user.
func (c *Client) ListConversations(ctx context.Context, user int64) ([]conversation.Conversation, error) {
	data, err := c.send(ctx, call{
		method: http.MethodGet,
		path:   idPath("/api/messages/conversations/%s", user),
		auth:   true,
		retry:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var list conversationList
	if err := decode(data, &list); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]conversation.Conversation, 0, len(list))
	for i := range list {
		out = append(out, list[i].conversation())
	}
	return out, nil
}

// FetchHistory fetches the messages of a conversation. A conversation the
// backend does not know yet has no history.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	data, err := c.send(ctx, call{
		method: http.MethodGet,
		path:   "/api/messages/history/" + url.PathEscape(conversationID),
		auth:   true,
		retry:  true,
	})
	if StatusOf(err) == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", conversationID, err)
	}
	var list messageList
	if err := decode(data, &list); err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", conversationID, err)
	}
	out := make([]conversation.Message, 0, len(list))
	for i := range list {
		out = append(out, list[i].message())
	}
	return out, nil
}

// MarkRead marks every message counterpart sent to reader as read.
func (c *Client) MarkRead(ctx context.Context, reader, counterpart int64) error {
	_, err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/api/messages/read",
		body:   map[string]int64{"senderId": counterpart, "receiverId": reader},
		auth:   true,
	})
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CreateConversation asks the backend to open an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, user, other int64) error {
	data, err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/api/messages/conversations",
		body:   map[string]int64{"userId": user, "otherUserId": other},
		auth:   true,
	})
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var res result[ack]
	if err := decode(data, &res); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return res.err()
}
