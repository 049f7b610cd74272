package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	readLimit               = 1 << 20
)

var (
	// ErrHandshake is returned when the server does not acknowledge the upgrade.
	ErrHandshake = errors.New("transport: handshake rejected")
	// ErrDisconnected is returned when Disconnect ran while a handshake was
	// in flight. The fresh connection is closed rather than installed.
	ErrDisconnected = errors.New("transport: disconnected during handshake")
)

// wsConn is the subset of *websocket.Conn the client uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens a websocket to url authenticated with token.
type DialFunc func(ctx context.Context, url, token string) (wsConn, error)

// Client owns the single push connection of a session. It never reconnects
// on its own; callers watch link events and call Connect again.
type Client struct {
	url    string
	logger *zap.Logger
	dial   DialFunc

	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	group singleflight.Group

	mu     sync.Mutex
	conn   wsConn
	cancel context.CancelFunc
	userID int64
	// epoch counts Disconnect calls so a handshake can tell it was aborted.
	epoch uint64

	handlers *Registry[MessageHandler]
	links    *Registry[LinkListener]
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// WithHandshakeTimeout bounds the dial plus acknowledgement wait.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// New creates a disconnected client for the push endpoint at pushURL.
func New(pushURL string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:              pushURL,
		logger:           logger,
		dial:             dialWebsocket,
		handshakeTimeout: defaultHandshakeTimeout,
		writeTimeout:     defaultWriteTimeout,
		handlers:         NewRegistry[MessageHandler](),
		links:            NewRegistry[LinkListener](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func dialWebsocket(ctx context.Context, u, token string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// Connected reports whether the link is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the push link for userID. It returns nil immediately when
// already connected; concurrent callers share one handshake. The handshake
// is bounded by the handshake timeout only, so one caller giving up does
// not fail the others.
func (c *Client) Connect(ctx context.Context, userID int64, token string) error {
	if c.Connected() {
		return nil
	}
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	ch := c.group.DoChan("connect", func() (any, error) {
		if c.Connected() {
			return nil, nil
		}
		return nil, c.connect(context.WithoutCancel(ctx), epoch, userID, token)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connect(ctx context.Context, epoch uint64, userID int64, token string) error {
	target, err := withUser(c.url, userID)
	if err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, err := c.dial(hctx, target, token)
	if err != nil {
		return fmt.Errorf("dial push endpoint: %w", err)
	}

	_, data, err := conn.Read(hctx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "ack read failed")
		return fmt.Errorf("read handshake ack: %w", err)
	}
	ack, err := decodeEnvelope(data)
	if err != nil || ack.Type != connectedAck {
		_ = conn.Close(websocket.StatusPolicyViolation, "unexpected ack")
		return fmt.Errorf("%w: got %q", ErrHandshake, ack.Type)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		stop()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return ErrDisconnected
	}
	c.conn = conn
	c.cancel = stop
	c.userID = userID
	c.mu.Unlock()

	c.logger.Info("push link connected", zap.Int64("user_id", userID))
	c.notify(LinkEvent{State: LinkConnected})

	go c.readLoop(loopCtx, conn)
	return nil
}

func withUser(raw string, userID int64) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	q := u.Query()
	q.Set("userId", strconv.FormatInt(userID, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Disconnect closes the link. It is safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.logger.Info("push link closed")
	c.notify(LinkEvent{State: LinkDisconnected, Reason: "client disconnect"})
}

func (c *Client) readLoop(ctx context.Context, conn wsConn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
				if c.cancel != nil {
					c.cancel()
					c.cancel = nil
				}
			}
			c.mu.Unlock()
			if current {
				c.logger.Warn("push link lost", zap.Error(err))
				c.notify(LinkEvent{State: LinkDisconnected, Reason: err.Error()})
			}
			return
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			c.logger.Warn("dropping malformed push frame", zap.Error(err))
			continue
		}
		for _, h := range c.handlers.Snapshot() {
			h(env)
		}
	}
}

func (c *Client) notify(evt LinkEvent) {
	for _, l := range c.links.Snapshot() {
		l(evt)
	}
}

// Send writes payload to destination. It returns false when the link is
// down or the write fails; nothing is buffered.
func (c *Client) Send(destination string, payload *Envelope) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	data, err := json.Marshal(Frame{Destination: destination, Body: payload})
	if err != nil {
		c.logger.Error("encode push frame", zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Warn("push send failed", zap.String("destination", destination), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) self() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SendChatMessage sends a CHAT envelope carrying localID so the echo can be
// matched to the optimistic copy.
func (c *Client) SendChatMessage(counterpartID int64, conversationID, content, localID string) bool {
	return c.Send(DestChat, &Envelope{
		Type:           Chat,
		SenderID:       c.self(),
		ReceiverID:     counterpartID,
		Content:        content,
		Timestamp:      wire.NewTime(time.Now().UTC()),
		ConversationID: conversationID,
		ID:             localID,
	})
}

// SendTyping announces that the local user started or stopped typing.
func (c *Client) SendTyping(counterpartID int64, conversationID string, typing bool) bool {
	t := Typing
	if !typing {
		t = StopTyping
	}
	return c.Send(DestTyping, &Envelope{
		Type:           t,
		SenderID:       c.self(),
		ReceiverID:     counterpartID,
		Timestamp:      wire.NewTime(time.Now().UTC()),
		ConversationID: conversationID,
	})
}

// SendRead tells counterpartID that the local user has read the conversation.
func (c *Client) SendRead(counterpartID int64, conversationID string) bool {
	return c.Send(DestRead, &Envelope{
		Type:           Read,
		SenderID:       c.self(),
		ReceiverID:     counterpartID,
		Timestamp:      wire.NewTime(time.Now().UTC()),
		ConversationID: conversationID,
	})
}

// RegisterMessageHandler installs fn under key, replacing any handler
// already registered under that key.
func (c *Client) RegisterMessageHandler(key string, fn MessageHandler) {
	if c.handlers.Register(key, fn) {
		c.logger.Debug("message handler replaced", zap.String("key", key))
	}
}

// UnregisterMessageHandler removes the handler under key.
func (c *Client) UnregisterMessageHandler(key string) {
	c.handlers.Unregister(key)
}

// RegisterLinkListener installs fn under key, replacing any listener
// already registered under that key.
func (c *Client) RegisterLinkListener(key string, fn LinkListener) {
	c.links.Register(key, fn)
}

// UnregisterLinkListener removes the listener under key.
func (c *Client) UnregisterLinkListener(key string) {
	c.links.Unregister(key)
}
