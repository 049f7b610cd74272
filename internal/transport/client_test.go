package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

// pushServer is a minimal push endpoint: it acknowledges the upgrade, records
// inbound frames and lets the test push envelopes to the connected client.
type pushServer struct {
	t        *testing.T
	srv      *httptest.Server
	ack      string
	upgrades atomic.Int32

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan Frame
	ready  chan struct{}
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		t:      t,
		ack:    `{"type":"CONNECTED"}`,
		frames: make(chan Frame, 16),
		ready:  make(chan struct{}, 4),
	}
	ps.srv = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http") + "/ws"
}

func (ps *pushServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("userId") == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	ps.upgrades.Add(1)
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte(ps.ack)); err != nil {
		return
	}
	ps.mu.Lock()
	ps.conn = conn
	ps.mu.Unlock()
	ps.ready <- struct{}{}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err == nil {
			ps.frames <- f
		}
	}
}

func (ps *pushServer) push(env Envelope) {
	ps.t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		ps.t.Fatal(err)
	}
	ps.mu.Lock()
	conn := ps.conn
	ps.mu.Unlock()
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		ps.t.Fatal(err)
	}
}

func (ps *pushServer) dropClient() {
	ps.mu.Lock()
	conn := ps.conn
	ps.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "server restart")
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
	var zero T
	return zero
}

func TestConnectAndReceive(t *testing.T) {
	ps := newPushServer(t)
	c := New(ps.url(), nil)
	defer c.Disconnect()

	got := make(chan Envelope, 4)
	c.RegisterMessageHandler("chat", func(e Envelope) { got <- e })

	links := make(chan LinkEvent, 4)
	c.RegisterLinkListener("ui", func(e LinkEvent) { links <- e })

	if err := c.Connect(context.Background(), 10, "tok"); err != nil {
		t.Fatal(err)
	}
	if evt := waitFor(t, links); evt.State != LinkConnected {
		t.Errorf("link = %v, want CONNECTED", evt.State)
	}
	waitFor(t, ps.ready)

	ps.push(Envelope{Type: Chat, SenderID: 20, ReceiverID: 10, Content: "hi", SenderName: "Bailey Kim"})
	env := waitFor(t, got)
	if env.Type != Chat || env.Content != "hi" || env.SenderName != "Bailey Kim" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	ps := newPushServer(t)
	c := New(ps.url(), nil)
	defer c.Disconnect()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Connect(context.Background(), 10, "tok")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Connect(context.Background(), 10, "tok"); err != nil {
		t.Fatal(err)
	}
	if n := ps.upgrades.Load(); n != 1 {
		t.Errorf("upgrades = %d, want 1", n)
	}
}

func TestConnectRejectedHandshake(t *testing.T) {
	ps := newPushServer(t)
	ps.ack = `{"type":"ERROR"}`
	c := New(ps.url(), nil)

	if err := c.Connect(context.Background(), 10, "tok"); err == nil {
		t.Fatal("Connect succeeded without CONNECTED ack")
	}
	if c.Connected() {
		t.Error("client reports connected after failed handshake")
	}
}

func TestConnectBadToken(t *testing.T) {
	ps := newPushServer(t)
	c := New(ps.url(), nil)
	if err := c.Connect(context.Background(), 10, "wrong"); err == nil {
		t.Fatal("Connect succeeded with bad token")
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", nil)
	if c.SendChatMessage(20, "10_20", "hi", "local_1") {
		t.Error("send succeeded without a link")
	}
	c.Disconnect()
	c.Disconnect()
}

func TestSendChatMessageCarriesLocalID(t *testing.T) {
	ps := newPushServer(t)
	c := New(ps.url(), nil)
	defer c.Disconnect()
	if err := c.Connect(context.Background(), 10, "tok"); err != nil {
		t.Fatal(err)
	}

	if !c.SendChatMessage(20, "10_20", "hi", "local_123") {
		t.Fatal("send failed")
	}
	f := waitFor(t, ps.frames)
	if f.Destination != DestChat {
		t.Errorf("destination = %q", f.Destination)
	}
	if f.Body == nil || f.Body.ID != "local_123" || f.Body.SenderID != 10 || f.Body.ReceiverID != 20 {
		t.Errorf("body = %+v", f.Body)
	}

	if !c.SendTyping(20, "10_20", false) {
		t.Fatal("typing send failed")
	}
	f = waitFor(t, ps.frames)
	if f.Body.Type != StopTyping || f.Destination != DestTyping {
		t.Errorf("typing frame = %+v", f)
	}

	if !c.SendRead(20, "10_20") {
		t.Fatal("read send failed")
	}
	f = waitFor(t, ps.frames)
	if f.Body.Type != Read {
		t.Errorf("read frame = %+v", f)
	}
}

func TestLinkLossNotifiesAndAllowsReconnect(t *testing.T) {
	ps := newPushServer(t)
	c := New(ps.url(), nil)
	defer c.Disconnect()

	links := make(chan LinkEvent, 4)
	c.RegisterLinkListener("ui", func(e LinkEvent) { links <- e })

	if err := c.Connect(context.Background(), 10, "tok"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, links)
	waitFor(t, ps.ready)

	ps.dropClient()
	if evt := waitFor(t, links); evt.State != LinkDisconnected {
		t.Fatalf("link = %v, want DISCONNECTED", evt.State)
	}
	if c.Connected() {
		t.Fatal("still connected after server close")
	}
	if c.Send(DestChat, &Envelope{Type: Chat}) {
		t.Error("send succeeded on dropped link")
	}

	if err := c.Connect(context.Background(), 10, "tok"); err != nil {
		t.Fatal(err)
	}
	if evt := waitFor(t, links); evt.State != LinkConnected {
		t.Errorf("link = %v, want CONNECTED", evt.State)
	}
}

func TestHandlerReplacement(t *testing.T) {
	ps := newPushServer(t)
	c := New(ps.url(), nil)
	defer c.Disconnect()

	var first, second atomic.Int32
	got := make(chan struct{}, 4)
	c.RegisterMessageHandler("page", func(Envelope) { first.Add(1); got <- struct{}{} })
	c.RegisterMessageHandler("page", func(Envelope) { second.Add(1); got <- struct{}{} })

	if err := c.Connect(context.Background(), 10, "tok"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ps.ready)
	ps.push(Envelope{Type: Chat, SenderID: 20, Content: "x"})
	waitFor(t, got)

	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("deliveries first=%d second=%d, want 0/1", first.Load(), second.Load())
	}
}

func TestDecodeEnvelopeWrapped(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"destination":"/user/queue","body":{"type":"read","senderId":5}}`))
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != Read || env.SenderID != 5 {
		t.Errorf("env = %+v", env)
	}
	if _, err := decodeEnvelope([]byte(`not json`)); err == nil {
		t.Error("malformed frame decoded")
	}
}

// gatedConn acknowledges the handshake only once gate is closed, then
// blocks reads until it is closed itself.
type gatedConn struct {
	gate   chan struct{}
	acked  atomic.Bool
	closed chan struct{}
	once   sync.Once
}

func newGatedConn() *gatedConn {
	return &gatedConn{gate: make(chan struct{}), closed: make(chan struct{})}
}

func (g *gatedConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	if !g.acked.Load() {
		select {
		case <-g.gate:
			g.acked.Store(true)
			return websocket.MessageText, []byte(`{"type":"CONNECTED"}`), nil
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
	select {
	case <-g.closed:
		return 0, nil, errors.New("closed")
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (g *gatedConn) Write(context.Context, websocket.MessageType, []byte) error { return nil }

func (g *gatedConn) Close(websocket.StatusCode, string) error {
	g.once.Do(func() { close(g.closed) })
	return nil
}

func gatedDialer(conn *gatedConn, dialed chan struct{}) DialFunc {
	return func(context.Context, string, string) (wsConn, error) {
		dialed <- struct{}{}
		return conn, nil
	}
}

func TestDisconnectDuringHandshake(t *testing.T) {
	conn := newGatedConn()
	dialed := make(chan struct{}, 1)
	c := New("ws://push.test/ws", nil, WithDialer(gatedDialer(conn, dialed)))

	errs := make(chan error, 1)
	go func() { errs <- c.Connect(context.Background(), 10, "tok") }()
	waitFor(t, dialed)

	c.Disconnect()
	close(conn.gate)

	if err := waitFor(t, errs); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
	if c.Connected() {
		t.Error("link installed after Disconnect")
	}
	select {
	case <-conn.closed:
	default:
		t.Error("aborted connection left open")
	}
}

func TestCanceledCallerDoesNotFailSharedHandshake(t *testing.T) {
	conn := newGatedConn()
	dialed := make(chan struct{}, 1)
	c := New("ws://push.test/ws", nil, WithDialer(gatedDialer(conn, dialed)))
	defer c.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- c.Connect(ctx, 10, "tok") }()
	waitFor(t, dialed)

	second := make(chan error, 1)
	go func() { second <- c.Connect(context.Background(), 10, "tok") }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := waitFor(t, first); !errors.Is(err, context.Canceled) {
		t.Errorf("first caller err = %v, want context.Canceled", err)
	}

	close(conn.gate)
	if err := waitFor(t, second); err != nil {
		t.Fatalf("second caller err = %v", err)
	}
	if !c.Connected() {
		t.Error("shared handshake did not complete")
	}
}
