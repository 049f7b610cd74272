package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/store"
)

// fakeResolver reports sends listed in states as given and every other send
// as still pending.
type fakeResolver struct {
	mu         sync.Mutex
	states     map[string]conversation.LocalState
	hydrateErr error
	hydrated   map[int64]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{states: map[string]conversation.LocalState{}, hydrated: map[int64]int{}}
}

func (f *fakeResolver) Hydrate(_ context.Context, counterpartID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hydrated[counterpartID]++
	return f.hydrateErr
}

func (f *fakeResolver) Resolve(_ int64, localID string) conversation.LocalState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[localID]; ok {
		return st
	}
	return conversation.LocalPending
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func status(t *testing.T, db *store.DB, localID string) store.OutboxEntry {
	t.Helper()
	entries, err := db.RecentSends(100)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.LocalID == localID {
			return e
		}
	}
	t.Fatalf("no outbox entry %s", localID)
	return store.OutboxEntry{}
}

func TestConfirmPendingConfirmsDurableCopies(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	res := newFakeResolver()
	res.states["local_a"] = conversation.LocalSuperseded
	c := NewConfirmer(db, res, b, nil, Options{MaxAttempts: 3})

	ch, unsub := b.Subscribe(bus.KindMessageConfirmed, 10)
	defer unsub()

	for _, id := range []string{"local_a", "local_b"} {
		if err := db.RecordSend(id, 20, "hi", store.SendSent); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.RecordSend("local_c", 20, "offline", store.SendUnsent); err != nil {
		t.Fatal(err)
	}

	c.ConfirmPending(context.Background())

	if got := status(t, db, "local_a").Status; got != store.SendConfirmed {
		t.Errorf("local_a = %s, want confirmed", got)
	}
	if e := status(t, db, "local_b"); e.Status != store.SendSent || e.Attempts != 1 {
		t.Errorf("local_b = %+v, want sent with 1 attempt", e)
	}
	if got := status(t, db, "local_c").Status; got != store.SendUnsent {
		t.Errorf("unsent entry touched: %s", got)
	}
	if res.hydrated[20] != 1 {
		t.Errorf("hydrated 20 %d times in one pass, want 1", res.hydrated[20])
	}

	select {
	case evt := <-ch:
		if p := evt.Payload.(bus.MessagePayload); p.MessageID != "local_a" {
			t.Errorf("confirmed %s", p.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.confirmed event")
	}
}

func TestConfirmPendingGivesUp(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	c := NewConfirmer(db, newFakeResolver(), b, nil, Options{MaxAttempts: 2})

	ch, unsub := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsub()

	if err := db.RecordSend("local_a", 20, "hi", store.SendSent); err != nil {
		t.Fatal(err)
	}
	c.ConfirmPending(context.Background())
	if got := status(t, db, "local_a").Status; got != store.SendSent {
		t.Fatalf("after first pass: %s", got)
	}
	c.ConfirmPending(context.Background())

	e := status(t, db, "local_a")
	if e.Status != store.SendUnconfirmed || e.ErrorMessage == "" {
		t.Errorf("after second pass: %+v", e)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no message.send_failed event")
	}
}

func TestConfirmPendingHistoryFailureIsNotConfirmation(t *testing.T) {
	db := testDB(t)
	res := newFakeResolver()
	res.states["local_a"] = conversation.LocalSuperseded
	res.hydrateErr = errors.New("backend down")
	c := NewConfirmer(db, res, nil, nil, Options{MaxAttempts: 5})

	if err := db.RecordSend("local_a", 20, "hi", store.SendSent); err != nil {
		t.Fatal(err)
	}
	c.ConfirmPending(context.Background())

	if e := status(t, db, "local_a"); e.Status != store.SendSent || e.Attempts != 1 {
		t.Errorf("entry = %+v", e)
	}
}

func TestConfirmPendingFailsSendsUnknownToSession(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	res := newFakeResolver()
	res.states["local_old"] = conversation.LocalUnknown
	c := NewConfirmer(db, res, b, nil, Options{MaxAttempts: 5})

	confirmed, unsubConfirmed := b.Subscribe(bus.KindMessageConfirmed, 10)
	defer unsubConfirmed()
	failed, unsubFailed := b.Subscribe(bus.KindMessageSendFailed, 10)
	defer unsubFailed()

	if err := db.RecordSend("local_old", 20, "before restart", store.SendSent); err != nil {
		t.Fatal(err)
	}
	c.ConfirmPending(context.Background())

	e := status(t, db, "local_old")
	if e.Status != store.SendUnconfirmed || e.ErrorMessage == "" {
		t.Errorf("entry = %+v, want unconfirmed with a reason", e)
	}
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("no message.send_failed event")
	}
	select {
	case evt := <-confirmed:
		t.Errorf("unexpected confirmation %+v", evt)
	default:
	}
}

func TestConfirmPendingRespectsGrace(t *testing.T) {
	db := testDB(t)
	res := newFakeResolver()
	c := NewConfirmer(db, res, nil, nil, Options{Grace: time.Hour})

	if err := db.RecordSend("local_a", 20, "hi", store.SendSent); err != nil {
		t.Fatal(err)
	}
	c.ConfirmPending(context.Background())
	if res.hydrated[20] != 0 {
		t.Error("fresh send checked before its grace period")
	}
}

func TestConfirmerLoop(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	res := newFakeResolver()
	res.states["local_a"] = conversation.LocalSuperseded
	c := NewConfirmer(db, res, b, nil, Options{Interval: 20 * time.Millisecond})

	ch, unsub := b.Subscribe(bus.KindMessageConfirmed, 10)
	defer unsub()

	if err := db.RecordSend("local_a", 20, "hi", store.SendSent); err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.Stop()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never confirmed the send")
	}
}
