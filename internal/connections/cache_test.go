package connections

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRemote struct {
	statusErr  error
	status     State
	conns      []Connection
	connsErr   error
	pending    []Connection
	pendingErr error
	acceptErr  error
	statusGate chan struct{}

	statusCalls atomic.Int32
	listCalls   atomic.Int32
	mu          sync.Mutex
	calls       []string
}

func (f *fakeRemote) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeRemote) ConnectionStatus(ctx context.Context, user, other int64) (State, error) {
	f.statusCalls.Add(1)
	if f.statusGate != nil {
		<-f.statusGate
	}
	return f.status, f.statusErr
}

func (f *fakeRemote) ListConnections(ctx context.Context, user int64) ([]Connection, error) {
	f.listCalls.Add(1)
	return f.conns, f.connsErr
}

func (f *fakeRemote) ListPending(ctx context.Context, user int64) ([]Connection, error) {
	return f.pending, f.pendingErr
}

func (f *fakeRemote) Suggestions(ctx context.Context, user int64) ([]Suggestion, error) {
	return []Suggestion{{UserID: 5, Name: "Eve"}}, nil
}

func (f *fakeRemote) SendRequest(ctx context.Context, from, to int64) (Connection, error) {
	f.record("request")
	return Connection{ID: 77, RequesterID: from, ReceiverID: to, Status: Pending}, nil
}

func (f *fakeRemote) Accept(ctx context.Context, id int64) (Connection, error) {
	f.record("accept")
	return Connection{ID: id, Status: Connected}, f.acceptErr
}

func (f *fakeRemote) Reject(ctx context.Context, id int64) error {
	f.record("reject")
	return nil
}

func (f *fakeRemote) Remove(ctx context.Context, id int64) error {
	f.record("remove")
	return nil
}

type fakeShells struct {
	err     error
	created []int64
}

func (f *fakeShells) CreateShell(ctx context.Context, id int64) error {
	f.created = append(f.created, id)
	return f.err
}

func TestCheckDirectQueryCached(t *testing.T) {
	r := &fakeRemote{status: State{Status: Connected, ConnectionID: 9}}
	c := New(r, nil)

	if st := c.Check(context.Background(), 1, 2); st.Status != Connected || st.ConnectionID != 9 {
		t.Fatalf("state = %+v", st)
	}
	if st := c.Check(context.Background(), 2, 1); st.Status != Connected {
		t.Errorf("reversed pair state = %+v", st)
	}
	if n := r.statusCalls.Load(); n != 1 {
		t.Errorf("status calls = %d, want 1", n)
	}
}

func TestCheckFallbackChain(t *testing.T) {
	tests := []struct {
		name   string
		remote *fakeRemote
		want   State
		cached bool
	}{
		{
			name: "connection list",
			remote: &fakeRemote{
				statusErr: ErrUnsupported,
				conns:     []Connection{{ID: 3, RequesterID: 2, ReceiverID: 1}},
			},
			want:   State{Status: Connected, ConnectionID: 3},
			cached: true,
		},
		{
			name: "pending list",
			remote: &fakeRemote{
				statusErr: ErrUnsupported,
				conns:     []Connection{{ID: 3, RequesterID: 1, ReceiverID: 8}},
				pending:   []Connection{{ID: 4, RequesterID: 2, ReceiverID: 1}},
			},
			want:   State{Status: Pending, ConnectionID: 4},
			cached: true,
		},
		{
			name:   "nowhere",
			remote: &fakeRemote{statusErr: ErrUnsupported},
			want:   State{Status: None},
			cached: true,
		},
		{
			name: "every source failing",
			remote: &fakeRemote{
				statusErr:  errors.New("boom"),
				connsErr:   errors.New("boom"),
				pendingErr: errors.New("boom"),
			},
			want:   State{Status: None},
			cached: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.remote, nil)
			if got := c.Check(context.Background(), 1, 2); got != tt.want {
				t.Errorf("state = %+v, want %+v", got, tt.want)
			}
			if _, ok := c.Get(1, 2); ok != tt.cached {
				t.Errorf("cached = %v, want %v", ok, tt.cached)
			}
		})
	}
}

func TestCheckCoalescesConcurrentMisses(t *testing.T) {
	r := &fakeRemote{status: State{Status: Connected}, statusGate: make(chan struct{})}
	c := New(r, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Check(context.Background(), 1, 2)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(r.statusGate)
	wg.Wait()

	if n := r.statusCalls.Load(); n != 1 {
		t.Errorf("status calls = %d, want 1", n)
	}
}

func TestCheckSelf(t *testing.T) {
	r := &fakeRemote{}
	c := New(r, nil)
	if st := c.Check(context.Background(), 4, 4); st.Status != None {
		t.Errorf("self state = %+v", st)
	}
	if r.statusCalls.Load() != 0 {
		t.Error("self check hit the backend")
	}
}

func TestSendRequestPrechecks(t *testing.T) {
	tests := []struct {
		name string
		seed State
		want error
	}{
		{"connected", State{Status: Connected, ConnectionID: 1}, ErrAlreadyConnected},
		{"pending", State{Status: Pending, ConnectionID: 1}, ErrAlreadyPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRemote{}
			c := New(r, nil)
			c.put(1, 2, tt.seed)
			if _, err := c.SendRequest(context.Background(), 1, 2); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if len(r.calls) != 0 {
				t.Errorf("remote called: %v", r.calls)
			}
		})
	}

	c := New(&fakeRemote{}, nil)
	if _, err := c.SendRequest(context.Background(), 1, 1); !errors.Is(err, ErrSelf) {
		t.Errorf("self request err = %v", err)
	}
}

func TestSendRequestUpdatesCache(t *testing.T) {
	c := New(&fakeRemote{status: State{Status: None}}, nil)
	st, err := c.SendRequest(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != Pending || st.ConnectionID != 77 {
		t.Errorf("state = %+v", st)
	}
	if got, _ := c.Get(2, 1); got != st {
		t.Errorf("cached = %+v", got)
	}
}

func TestAcceptCreatesShell(t *testing.T) {
	r := &fakeRemote{}
	c := New(r, nil)
	shells := &fakeShells{}
	c.SetShellCreator(shells)
	c.put(1, 2, State{Status: Pending, ConnectionID: 5})

	st, err := c.Accept(context.Background(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != Connected || st.ConnectionID != 5 {
		t.Errorf("state = %+v", st)
	}
	if len(shells.created) != 1 || shells.created[0] != 2 {
		t.Errorf("shells = %v", shells.created)
	}
}

func TestAcceptSurvivesShellFailure(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	c.SetShellCreator(&fakeShells{err: errors.New("create failed")})
	c.put(1, 2, State{Status: Pending, ConnectionID: 5})

	if _, err := c.Accept(context.Background(), 1, 2); err != nil {
		t.Fatalf("accept failed because of shell: %v", err)
	}
	if st, _ := c.Get(1, 2); st.Status != Connected {
		t.Errorf("state = %+v, want CONNECTED", st)
	}
}

func TestAcceptRemoteFailureKeepsPending(t *testing.T) {
	c := New(&fakeRemote{acceptErr: errors.New("500")}, nil)
	c.put(1, 2, State{Status: Pending, ConnectionID: 5})
	if _, err := c.Accept(context.Background(), 1, 2); err == nil {
		t.Fatal("accept succeeded")
	}
	if st, _ := c.Get(1, 2); st.Status != Pending {
		t.Errorf("state = %+v, want PENDING", st)
	}
}

func TestAcceptRejectRequirePending(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	c.put(1, 2, State{Status: None})
	if _, err := c.Accept(context.Background(), 1, 2); !errors.Is(err, ErrNotPending) {
		t.Errorf("accept err = %v", err)
	}
	if _, err := c.Reject(context.Background(), 1, 2); !errors.Is(err, ErrNotPending) {
		t.Errorf("reject err = %v", err)
	}
	c.put(1, 3, State{Status: Pending})
	if _, err := c.Accept(context.Background(), 1, 3); !errors.Is(err, ErrNotPending) {
		t.Errorf("accept without id err = %v", err)
	}
}

func TestRejectAndRemove(t *testing.T) {
	r := &fakeRemote{}
	c := New(r, nil)
	c.put(1, 2, State{Status: Pending, ConnectionID: 5})
	if st, err := c.Reject(context.Background(), 1, 2); err != nil || st.Status != Rejected {
		t.Fatalf("reject = %+v, %v", st, err)
	}

	if _, err := c.Remove(context.Background(), 1, 2); !errors.Is(err, ErrNotConnected) {
		t.Errorf("remove of rejected err = %v", err)
	}

	c.put(1, 3, State{Status: Connected, ConnectionID: 6})
	if st, err := c.Remove(context.Background(), 1, 3); err != nil || st.Status != None {
		t.Fatalf("remove = %+v, %v", st, err)
	}
	if got := r.calls; len(got) != 2 || got[0] != "reject" || got[1] != "remove" {
		t.Errorf("calls = %v", got)
	}
}

func TestSeedAndInvalidate(t *testing.T) {
	r := &fakeRemote{statusErr: ErrUnsupported}
	c := New(r, nil)
	c.Seed(1, []Connection{
		{ID: 10, RequesterID: 1, ReceiverID: 2, Status: Connected},
		{ID: 11, RequesterID: 3, ReceiverID: 1},
	})
	if st := c.Check(context.Background(), 3, 1); st.Status != Connected || st.ConnectionID != 11 {
		t.Errorf("seeded state = %+v", st)
	}
	if r.statusCalls.Load() != 0 {
		t.Error("seeded pair hit the backend")
	}
	c.Invalidate(1, 2)
	if _, ok := c.Get(1, 2); ok {
		t.Error("entry survived invalidate")
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{
		"connected": Connected,
		"ACCEPTED":  Connected,
		"pending":   Pending,
		"Rejected":  Rejected,
		"weird":     None,
		"":          None,
	} {
		if got := ParseStatus(in); got != want {
			t.Errorf("ParseStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSuggestionsPassthrough(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	got, err := c.Suggestions(context.Background(), 1)
	if err != nil || len(got) != 1 || got[0].Name != "Eve" {
		t.Errorf("suggestions = %+v, %v", got, err)
	}
}
