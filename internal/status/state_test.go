package status

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, AuthRequired},
		{Booting, Seeding},
		{Booting, Error},
		{AuthRequired, Seeding},
		{Seeding, Connecting},
		{Connecting, Live},
		{Live, Offline},
		{Offline, Connecting},
		{Live, AuthRequired},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Live},
		{AuthRequired, Connecting},
		{Seeding, Live},
		{Error, Live},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want unchanged %s", m.Current(), tt.from)
			}
		})
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	walkTo(t, m, Offline)
	for len(ch) > 0 {
		<-ch
	}
	if err := m.TransitionWithReason(Offline, "still down"); err != nil {
		t.Fatal(err)
	}
	if m.Reason() != "still down" {
		t.Errorf("reason = %q", m.Reason())
	}
	if len(ch) != 0 {
		t.Errorf("self transition published %d events", len(ch))
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.TransitionWithReason(AuthRequired, "no token"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindStatusChanged {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Booting || change.To != AuthRequired || change.Reason != "no token" {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

// TestReturningSessionLifecycle covers a session that already holds a token:
// BOOTING -> SEEDING -> CONNECTING -> LIVE
func TestReturningSessionLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{Seeding, Connecting, Live} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestLinkDropAndRecover covers LIVE -> OFFLINE -> CONNECTING -> LIVE.
func TestLinkDropAndRecover(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Live)
	for _, s := range []State{Offline, Connecting, Live} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		AuthRequired: {AuthRequired},
		Seeding:      {Seeding},
		Connecting:   {Seeding, Connecting},
		Live:         {Seeding, Connecting, Live},
		Offline:      {Seeding, Connecting, Live, Offline},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
