package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is a position in the session lifecycle.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Seeding      State = "SEEDING"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Offline      State = "OFFLINE"
	Error        State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Seeding, Error},
	AuthRequired: {Seeding, Error},
	Seeding:      {Connecting, AuthRequired, Offline, Error},
	Connecting:   {Live, Offline, AuthRequired, Error},
	Live:         {Offline, Seeding, AuthRequired, Error},
	Offline:      {Connecting, Seeding, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks the session state and rejects transitions the lifecycle
// does not allow.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
	bus     *bus.Bus
}

// NewMachine creates a machine in the Booting state. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reason returns the reason recorded with the latest transition.
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition moves to the given state.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithReason(to, "")
}

// TransitionWithReason moves to the given state, recording why. Moving to
// the current state is a no-op.
func (m *Machine) TransitionWithReason(to State, reason string) error {
	m.mu.Lock()
	if m.current == to {
		m.reason = reason
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.reason = reason
	m.mu.Unlock()

	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to, Reason: reason})
	return nil
}

// StatusChange is the payload of session.status_changed events.
type StatusChange struct {
	From   State
	To     State
	Reason string
}
