package presence

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing flag survives without a refresh.
const DefaultTypingTTL = 5 * time.Second

// Sink receives the flags the tracker maintains. The conversation store
// satisfies it.
type Sink interface {
	SetTyping(counterpartID int64, typing bool) bool
	SetOnline(counterpartID int64, online bool) bool
}

// Tracker holds short-lived typing and online flags driven by push events.
// Typing flags clear themselves after the TTL unless refreshed.
type Tracker struct {
	sink     Sink
	ttl      time.Duration
	onChange func(counterpartID int64)

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	gen     map[int64]uint64
	online  map[int64]bool
	stopped bool
}

// NewTracker creates a tracker writing into sink. onChange, if not nil, is
// called after any flag actually changes.
func NewTracker(sink Sink, ttl time.Duration, onChange func(counterpartID int64)) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		sink:     sink,
		ttl:      ttl,
		onChange: onChange,
		timers:   make(map[int64]*time.Timer),
		gen:      make(map[int64]uint64),
		online:   make(map[int64]bool),
	}
}

// Typing marks counterpartID as typing, or clears the flag.
func (t *Tracker) Typing(counterpartID int64, typing bool) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if old, ok := t.timers[counterpartID]; ok {
		old.Stop()
		delete(t.timers, counterpartID)
	}
	t.gen[counterpartID]++
	if typing {
		g := t.gen[counterpartID]
		t.timers[counterpartID] = time.AfterFunc(t.ttl, func() { t.expire(counterpartID, g) })
	}
	t.mu.Unlock()

	t.set(counterpartID, typing)
}

func (t *Tracker) expire(counterpartID int64, gen uint64) {
	t.mu.Lock()
	if t.stopped || t.gen[counterpartID] != gen {
		t.mu.Unlock()
		return
	}
	delete(t.timers, counterpartID)
	t.mu.Unlock()

	t.set(counterpartID, false)
}

func (t *Tracker) set(counterpartID int64, typing bool) {
	if t.sink.SetTyping(counterpartID, typing) && t.onChange != nil {
		t.onChange(counterpartID)
	}
}

// Online records a JOIN or LEAVE for counterpartID. Leaving also clears
// any typing flag.
func (t *Tracker) Online(counterpartID int64, online bool) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if online {
		t.online[counterpartID] = true
	} else {
		delete(t.online, counterpartID)
	}
	t.mu.Unlock()

	if t.sink.SetOnline(counterpartID, online) && t.onChange != nil {
		t.onChange(counterpartID)
	}
	if !online {
		t.Typing(counterpartID, false)
	}
}

// IsOnline reports whether counterpartID was last seen joining.
func (t *Tracker) IsOnline(counterpartID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[counterpartID]
}

// IsTyping reports whether counterpartID has an unexpired typing flag.
func (t *Tracker) IsTyping(counterpartID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[counterpartID]
	return ok
}

// Stop cancels pending expiries. Later events are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
