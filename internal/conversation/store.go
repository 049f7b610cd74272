package conversation

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// DefaultDuplicateWindow is the tolerance used to treat two messages with the
// same sender and content as one logical message.
const DefaultDuplicateWindow = 5 * time.Second

// Store is the in-memory table of conversations keyed by counterpart user ID.
// Every exported method runs as a single locked read-compute-write step, so
// callers may interleave them freely.
type Store struct {
	mu     sync.Mutex
	self   int64
	window time.Duration
	convs  map[int64]*Conversation
	order  []int64
	active int64

	superseded map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithDuplicateWindow overrides DefaultDuplicateWindow.
func WithDuplicateWindow(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.window = d
		}
	}
}

// NewStore creates an empty store for the local user self.
func NewStore(self int64, opts ...Option) *Store {
	s := &Store{
		self:   self,
		window: DefaultDuplicateWindow,
		convs:  make(map[int64]*Conversation),

		superseded: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Self returns the local user ID.
func (s *Store) Self() int64 { return s.self }

// DuplicateWindow returns the configured duplicate-detection tolerance.
func (s *Store) DuplicateWindow() time.Duration { return s.window }

// MergeSnapshot folds a REST conversation list into the store without
// regressing names, history, summaries or unread counts.
func (s *Store) MergeSnapshot(incoming []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range incoming {
		in := incoming[i]
		id := in.Counterpart.ID
		if id == 0 || id == s.self {
			continue
		}
		ex, ok := s.convs[id]
		if !ok {
			c := in.clone()
			for j := range c.Messages {
				c.Messages[j].ID = messageID(c.Messages[j])
			}
			c.Counterpart.Name = BetterName(FallbackName(id), in.Counterpart.Name)
			c.Unread = max(c.Unread, 0)
			c.Typing = false
			c.Hydrated = len(c.Messages) > 0
			if s.active == id {
				s.markActive(&c)
			}
			sortMessages(c.Messages)
			s.convs[id] = &c
			continue
		}

		ex.Counterpart.Name = BetterName(ex.Counterpart.Name, in.Counterpart.Name)
		if in.Counterpart.Avatar != "" {
			ex.Counterpart.Avatar = in.Counterpart.Avatar
		}
		ex.Counterpart.Online = in.Counterpart.Online
		if len(in.Messages) > 0 {
			pending := provisionalIDs(ex)
			s.mergeMessages(ex, in.Messages)
			s.noteSuperseded(ex, pending)
			ex.Hydrated = true
		}
		ex.Last = newerSummary(ex.Last, in.Last)
		ex.Unread = max(ex.Unread, in.Unread, 0)
		if s.active == id {
			s.markActive(ex)
		}
	}
	s.resort()
}

// UpsertMessage appends m to the conversation with counterpartID, replacing
// any message with the same ID, and creates the conversation if needed.
func (s *Store) UpsertMessage(counterpartID int64, m Message) {
	s.Apply(counterpartID, func(c *Conversation, active bool) {
		if i := c.IndexOf(m.ID); i >= 0 {
			c.Replace(i, m, s.self, active)
			return
		}
		c.Append(m, s.self, active)
	})
}

// MergeHistory folds a fetched history into the conversation and marks it
// hydrated. History records supersede matching provisional copies.
func (s *Store) MergeHistory(counterpartID int64, msgs []Message) {
	s.Apply(counterpartID, func(c *Conversation, _ bool) {
		s.mergeMessages(c, msgs)
		c.Hydrated = true
	})
}

// Apply runs fn against the conversation with counterpartID inside the store
// lock, creating the conversation if it does not exist. Messages and the
// conversation list are re-sorted afterwards.
func (s *Store) Apply(counterpartID int64, fn func(c *Conversation, active bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureLocked(counterpartID)
	pending := provisionalIDs(c)
	fn(c, s.active == counterpartID)
	s.noteSuperseded(c, pending)
	c.Unread = max(c.Unread, 0)
	if s.active == counterpartID {
		c.Unread = 0
	}
	sortMessages(c.Messages)
	s.resort()
}

// Ensure creates a conversation shell for p when none exists, or refreshes
// the counterpart profile of an existing one.
func (s *Store) Ensure(p Profile) {
	if p.ID == 0 || p.ID == s.self {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[p.ID]
	if !ok {
		c = s.ensureLocked(p.ID)
		c.Messages = append(c.Messages, Message{
			ID:             placeholderPrefix + ID(s.self, p.ID),
			Content:        PlaceholderText,
			SenderID:       p.ID,
			ReceiverID:     s.self,
			ConversationID: ID(s.self, p.ID),
			System:         true,
		})
	}
	c.Counterpart.Name = BetterName(c.Counterpart.Name, p.Name)
	if p.Avatar != "" {
		c.Counterpart.Avatar = p.Avatar
	}
	s.resort()
}

// RenameCounterpart offers a new display name; it is kept only when it is
// better than the current one.
func (s *Store) RenameCounterpart(counterpartID int64, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[counterpartID]
	if !ok {
		return false
	}
	next := BetterName(c.Counterpart.Name, name)
	if next == c.Counterpart.Name {
		return false
	}
	c.Counterpart.Name = next
	return true
}

// SetActive selects the conversation with counterpartID, zeroing its unread
// count and marking the last message read. The previously active
// conversation keeps its loaded history.
func (s *Store) SetActive(counterpartID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureLocked(counterpartID)
	s.active = counterpartID
	s.markActive(c)
	s.resort()
}

// ClearActive deselects the active conversation, if any.
func (s *Store) ClearActive() {
	s.mu.Lock()
	s.active = 0
	s.mu.Unlock()
}

// Active returns the counterpart ID of the selected conversation, or 0.
func (s *Store) Active() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ApplyReadReceipt records that fromUserID has read the local user's
// messages. Returns false when no such conversation exists.
func (s *Store) ApplyReadReceipt(fromUserID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[fromUserID]
	if !ok {
		return false
	}
	if c.Last != nil {
		c.Last.Read = true
	}
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.SenderID == s.self && !m.System {
			m.Read = true
		}
	}
	return true
}

// SetTyping sets the transient typing flag of an existing conversation.
func (s *Store) SetTyping(counterpartID int64, typing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[counterpartID]
	if !ok || c.Typing == typing {
		return false
	}
	c.Typing = typing
	return true
}

// SetOnline sets the counterpart online flag of an existing conversation.
func (s *Store) SetOnline(counterpartID int64, online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[counterpartID]
	if !ok || c.Counterpart.Online == online {
		return false
	}
	c.Counterpart.Online = online
	return true
}

// Get returns a copy of the conversation with counterpartID.
func (s *Store) Get(counterpartID int64) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[counterpartID]
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

// List returns copies of all conversations, most recent activity first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convs[id].clone())
	}
	return out
}

// Phase reports where the conversation with counterpartID is in its lifecycle.
func (s *Store) Phase(counterpartID int64) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[counterpartID]
	switch {
	case !ok:
		return Uninitialized
	case s.active == counterpartID:
		return Active
	case c.Hydrated:
		return Hydrated
	default:
		return SummaryOnly
	}
}

func (s *Store) ensureLocked(counterpartID int64) *Conversation {
	c, ok := s.convs[counterpartID]
	if ok {
		return c
	}
	c = &Conversation{Counterpart: Profile{ID: counterpartID, Name: FallbackName(counterpartID)}}
	s.convs[counterpartID] = c
	return c
}

func (s *Store) markActive(c *Conversation) {
	c.Unread = 0
	if c.Last != nil {
		c.Last.Read = true
	}
}

// mergeMessages unions incoming into c. An incoming message replaces an
// existing one with the same ID, or an existing non-durable copy from the
// same sender with the same content inside the duplicate window.
func (s *Store) mergeMessages(c *Conversation, incoming []Message) {
	active := s.active == c.Counterpart.ID
	for _, m := range incoming {
		m.ID = messageID(m)
		i := c.IndexOf(m.ID)
		if i < 0 && IsDurable(m.ID) {
			i = c.FindSimilar(m.SenderID, m.Content, m.Timestamp, s.window, func(ex Message) bool {
				return !IsDurable(ex.ID)
			})
		}
		if i < 0 {
			c.Append(m, s.self, active)
			continue
		}
		m.Read = m.Read || c.Messages[i].Read
		if IsDurable(m.ID) {
			m.LocalOrigin = false
		}
		c.Replace(i, m, s.self, active)
	}
}

// Resolve reports what became of the optimistic message localID sent to
// counterpartID during this store's lifetime.
func (s *Store) Resolve(counterpartID int64, localID string) LocalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.superseded[localID]; ok {
		return LocalSuperseded
	}
	if c, ok := s.convs[counterpartID]; ok && c.IndexOf(localID) >= 0 {
		return LocalPending
	}
	return LocalUnknown
}

func provisionalIDs(c *Conversation) []string {
	var ids []string
	for _, m := range c.Messages {
		if IsProvisional(m.ID) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// noteSuperseded records every ID in pending that no longer names a message
// in c. Provisional copies only leave a conversation when a durable copy
// takes their place.
func (s *Store) noteSuperseded(c *Conversation, pending []string) {
	for _, id := range pending {
		if c.IndexOf(id) < 0 {
			s.superseded[id] = struct{}{}
		}
	}
}

func (s *Store) resort() {
	s.order = s.order[:0]
	for id := range s.convs {
		s.order = append(s.order, id)
	}
	slices.SortFunc(s.order, func(a, b int64) int {
		ta, tb := s.convs[a].lastActivity(), s.convs[b].lastActivity()
		switch {
		case ta.After(tb):
			return -1
		case tb.After(ta):
			return 1
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	})
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func newerSummary(existing, incoming *Summary) *Summary {
	switch {
	case incoming == nil:
		return existing
	case existing == nil || incoming.Timestamp.After(existing.Timestamp):
		in := *incoming
		return &in
	case incoming.Timestamp.Equal(existing.Timestamp):
		ex := *existing
		ex.Read = ex.Read || incoming.Read
		return &ex
	default:
		return existing
	}
}
