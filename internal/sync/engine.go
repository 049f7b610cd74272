package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/connections"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned by user actions before a session is running.
	ErrNotStarted = errors.New("sync: session not started")
	// ErrNotAuthenticated means there is no usable stored login.
	ErrNotAuthenticated = errors.New("sync: not authenticated")
	// ErrEmptyMessage rejects sends with blank content.
	ErrEmptyMessage = errors.New("sync: empty message")
	// ErrInvalidCounterpart rejects actions targeting nobody or the local user.
	ErrInvalidCounterpart = errors.New("sync: invalid counterpart")
	// ErrUnknownConversation is returned for counterparts with no conversation.
	ErrUnknownConversation = errors.New("sync: unknown conversation")
)

// Backend is the REST surface the engine depends on.
type Backend interface {
	connections.Remote
	Login(ctx context.Context, email, password string) (backend.Credentials, error)
	CheckSession(ctx context.Context) backend.SessionState
	ListConversations(ctx context.Context, user int64) ([]conversation.Conversation, error)
	FetchHistory(ctx context.Context, conversationID string) ([]conversation.Message, error)
	MarkRead(ctx context.Context, reader, counterpart int64) error
	CreateConversation(ctx context.Context, user, other int64) error
}

// Link is the push transport the engine drives.
type Link interface {
	Connect(ctx context.Context, userID int64, token string) error
	Disconnect()
	Connected() bool
	SendChatMessage(counterpartID int64, conversationID, content, localID string) bool
	SendTyping(counterpartID int64, conversationID string, typing bool) bool
	SendRead(counterpartID int64, conversationID string) bool
	RegisterMessageHandler(key string, fn transport.MessageHandler)
	UnregisterMessageHandler(key string)
	RegisterLinkListener(key string, fn transport.LinkListener)
	UnregisterLinkListener(key string)
}

// Options tunes the engine.
type Options struct {
	DuplicateWindow     time.Duration
	TypingTTL           time.Duration
	ReconnectMaxElapsed time.Duration
	HydrateConcurrency  int
}

const (
	handlerKey                 = "engine"
	defaultReconnectMaxElapsed = 2 * time.Minute
	defaultHydrateConcurrency  = 4
)

// scope is the per-login state. It is created when a session starts and
// dropped when it ends, so nothing leaks from one user to the next.
type scope struct {
	self     int64
	name     string
	store    *conversation.Store
	rec      *Reconciler
	presence *presence.Tracker
	conns    *connections.Cache
}

// Engine runs the synchronization session: it seeds state from REST
// snapshots, folds push events into the conversation store through the
// reconciler and turns user actions into optimistic updates plus sends.
type Engine struct {
	api     Backend
	link    Link
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	opts    Options

	lifecycle stdsync.Mutex
	current   atomic.Pointer[scope]
}

// NewEngine creates an engine and installs its push handlers on link.
func NewEngine(api Backend, link Link, db *store.DB, b *bus.Bus, machine *status.Machine, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = conversation.DefaultDuplicateWindow
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = presence.DefaultTypingTTL
	}
	if opts.ReconnectMaxElapsed <= 0 {
		opts.ReconnectMaxElapsed = defaultReconnectMaxElapsed
	}
	if opts.HydrateConcurrency <= 0 {
		opts.HydrateConcurrency = defaultHydrateConcurrency
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	e := &Engine{
		api:     api,
		link:    link,
		db:      db,
		bus:     b,
		machine: machine,
		logger:  logger,
		opts:    opts,
	}
	link.RegisterMessageHandler(handlerKey, e.handleEnvelope)
	link.RegisterLinkListener(handlerKey, e.handleLink)
	return e
}

// Start resumes the stored session: it validates the token, seeds the
// conversation and connection snapshots and opens the push link.
func (e *Engine) Start(ctx context.Context) error {
	creds, err := e.db.LoadCredentials()
	if err != nil {
		e.transition(status.Error, err.Error())
		return fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		e.transition(status.AuthRequired, "no stored credentials")
		return ErrNotAuthenticated
	}

	switch st := e.api.CheckSession(ctx); st {
	case backend.Invalid:
		if err := e.db.ClearCredentials(); err != nil {
			e.logger.Error("failed to clear rejected credentials", zap.Error(err))
		}
		e.transition(status.AuthRequired, "session rejected by backend")
		return ErrNotAuthenticated
	case backend.NotAuthenticated:
		e.transition(status.AuthRequired, "no token")
		return ErrNotAuthenticated
	}
	return e.begin(ctx, *creds)
}

// Login exchanges credentials for a token, stores it and starts a session.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	res, err := e.api.Login(ctx, email, password)
	if err != nil {
		e.transition(status.AuthRequired, "login failed")
		return err
	}
	creds := store.Credentials{Token: res.Token, UserID: res.UserID, Name: res.Name}
	if err := e.db.SaveCredentials(creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return e.begin(ctx, creds)
}

// Logout ends the session and forgets the stored token.
func (e *Engine) Logout() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.teardown()
	e.link.Disconnect()
	e.transition(status.AuthRequired, "logged out")
	if err := e.db.ClearCredentials(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Stop ends the session but keeps the stored token.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.teardown()
	e.link.Disconnect()
	e.link.UnregisterMessageHandler(handlerKey)
	e.link.UnregisterLinkListener(handlerKey)
}

func (e *Engine) begin(ctx context.Context, creds store.Credentials) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.teardown()
	e.link.Disconnect()
	sc := e.newScope(creds)
	e.current.Store(sc)
	e.logger.Info("session started", zap.Int64("user_id", sc.self))

	e.transition(status.Seeding, "")
	if err := e.seed(ctx, sc); err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			e.teardown()
			e.transition(status.AuthRequired, "snapshot rejected")
			return ErrNotAuthenticated
		}
		e.logger.Warn("initial snapshot failed; continuing with an empty store", zap.Error(err))
	}
	return e.connect(ctx, sc)
}

func (e *Engine) newScope(creds store.Credentials) *scope {
	st := conversation.NewStore(creds.UserID, conversation.WithDuplicateWindow(e.opts.DuplicateWindow))
	sc := &scope{
		self:  creds.UserID,
		name:  creds.Name,
		store: st,
		rec:   NewReconciler(st, e.logger.Named("reconciler")),
		conns: connections.New(e.api, e.logger.Named("connections")),
	}
	sc.presence = presence.NewTracker(st, e.opts.TypingTTL, func(id int64) {
		e.conversationUpdated(sc, id)
	})
	sc.conns.SetShellCreator(e)
	return sc
}

func (e *Engine) teardown() {
	if sc := e.current.Swap(nil); sc != nil {
		sc.presence.Stop()
		e.logger.Info("session ended", zap.Int64("user_id", sc.self))
	}
}

// seed merges the conversation and connection snapshots into sc.
func (e *Engine) seed(ctx context.Context, sc *scope) error {
	convs, err := e.api.ListConversations(ctx, sc.self)
	if err != nil {
		return fmt.Errorf("conversation snapshot: %w", err)
	}
	if e.current.Load() != sc {
		return ErrNotStarted
	}
	sc.store.MergeSnapshot(convs)
	for _, c := range convs {
		e.rememberProfile(store.Profile{UserID: c.Counterpart.ID, Name: c.Counterpart.Name, Avatar: c.Counterpart.Avatar})
	}
	e.restoreProfiles(sc)

	conns, err := e.api.ListConnections(ctx, sc.self)
	if err != nil {
		e.logger.Warn("connection snapshot failed", zap.Error(err))
	} else {
		sc.conns.Seed(sc.self, conns)
	}

	if err := e.db.SetCheckpoint(store.CheckpointSnapshotAt, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		e.logger.Warn("failed to record snapshot checkpoint", zap.Error(err))
	}
	e.logger.Info("snapshot merged", zap.Int("conversations", len(convs)), zap.Int("connections", len(conns)))
	e.conversationUpdated(sc, 0)
	return nil
}

func (e *Engine) connect(ctx context.Context, sc *scope) error {
	e.transition(status.Connecting, "")
	token, err := e.db.Token()
	if err != nil {
		e.transition(status.Offline, "token unavailable")
		return fmt.Errorf("read token: %w", err)
	}
	if err := e.link.Connect(ctx, sc.self, token); err != nil {
		e.transition(status.Offline, err.Error())
		return fmt.Errorf("connect push link: %w", err)
	}
	return nil
}

// Reconnect reopens a lost push link with exponential backoff, then
// re-merges the snapshot to catch up on anything missed while offline.
func (e *Engine) Reconnect(ctx context.Context) error {
	sc, err := e.scope()
	if err != nil {
		return err
	}
	if e.link.Connected() {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = e.opts.ReconnectMaxElapsed
	op := func() error {
		if e.current.Load() != sc {
			return backoff.Permanent(ErrNotStarted)
		}
		return e.connect(ctx, sc)
	}
	notify := func(err error, next time.Duration) {
		e.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return err
	}

	if err := e.refresh(ctx, sc); err != nil {
		e.logger.Warn("catch-up after reconnect failed", zap.Error(err))
	}
	return nil
}

func (e *Engine) handleLink(evt transport.LinkEvent) {
	sc := e.current.Load()
	switch evt.State {
	case transport.LinkConnected:
		e.bus.Emit(bus.KindLinkConnected, bus.LinkPayload{})
		if sc == nil {
			return
		}
		e.transition(status.Live, "")
		if err := e.db.SetCheckpoint(store.CheckpointLiveAt, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
			e.logger.Warn("failed to record live checkpoint", zap.Error(err))
		}
	case transport.LinkDisconnected:
		e.bus.Emit(bus.KindLinkDisconnected, bus.LinkPayload{Reason: evt.Reason})
		if sc == nil {
			return
		}
		e.transition(status.Offline, evt.Reason)
	}
}

func (e *Engine) scope() (*scope, error) {
	sc := e.current.Load()
	if sc == nil {
		return nil, ErrNotStarted
	}
	return sc, nil
}

func (e *Engine) transition(to status.State, reason string) {
	if err := e.machine.TransitionWithReason(to, reason); err != nil {
		e.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func (e *Engine) conversationUpdated(sc *scope, counterpartID int64) {
	p := bus.ConversationPayload{CounterpartID: counterpartID}
	if counterpartID != 0 {
		p.ConversationID = conversation.ID(sc.self, counterpartID)
	}
	e.bus.Emit(bus.KindConversationUpdated, p)
}

func (e *Engine) rememberProfile(p store.Profile) {
	if p.UserID == 0 || p.Name == "" {
		return
	}
	if err := e.db.UpsertProfile(p); err != nil {
		e.logger.Warn("failed to cache profile", zap.Int64("user_id", p.UserID), zap.Error(err))
	}
}

// restoreProfiles offers the names learned in earlier runs to the store;
// the name heuristic keeps whichever is better.
func (e *Engine) restoreProfiles(sc *scope) {
	profiles, err := e.db.ListProfiles()
	if err != nil {
		e.logger.Warn("failed to load cached profiles", zap.Error(err))
		return
	}
	for _, p := range profiles {
		sc.store.RenameCounterpart(p.UserID, p.Name)
	}
}
