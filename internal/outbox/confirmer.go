package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Resolver looks up whether an optimistic send has a durable copy yet.
type Resolver interface {
	Hydrate(ctx context.Context, counterpartID int64) error
	Resolve(counterpartID int64, localID string) conversation.LocalState
}

// Options tunes the confirmer. Grace is how old a send must be before its
// first check; zero checks immediately.
type Options struct {
	Interval    time.Duration
	Grace       time.Duration
	MaxAttempts int
}

// DefaultGrace leaves the backend time to persist a message before the
// first history check.
const DefaultGrace = time.Second

const (
	defaultInterval    = 2 * time.Second
	defaultMaxAttempts = 5
)

// Confirmer watches messages handed to the push link and confirms each one
// once the backend history holds a durable copy. Sends that never show up
// are marked unconfirmed.
type Confirmer struct {
	db       *store.DB
	resolver Resolver
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewConfirmer creates a confirmer reading the outbox in db.
func NewConfirmer(db *store.DB, resolver Resolver, b *bus.Bus, logger *zap.Logger, opts Options) *Confirmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Confirmer{
		db:       db,
		resolver: resolver,
		bus:      b,
		logger:   logger,
		opts:     opts,
	}
}

// Start begins polling the outbox.
func (c *Confirmer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
}

// Stop stops the polling loop and waits for the current pass to finish.
func (c *Confirmer) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
}

func (c *Confirmer) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.ConfirmPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ConfirmPending runs one pass over sent messages. Each counterpart's
// history is fetched at most once per pass.
func (c *Confirmer) ConfirmPending(ctx context.Context) {
	entries, err := c.db.SendsByStatus(store.SendSent)
	if err != nil {
		c.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-c.opts.Grace).UnixMilli()
	fetched := make(map[int64]error)
	for _, entry := range entries {
		if entry.CreatedAt > cutoff {
			continue
		}
		herr, ok := fetched[entry.CounterpartID]
		if !ok {
			herr = c.resolver.Hydrate(ctx, entry.CounterpartID)
			fetched[entry.CounterpartID] = herr
		}
		if errors.Is(herr, context.Canceled) {
			return
		}
		if herr != nil {
			c.logger.Warn("history fetch for confirmation failed",
				zap.Int64("counterpart_id", entry.CounterpartID), zap.Error(herr))
			c.retry(entry)
			continue
		}
		switch c.resolver.Resolve(entry.CounterpartID, entry.LocalID) {
		case conversation.LocalSuperseded:
			c.confirm(entry)
		case conversation.LocalPending:
			c.retry(entry)
		default:
			c.fail(entry, "local copy lost before confirmation")
		}
	}
}

func (c *Confirmer) confirm(entry store.OutboxEntry) {
	if err := c.db.MarkSend(entry.LocalID, store.SendConfirmed, "", ""); err != nil {
		c.logger.Error("failed to mark confirmed", zap.String("local_id", entry.LocalID), zap.Error(err))
		return
	}
	c.logger.Info("message confirmed", zap.String("local_id", entry.LocalID))
	c.bus.Emit(bus.KindMessageConfirmed, bus.MessagePayload{
		CounterpartID: entry.CounterpartID,
		MessageID:     entry.LocalID,
		Outcome:       string(store.SendConfirmed),
	})
}

func (c *Confirmer) retry(entry store.OutboxEntry) {
	n, err := c.db.BumpSendAttempts(entry.LocalID)
	if err != nil {
		c.logger.Error("failed to bump attempts", zap.String("local_id", entry.LocalID), zap.Error(err))
		return
	}
	if n < c.opts.MaxAttempts {
		return
	}

	c.fail(entry, fmt.Sprintf("no durable copy after %d checks", n))
}

// fail marks entry unconfirmed. Its fate cannot be learned any more.
func (c *Confirmer) fail(entry store.OutboxEntry, reason string) {
	if err := c.db.MarkSend(entry.LocalID, store.SendUnconfirmed, "", reason); err != nil {
		c.logger.Error("failed to mark unconfirmed", zap.String("local_id", entry.LocalID), zap.Error(err))
		return
	}
	c.logger.Warn("message unconfirmed", zap.String("local_id", entry.LocalID), zap.String("reason", reason))
	c.bus.Emit(bus.KindMessageSendFailed, bus.MessagePayload{
		CounterpartID: entry.CounterpartID,
		MessageID:     entry.LocalID,
		Outcome:       string(store.SendUnconfirmed),
	})
}
