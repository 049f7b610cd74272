package daemon

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// reconnector is the part of the engine the supervisor drives.
type reconnector interface {
	Reconnect(ctx context.Context) error
}

// supervisor reopens the push link whenever the session drops to OFFLINE.
// While one reconnect runs, further OFFLINE transitions are ignored; once
// it gives up the session stays offline until a caller asks again. It only
// runs when sync.auto_reconnect is set; a nil supervisor does nothing.
type supervisor struct {
	engine  reconnector
	bus     *bus.Bus
	logger  *zap.Logger
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSupervisor(engine reconnector, b *bus.Bus, logger *zap.Logger) *supervisor {
	return &supervisor{engine: engine, bus: b, logger: logger}
}

func (s *supervisor) Start(ctx context.Context) {
	if s == nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ch, unsub := s.bus.Subscribe(bus.KindStatusChanged, 16)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Offline {
					s.reconnect(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *supervisor) reconnect(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.running.Store(false)
		s.logger.Info("push link offline, reconnecting")
		err := s.engine.Reconnect(ctx)
		switch {
		case err == nil:
			s.logger.Info("push link restored")
		case errors.Is(err, intsync.ErrNotStarted), errors.Is(err, context.Canceled):
		default:
			s.logger.Warn("reconnect gave up", zap.Error(err))
		}
	}()
}

func (s *supervisor) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
