package daemon

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Dir         string // optional session directory override; empty = ~/.chatsync/sessions/<name>
	Config      *config.Config
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.SessionName)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return filepath.Join(p.dir(), filepath.Base(session.SocketPath(p.SessionName)))
}

func (p Params) dbPath() string {
	return filepath.Join(p.dir(), filepath.Base(session.AppDBPath(p.SessionName)))
}

func (p Params) logPath() string {
	return filepath.Join(p.dir(), "logs", filepath.Base(session.LogPath(p.SessionName)))
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideTransport,
			provideEngine,
			provideConfirmer,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    p.logPath(),
		Session: p.SessionName,
		Level:   cfg.LogLevel,
		Console: true,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore takes the lock so the database is only opened by its holder.
func provideStore(p Params, logger *zap.Logger, _ *lock.Lock) (*store.DB, error) {
	dbPath := p.dbPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackend(cfg *config.Config, db *store.DB, logger *zap.Logger) *backend.Client {
	return backend.New(backend.Options{
		BaseURL:             cfg.Backend.BaseURL,
		Timeout:             cfg.Backend.Timeout.Duration,
		SessionCheckTimeout: cfg.Sync.SessionCheckTimeout.Duration,
	}, db, logger.Named("backend"))
}

func provideTransport(cfg *config.Config, logger *zap.Logger) *transport.Client {
	return transport.New(cfg.Backend.PushURL, logger.Named("transport"))
}

func provideEngine(cfg *config.Config, api *backend.Client, link *transport.Client, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(api, link, db, b, m, logger.Named("sync"), intsync.Options{
		DuplicateWindow:     cfg.Sync.DuplicateWindow.Duration,
		TypingTTL:           cfg.Sync.TypingTTL.Duration,
		ReconnectMaxElapsed: cfg.Sync.ReconnectMaxElapsed.Duration,
	})
}

func provideConfirmer(db *store.DB, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Confirmer {
	return outbox.NewConfirmer(db, engine, b, logger.Named("outbox"), outbox.Options{Grace: outbox.DefaultGrace})
}

func provideService(p Params, engine *intsync.Engine, b *bus.Bus, db *store.DB, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, engine, b, db, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock, db *store.DB, engine *intsync.Engine, confirmer *outbox.Confirmer, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	var sup *supervisor
	if cfg.Sync.AutoReconnect {
		sup = newSupervisor(engine, b, logger.Named("supervisor"))
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			sup.Start(ctx)
			confirmer.Start(ctx)

			// Resume the stored session without blocking startup; the
			// status machine reports progress.
			go func() {
				err := engine.Start(ctx)
				switch {
				case err == nil:
				case errors.Is(err, intsync.ErrNotAuthenticated):
					logger.Info("no usable credentials, auth required")
				default:
					logger.Warn("session start incomplete", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			confirmer.Stop()
			sup.Stop()
			engine.Stop()
			srv.Stop(stopCtx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
