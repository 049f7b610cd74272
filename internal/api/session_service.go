package api

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/connections"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Engine is the sync engine surface exposed over the socket.
type Engine interface {
	Status() (status.State, string)
	Self() int64
	Login(ctx context.Context, email, password string) error
	Logout() error
	Refresh(ctx context.Context) error
	Reconnect(ctx context.Context) error

	Conversations() ([]conversation.Conversation, error)
	Conversation(counterpartID int64) (conversation.Conversation, error)
	Select(ctx context.Context, counterpartID int64) error
	Deselect() error
	Send(counterpartID int64, content string) (intsync.Sent, error)
	Typing(counterpartID int64, typing bool) (bool, error)
	MarkRead(ctx context.Context, counterpartID int64) error

	CheckConnection(ctx context.Context, other int64) (connections.State, error)
	RequestConnection(ctx context.Context, other int64) (connections.State, error)
	AcceptConnection(ctx context.Context, other int64) (connections.State, error)
	RejectConnection(ctx context.Context, other int64) (connections.State, error)
	RemoveConnection(ctx context.Context, other int64) (connections.State, error)
	Suggestions(ctx context.Context) ([]connections.Suggestion, error)
}

// Service implements SyncServer on top of the sync engine.
type Service struct {
	engine      Engine
	bus         *bus.Bus
	db          *store.DB
	logger      *zap.Logger
	sessionName string
	startedAt   time.Time
}

// NewService creates the control service. db may be nil; status replies
// then omit outbox counts.
func NewService(sessionName string, engine Engine, b *bus.Bus, db *store.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:      engine,
		bus:         b,
		db:          db,
		logger:      logger,
		sessionName: sessionName,
		startedAt:   time.Now(),
	}
}

func (s *Service) status() map[string]any {
	state, reason := s.engine.Status()
	m := statusMap(state, reason, s.engine.Self())
	m["session"] = s.sessionName
	m["uptime_ms"] = time.Since(s.startedAt).Milliseconds()
	return m
}

func (s *Service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	m := s.status()
	if convs, err := s.engine.Conversations(); err == nil {
		m["conversation_count"] = len(convs)
	}
	if s.db != nil {
		sends := map[string]any{}
		for _, st := range []store.SendStatus{store.SendSent, store.SendUnsent, store.SendUnconfirmed} {
			entries, err := s.db.SendsByStatus(st)
			if err != nil {
				s.logger.Warn("failed to count outbox entries", zap.String("status", string(st)), zap.Error(err))
				continue
			}
			sends[string(st)] = len(entries)
		}
		m["sends"] = sends
		if v, err := s.db.SchemaVersion(); err == nil {
			m["schema_version"] = v
		}
	}
	return reply(m)
}

func (s *Service) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	email := strings.TrimSpace(stringField(in, "email"))
	password := stringField(in, "password")
	if email == "" || password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "email and password are required")
	}
	err := s.engine.Login(ctx, email, password)
	if err != nil && s.engine.Self() == 0 {
		return nil, toStatus(err)
	}
	m := s.status()
	if err != nil {
		// Logged in, but the push link did not come up.
		m["warning"] = err.Error()
	}
	return reply(m)
}

func (s *Service) Logout(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Logout(); err != nil {
		return nil, toStatus(err)
	}
	return reply(s.status())
}

func (s *Service) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Refresh(ctx); err != nil {
		return nil, toStatus(err)
	}
	return reply(s.status())
}

func (s *Service) Reconnect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Reconnect(ctx); err != nil {
		return nil, toStatus(err)
	}
	return reply(s.status())
}
