package api

import (
	"context"

	"github.com/matheus3301/chatsync/internal/connections"
	"google.golang.org/protobuf/types/known/structpb"
)

type connectionCall func(ctx context.Context, other int64) (connections.State, error)

func (s *Service) connection(ctx context.Context, in *structpb.Struct, call connectionCall) (*structpb.Struct, error) {
	other, err := userID(in, "other_id")
	if err != nil {
		return nil, err
	}
	st, err := call(ctx, other)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"connection": connectionMap(other, st)})
}

func (s *Service) CheckConnection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.connection(ctx, in, s.engine.CheckConnection)
}

func (s *Service) RequestConnection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.connection(ctx, in, s.engine.RequestConnection)
}

func (s *Service) AcceptConnection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.connection(ctx, in, s.engine.AcceptConnection)
}

func (s *Service) RejectConnection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.connection(ctx, in, s.engine.RejectConnection)
}

func (s *Service) RemoveConnection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.connection(ctx, in, s.engine.RemoveConnection)
}

func (s *Service) Suggestions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.engine.Suggestions(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]any, 0, len(list))
	for _, sg := range list {
		out = append(out, map[string]any{"user_id": sg.UserID, "name": sg.Name, "avatar": sg.Avatar})
	}
	return reply(map[string]any{"suggestions": out})
}
