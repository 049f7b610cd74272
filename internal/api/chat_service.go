package api

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *Service) ListConversations(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	convs, err := s.engine.Conversations()
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(convs))
	for _, c := range convs {
		list = append(list, conversationSummary(c))
	}
	return reply(map[string]any{"conversations": list})
}

func (s *Service) GetConversation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := userID(in, "counterpart_id")
	if err != nil {
		return nil, err
	}
	c, err := s.engine.Conversation(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"conversation": conversationDetail(c)})
}

// Select activates a conversation and returns it with its history.
func (s *Service) Select(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := userID(in, "counterpart_id")
	if err != nil {
		return nil, err
	}
	selectErr := s.engine.Select(ctx, id)
	c, err := s.engine.Conversation(id)
	if err != nil {
		if selectErr != nil {
			return nil, toStatus(selectErr)
		}
		return nil, toStatus(err)
	}
	m := map[string]any{"conversation": conversationDetail(c)}
	if selectErr != nil {
		// The conversation stays selected with whatever was already known.
		s.logger.Warn("select completed without fresh history", zap.Int64("counterpart_id", id), zap.Error(selectErr))
		m["warning"] = selectErr.Error()
	}
	return reply(m)
}

func (s *Service) Deselect(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.Deselect(); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{})
}
