package api

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

// Send inserts an optimistic message and hands it to the push link. A
// message the link could not carry is still returned with transmitted=false.
func (s *Service) Send(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := userID(in, "counterpart_id")
	if err != nil {
		return nil, err
	}
	sent, err := s.engine.Send(id, stringField(in, "content"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"message":     messageMap(sent.Message),
		"transmitted": sent.Transmitted,
	})
}

func (s *Service) Typing(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := userID(in, "counterpart_id")
	if err != nil {
		return nil, err
	}
	carried, err := s.engine.Typing(id, boolField(in, "typing"))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"transmitted": carried})
}

func (s *Service) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := userID(in, "counterpart_id")
	if err != nil {
		return nil, err
	}
	if err := s.engine.MarkRead(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"counterpart_id": id})
}
