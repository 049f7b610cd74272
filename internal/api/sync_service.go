package api

import (
	"github.com/matheus3301/chatsync/internal/bus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const watchBuffer = 256

// WatchEvents streams bus events whose kind starts with the requested
// prefix, or every event when none is given. Events dropped by a slow
// watcher are not replayed.
func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.bus.Subscribe(stringField(in, "prefix"), watchBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := s.envelope(evt)
			if err != nil {
				s.logger.Warn("failed to encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) envelope(evt bus.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"event_id":            evt.ID,
		"session":             s.sessionName,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
		"kind":                evt.Kind,
		"payload":             eventPayload(evt.Payload),
	})
}
