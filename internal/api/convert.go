package api

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/connections"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxExactInt is the largest integer a structpb number holds exactly.
const maxExactInt = 1 << 53

func reply(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func userID(in *structpb.Struct, key string) (int64, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue <= 0 || n.NumberValue > maxExactInt || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s must be a positive integer", key)
	}
	return int64(n.NumberValue), nil
}

func stringField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func boolField(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

// toStatus maps engine and backend errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, intsync.ErrNotAuthenticated),
		errors.Is(err, backend.ErrUnauthorized),
		errors.Is(err, backend.ErrNoToken):
		code = codes.Unauthenticated
	case errors.Is(err, intsync.ErrNotStarted),
		errors.Is(err, connections.ErrNotPending),
		errors.Is(err, connections.ErrNotConnected):
		code = codes.FailedPrecondition
	case errors.Is(err, intsync.ErrEmptyMessage),
		errors.Is(err, intsync.ErrInvalidCounterpart),
		errors.Is(err, connections.ErrSelf):
		code = codes.InvalidArgument
	case errors.Is(err, intsync.ErrUnknownConversation):
		code = codes.NotFound
	case errors.Is(err, connections.ErrAlreadyConnected),
		errors.Is(err, connections.ErrAlreadyPending):
		code = codes.AlreadyExists
	case errors.Is(err, backend.ErrMalformed),
		backend.StatusOf(err) >= http.StatusInternalServerError:
		code = codes.Unavailable
	}
	return grpcstatus.Error(code, err.Error())
}

func statusMap(state status.State, reason string, self int64) map[string]any {
	return map[string]any{
		"status":  string(state),
		"reason":  reason,
		"user_id": self,
	}
}

func conversationSummary(c conversation.Conversation) map[string]any {
	m := map[string]any{
		"counterpart_id": c.Counterpart.ID,
		"name":           c.Counterpart.Name,
		"avatar":         c.Counterpart.Avatar,
		"online":         c.Counterpart.Online,
		"unread":         c.Unread,
		"typing":         c.Typing,
		"hydrated":       c.Hydrated,
	}
	if c.Last != nil {
		m["last"] = map[string]any{
			"content":    c.Last.Content,
			"at_unix_ms": c.Last.Timestamp.UnixMilli(),
			"read":       c.Last.Read,
		}
	}
	return m
}

func conversationDetail(c conversation.Conversation) map[string]any {
	m := conversationSummary(c)
	msgs := make([]any, 0, len(c.Messages))
	for _, msg := range c.Messages {
		msgs = append(msgs, messageMap(msg))
	}
	m["messages"] = msgs
	return m
}

func messageMap(m conversation.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"content":         m.Content,
		"at_unix_ms":      m.Timestamp.UnixMilli(),
		"sender_id":       m.SenderID,
		"receiver_id":     m.ReceiverID,
		"conversation_id": m.ConversationID,
		"sender_name":     m.SenderName,
		"system":          m.System,
		"local_origin":    m.LocalOrigin,
		"provisional":     conversation.IsProvisional(m.ID),
		"read":            m.Read,
	}
}

func connectionMap(other int64, st connections.State) map[string]any {
	return map[string]any{
		"other_id":      other,
		"status":        string(st.Status),
		"connection_id": st.ConnectionID,
	}
}

// eventPayload flattens a bus payload into a structpb-compatible map.
func eventPayload(payload any) map[string]any {
	switch p := payload.(type) {
	case bus.ConversationPayload:
		return map[string]any{"counterpart_id": p.CounterpartID, "conversation_id": p.ConversationID}
	case bus.MessagePayload:
		return map[string]any{"counterpart_id": p.CounterpartID, "message_id": p.MessageID, "outcome": p.Outcome}
	case bus.ConnectionPayload:
		return map[string]any{"other_id": p.OtherID, "status": p.Status, "connection_id": p.ConnectionID}
	case bus.LinkPayload:
		return map[string]any{"reason": p.Reason}
	case status.StatusChange:
		return map[string]any{"from": string(p.From), "to": string(p.To), "reason": p.Reason}
	default:
		return map[string]any{}
	}
}
