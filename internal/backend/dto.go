package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/connections"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/wire"
)

type userDTO struct {
	ID             wire.ID `json:"id"`
	Name           string  `json:"name"`
	FirstName      string  `json:"firstName"`
	LastName       string  `json:"lastName"`
	Username       string  `json:"username"`
	ProfilePicture string  `json:"profilePicture"`
	Online         *bool   `json:"online"`
}

func (u *userDTO) Validate() error {
	if u.ID.Int64() == 0 {
		return errors.New("user: missing id")
	}
	return nil
}

func (u *userDTO) displayName() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	if n := strings.TrimSpace(u.FirstName + " " + u.LastName); n != "" {
		return n
	}
	return strings.TrimSpace(u.Username)
}

func (u *userDTO) profile() conversation.Profile {
	p := conversation.Profile{
		ID:     u.ID.Int64(),
		Name:   u.displayName(),
		Avatar: u.ProfilePicture,
	}
	if u.Online != nil {
		p.Online = *u.Online
	}
	return p
}

type messageDTO struct {
	ID             wire.ID   `json:"id"`
	SenderID       wire.ID   `json:"senderId"`
	ReceiverID     wire.ID   `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      wire.Time `json:"timestamp"`
	ConversationID string    `json:"conversationId"`
	SenderName     string    `json:"senderName"`
	Read           *bool     `json:"read"`
}

func (m *messageDTO) Validate() error {
	if m.SenderID.Int64() == 0 {
		return errors.New("message: missing senderId")
	}
	if m.Timestamp.IsZero() {
		return errors.New("message: missing timestamp")
	}
	return nil
}

func (m *messageDTO) message() conversation.Message {
	msg := conversation.Message{
		ID:             m.ID.String(),
		Content:        m.Content,
		Timestamp:      m.Timestamp.Time,
		SenderID:       m.SenderID.Int64(),
		ReceiverID:     m.ReceiverID.Int64(),
		ConversationID: m.ConversationID,
		SenderName:     m.SenderName,
	}
	if m.Read != nil {
		msg.Read = *m.Read
	}
	return msg
}

type conversationDTO struct {
	OtherUser   *userDTO    `json:"otherUser"`
	LastMessage *messageDTO `json:"lastMessage"`
	UnreadCount *int        `json:"unreadCount"`
}

func (c *conversationDTO) Validate() error {
	if c.OtherUser == nil {
		return errors.New("conversation: missing otherUser")
	}
	if err := c.OtherUser.Validate(); err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	if c.UnreadCount != nil && *c.UnreadCount < 0 {
		return errors.New("conversation: negative unreadCount")
	}
	return nil
}

func (c *conversationDTO) conversation() conversation.Conversation {
	out := conversation.Conversation{Counterpart: c.OtherUser.profile()}
	if c.UnreadCount != nil {
		out.Unread = *c.UnreadCount
	}
	if lm := c.LastMessage; lm != nil && !lm.Timestamp.IsZero() {
		out.Last = &conversation.Summary{
			Content:   lm.Content,
			Timestamp: lm.Timestamp.Time,
			Read:      lm.Read != nil && *lm.Read,
		}
	}
	return out
}

type conversationList []conversationDTO

func (l conversationList) Validate() error {
	for i := range l {
		if err := l[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

type messageList []messageDTO

func (l messageList) Validate() error {
	for i := range l {
		if err := l[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

type userList []userDTO

func (l userList) Validate() error {
	for i := range l {
		if err := l[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

type connectionDTO struct {
	ID          wire.ID  `json:"id"`
	RequesterID wire.ID  `json:"requesterId"`
	ReceiverID  wire.ID  `json:"receiverId"`
	Status      string   `json:"status"`
	OtherUser   *userDTO `json:"otherUser"`
}

func (c *connectionDTO) Validate() error {
	if c.ID.Int64() == 0 {
		return errors.New("connection: missing id")
	}
	if c.RequesterID.Int64() == 0 || c.ReceiverID.Int64() == 0 {
		return errors.New("connection: missing participants")
	}
	return nil
}

func (c *connectionDTO) connection() connections.Connection {
	out := connections.Connection{
		ID:          c.ID.Int64(),
		RequesterID: c.RequesterID.Int64(),
		ReceiverID:  c.ReceiverID.Int64(),
		Status:      connections.ParseStatus(c.Status),
	}
	if c.Status == "" {
		out.Status = ""
	}
	if c.OtherUser != nil {
		out.Name = c.OtherUser.displayName()
	}
	return out
}

type connectionList []connectionDTO

func (l connectionList) Validate() error {
	for i := range l {
		if err := l[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (l connectionList) connections() []connections.Connection {
	out := make([]connections.Connection, 0, len(l))
	for i := range l {
		out = append(out, l[i].connection())
	}
	return out
}

type statusDTO struct {
	Status       string  `json:"status"`
	ConnectionID wire.ID `json:"connectionId"`
}

func (s *statusDTO) Validate() error {
	if strings.TrimSpace(s.Status) == "" {
		return errors.New("status: missing status")
	}
	return nil
}

// result is the {success, message, data} wrapper of mutating endpoints.
type result[T any] struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

func (r *result[T]) Validate() error {
	if r.Success == nil {
		return errors.New("result: missing success flag")
	}
	if v, ok := any(r.Data).(validator); ok && r.Data != nil && *r.Success {
		return v.Validate()
	}
	return nil
}

// err converts an explicit success=false into an error.
func (r *result[T]) err() error {
	if *r.Success {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = "request refused"
	}
	return &RefusedError{Message: msg}
}

// RefusedError is a well-formed response with success=false.
type RefusedError struct {
	Message string
}

func (e *RefusedError) Error() string { return "backend: " + e.Message }

type loginDTO struct {
	Token  string   `json:"token"`
	UserID wire.ID  `json:"userId"`
	User   *userDTO `json:"user"`
}

func (l *loginDTO) Validate() error {
	if l.Token == "" {
		return errors.New("login: missing token")
	}
	if l.userID() == 0 {
		return errors.New("login: missing user id")
	}
	return nil
}

func (l *loginDTO) userID() int64 {
	if id := l.UserID.Int64(); id != 0 {
		return id
	}
	if l.User != nil {
		return l.User.ID.Int64()
	}
	return 0
}

type ack struct{}

func (ack) Validate() error { return nil }
