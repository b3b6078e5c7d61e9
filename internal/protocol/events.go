// Package protocol defines the wire contract between clients and the relay:
// a closed set of inbound events and a closed set of outbound events, both
// serialized as flat JSON objects carrying a "type" tag. Frames are decoded
// exactly once, at the transport boundary; everything past Decode works with
// typed events.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ktauchathuranga/notebud/internal/domain"
)

// Inbound event type tags.
const (
	TypeAuth               = "auth"
	TypeSendChatRequest    = "send_chat_request"
	TypeAcceptChatRequest  = "accept_chat_request"
	TypeDeclineChatRequest = "decline_chat_request"
	TypeSendMessage        = "send_message"
	TypeGetChatRequests    = "get_chat_requests"
	TypeGetActiveChats     = "get_active_chats"
	TypeGetChatMessages    = "get_chat_messages"
)

// Outbound event type tags.
const (
	TypeAuthSuccess     = "auth_success"
	TypeError           = "error"
	TypeChatRequests    = "chat_requests"
	TypeActiveChats     = "active_chats"
	TypeChatMessages    = "chat_messages"
	TypeNewChatRequest  = "new_chat_request"
	TypeChatRequestSent = "chat_request_sent"
	TypeChatAccepted    = "chat_accepted"
	TypeChatDeclined    = "chat_declined"
	TypeNewMessage      = "new_message"
)

// ClientEvent is implemented by every inbound event kind. The set is closed:
// the router switches over it exhaustively, so adding a kind is a
// compile-time-visible change.
type ClientEvent interface {
	clientEvent()
}

type Auth struct {
	Token string `json:"token"`
}

type SendChatRequest struct {
	ToUsername string `json:"to_username"`
}

type AcceptChatRequest struct {
	FromUserID string `json:"from_user_id"`
}

type DeclineChatRequest struct {
	FromUserID string `json:"from_user_id"`
}

type SendMessage struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

type GetChatRequests struct{}

type GetActiveChats struct{}

type GetChatMessages struct {
	ChatID string `json:"chat_id"`
}

func (Auth) clientEvent()               {}
func (SendChatRequest) clientEvent()    {}
func (AcceptChatRequest) clientEvent()  {}
func (DeclineChatRequest) clientEvent() {}
func (SendMessage) clientEvent()        {}
func (GetChatRequests) clientEvent()    {}
func (GetActiveChats) clientEvent()     {}
func (GetChatMessages) clientEvent()    {}

// Decode parses one raw inbound frame into its event kind. A frame that is
// not valid JSON, has no type tag, or names an unknown kind is a protocol
// error: the caller logs and drops it.
func Decode(data []byte) (ClientEvent, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var (
		ev  ClientEvent
		err error
	)
	switch env.Type {
	case TypeAuth:
		var e Auth
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeSendChatRequest:
		var e SendChatRequest
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeAcceptChatRequest:
		var e AcceptChatRequest
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeDeclineChatRequest:
		var e DeclineChatRequest
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeSendMessage:
		var e SendMessage
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeGetChatRequests:
		ev = GetChatRequests{}
	case TypeGetActiveChats:
		ev = GetActiveChats{}
	case TypeGetChatMessages:
		var e GetChatMessages
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// ServerEvent is implemented by every outbound event kind.
type ServerEvent interface {
	eventType() string
}

type AuthSuccess struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type ChatRequests struct {
	Requests []domain.ChatRequest `json:"requests"`
}

type ActiveChats struct {
	Chats []domain.ChatSummary `json:"chats"`
}

type ChatMessages struct {
	ChatID   string           `json:"chat_id"`
	Messages []domain.Message `json:"messages"`
}

type NewChatRequest struct {
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
}

type ChatRequestSent struct {
	ToUsername string `json:"to_username"`
}

type ChatAccepted struct {
	ChatID     string `json:"chat_id"`
	WithUser   string `json:"with_user"`
	WithUserID string `json:"with_user_id"`
}

type ChatDeclined struct {
	ByUser string `json:"by_user"`
}

// NewMessage carries the timestamp as unix seconds; history listings carry
// RFC 3339 strings instead.
type NewMessage struct {
	ChatID       string `json:"chat_id"`
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

func (AuthSuccess) eventType() string     { return TypeAuthSuccess }
func (ErrorEvent) eventType() string      { return TypeError }
func (ChatRequests) eventType() string    { return TypeChatRequests }
func (ActiveChats) eventType() string     { return TypeActiveChats }
func (ChatMessages) eventType() string    { return TypeChatMessages }
func (NewChatRequest) eventType() string  { return TypeNewChatRequest }
func (ChatRequestSent) eventType() string { return TypeChatRequestSent }
func (ChatAccepted) eventType() string    { return TypeChatAccepted }
func (ChatDeclined) eventType() string    { return TypeChatDeclined }
func (NewMessage) eventType() string      { return TypeNewMessage }

// Encode serializes a server event into its flat tagged form by splicing the
// type tag into the marshaled payload object.
func Encode(ev ServerEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.eventType(), err)
	}
	tag := []byte(`{"type":"` + ev.eventType() + `"`)
	if len(payload) <= 2 { // empty object
		return append(tag, '}'), nil
	}
	out := make([]byte, 0, len(tag)+len(payload))
	out = append(out, tag...)
	out = append(out, ',')
	out = append(out, payload[1:]...)
	return out, nil
}
