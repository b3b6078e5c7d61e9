package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a durable chat participant. The directory is the source of truth
// for presence; the registry only knows which connection a user is bound to.
type User struct {
	ID       uuid.UUID  `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// RequestStatus is the lifecycle of a chat request. Resolution is one-way:
// a request leaves pending exactly once and never re-enters it.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// ChatRequest is a directed proposal from one user to another. At most one
// pending request exists between any unordered pair of users.
type ChatRequest struct {
	FromUserID   uuid.UUID     `json:"from_user_id"`
	FromUsername string        `json:"from_username"`
	ToUserID     uuid.UUID     `json:"to_user_id"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Chat relates exactly two users. The participant pair is immutable after
// creation; LastMessageAt tracks most recent activity for listing order.
type Chat struct {
	ID            uuid.UUID    `json:"chat_id"`
	Participants  [2]uuid.UUID `json:"participants"`
	CreatedAt     time.Time    `json:"created_at"`
	LastMessageAt *time.Time   `json:"last_message_at,omitempty"`
}

// ChatSummary is one entry of a user's active-chat listing: the chat seen
// from that user's side, with the peer's identity and durable presence.
type ChatSummary struct {
	ChatID        uuid.UUID `json:"chat_id"`
	WithUserID    uuid.UUID `json:"with_user_id"`
	WithUsername  string    `json:"with_user"`
	Online        bool      `json:"online"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Message is one append-only record within a chat.
type Message struct {
	ChatID       uuid.UUID `json:"chat_id"`
	FromUserID   uuid.UUID `json:"from_user_id"`
	FromUsername string    `json:"from_username"`
	Body         string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}
