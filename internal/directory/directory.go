// Package directory owns every interaction with durable storage: users,
// chat requests, chats, and messages. Callers see typed errors for the
// business-rule failures they can act on; anything else is a store error.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ktauchathuranga/notebud/internal/domain"
)

var (
	// ErrUserNotFound is returned by user lookups with no match.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateRequest is returned when a pending request already
	// relates the pair, in either direction.
	ErrDuplicateRequest = errors.New("chat request already exists")
	// ErrChatExists is returned when the pair already shares a chat.
	ErrChatExists = errors.New("chat already exists")
	// ErrRequestNotFound is returned when no pending request matches the
	// given sender and recipient.
	ErrRequestNotFound = errors.New("chat request not found")
	// ErrChatNotFound is returned for lookups against an unknown chat.
	ErrChatNotFound = errors.New("chat not found")
)

// Directory is the storage boundary of the relay.
type Directory interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (domain.User, error)
	SetPresence(ctx context.Context, id uuid.UUID, online bool) error

	// CreateChatRequest records a pending request from one user to
	// another. It is the serialization point for concurrent request
	// races: the existence checks and the insert happen in one
	// transaction, so at most one pending request can relate an
	// unordered pair.
	CreateChatRequest(ctx context.Context, from, to uuid.UUID) error
	PendingRequestsFor(ctx context.Context, userID uuid.UUID) ([]domain.ChatRequest, error)
	// ResolveRequest transitions the pending request one-way into
	// accepted or declined.
	ResolveRequest(ctx context.Context, from, to uuid.UUID, outcome domain.RequestStatus) error

	CreateChat(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error)
	ChatsFor(ctx context.Context, userID uuid.UUID) ([]domain.ChatSummary, error)
	Participants(ctx context.Context, chatID uuid.UUID) ([2]uuid.UUID, error)

	AppendMessage(ctx context.Context, chatID, sender uuid.UUID, body string) (time.Time, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error)
}
