// Package router consumes decoded client events, applies the per-event
// authorization and business rules, orchestrates the directory, and fans the
// resulting events out to every recipient with a live connection.
package router

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ktauchathuranga/notebud/internal/auth"
	"github.com/ktauchathuranga/notebud/internal/directory"
	"github.com/ktauchathuranga/notebud/internal/domain"
	"github.com/ktauchathuranga/notebud/internal/metrics"
	"github.com/ktauchathuranga/notebud/internal/protocol"
	"github.com/ktauchathuranga/notebud/internal/registry"
)

// CredentialVerifier validates an opaque credential and extracts the
// session it carries.
type CredentialVerifier interface {
	Verify(token string) (auth.Session, error)
}

// Router routes events for all connections of this process. It holds no
// per-event state of its own: connection state lives in the registry,
// durable state in the directory.
type Router struct {
	registry *registry.Registry
	dir      directory.Directory
	verifier CredentialVerifier
	log      *zap.Logger
}

func New(reg *registry.Registry, dir directory.Directory, verifier CredentialVerifier, log *zap.Logger) *Router {
	return &Router{
		registry: reg,
		dir:      dir,
		verifier: verifier,
		log:      log,
	}
}

// Connect registers a new connection's outbound handle and returns its id.
// The transport adapter calls this once per accepted connection.
func (r *Router) Connect(sink registry.Sink) uint64 {
	connID := r.registry.Register(sink)
	metrics.ConnectionsActive.Inc()
	r.log.Debug("connection registered", zap.Uint64("conn_id", connID))
	return connID
}

// ConnectionClosed tears down a connection: it is unbound from the registry
// and, if it carried an identity whose routing still pointed here, that
// identity's durable presence goes offline. The transport adapter calls
// this exactly once per connection.
func (r *Router) ConnectionClosed(ctx context.Context, connID uint64) {
	metrics.ConnectionsActive.Dec()
	userID, wasBound := r.registry.Unbind(connID)
	if !wasBound {
		return
	}
	metrics.ConnectionsBound.Dec()
	// A superseded connection closing late must not mark a user offline
	// while a newer binding still routes to them.
	if _, _, stillReachable := r.registry.Lookup(userID); stillReachable {
		return
	}
	if err := r.dir.SetPresence(ctx, userID, false); err != nil {
		r.log.Error("failed to set user offline",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
	r.log.Info("connection unbound",
		zap.Uint64("conn_id", connID), zap.String("user_id", userID.String()))
}

// HandleFrame processes one inbound frame for one connection. Frames from a
// single connection are handled strictly in arrival order by the calling
// read pump; HandleFrame itself is safe to call concurrently for different
// connections.
//
// No outcome of a frame ever closes the connection: malformed frames are
// logged and dropped, and every rejected event answers with a single error
// event to the originator.
func (r *Router) HandleFrame(ctx context.Context, connID uint64, frame []byte) {
	ev, err := protocol.Decode(frame)
	if err != nil {
		metrics.FramesDroppedTotal.Inc()
		r.log.Warn("dropping malformed frame", zap.Uint64("conn_id", connID), zap.Error(err))
		return
	}

	if e, ok := ev.(protocol.Auth); ok {
		r.handleAuth(ctx, connID, e)
		return
	}

	// Every other event type requires a bound identity. Rejection does not
	// close the connection; the client may authenticate and resend.
	userID, username, ok := r.registry.Identity(connID)
	if !ok {
		metrics.RecordEvent(eventName(ev), "rejected")
		r.replyError(connID, "Client not authenticated")
		return
	}

	switch e := ev.(type) {
	case protocol.SendChatRequest:
		r.handleSendChatRequest(ctx, connID, userID, username, e)
	case protocol.AcceptChatRequest:
		r.handleAcceptChatRequest(ctx, connID, userID, username, e)
	case protocol.DeclineChatRequest:
		r.handleDeclineChatRequest(ctx, connID, userID, username, e)
	case protocol.SendMessage:
		r.handleSendMessage(ctx, connID, userID, username, e)
	case protocol.GetChatRequests:
		r.handleGetChatRequests(ctx, connID, userID)
	case protocol.GetActiveChats:
		r.handleGetActiveChats(ctx, connID, userID)
	case protocol.GetChatMessages:
		r.handleGetChatMessages(ctx, connID, userID, e)
	case protocol.Auth:
		// handled above
	}
}

func (r *Router) handleAuth(ctx context.Context, connID uint64, e protocol.Auth) {
	if r.registry.IsBound(connID) {
		metrics.RecordEvent(protocol.TypeAuth, "rejected")
		r.replyError(connID, "Already authenticated")
		return
	}

	sess, err := r.verifier.Verify(e.Token)
	if err != nil {
		metrics.RecordEvent(protocol.TypeAuth, "rejected")
		r.log.Warn("credential rejected", zap.Uint64("conn_id", connID), zap.Error(err))
		r.replyError(connID, "Invalid token")
		return
	}

	user, err := r.dir.FindUserByID(ctx, sess.UserID)
	if errors.Is(err, directory.ErrUserNotFound) {
		metrics.RecordEvent(protocol.TypeAuth, "rejected")
		r.replyError(connID, "User not found")
		return
	}
	if err != nil {
		r.storeError(connID, protocol.TypeAuth, err)
		return
	}

	if err := r.registry.Bind(connID, user.ID, user.Username); err != nil {
		// AlreadyBound races a concurrent auth on the same connection;
		// UnknownConnection means the transport already tore it down.
		metrics.RecordEvent(protocol.TypeAuth, "rejected")
		r.log.Warn("bind failed", zap.Uint64("conn_id", connID), zap.Error(err))
		r.replyError(connID, "Already authenticated")
		return
	}
	metrics.ConnectionsBound.Inc()

	if err := r.dir.SetPresence(ctx, user.ID, true); err != nil {
		r.log.Error("failed to set user online",
			zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	metrics.RecordEvent(protocol.TypeAuth, "ok")
	r.log.Info("connection bound",
		zap.Uint64("conn_id", connID),
		zap.String("user_id", user.ID.String()),
		zap.String("session_id", sess.SessionID))
	r.reply(connID, protocol.AuthSuccess{
		UserID:   user.ID.String(),
		Username: user.Username,
	})
}

func (r *Router) handleSendChatRequest(ctx context.Context, connID uint64, userID uuid.UUID, username string, e protocol.SendChatRequest) {
	target, err := r.dir.FindUserByUsername(ctx, e.ToUsername)
	if errors.Is(err, directory.ErrUserNotFound) {
		metrics.RecordEvent(protocol.TypeSendChatRequest, "rejected")
		r.replyError(connID, "User not found")
		return
	}
	if err != nil {
		r.storeError(connID, protocol.TypeSendChatRequest, err)
		return
	}

	if target.ID == userID {
		metrics.RecordEvent(protocol.TypeSendChatRequest, "rejected")
		r.replyError(connID, "Cannot send request to yourself")
		return
	}

	switch err := r.dir.CreateChatRequest(ctx, userID, target.ID); {
	case errors.Is(err, directory.ErrDuplicateRequest):
		metrics.RecordEvent(protocol.TypeSendChatRequest, "rejected")
		r.replyError(connID, "Chat request already exists")
		return
	case errors.Is(err, directory.ErrChatExists):
		metrics.RecordEvent(protocol.TypeSendChatRequest, "rejected")
		r.replyError(connID, "Chat already exists")
		return
	case err != nil:
		r.storeError(connID, protocol.TypeSendChatRequest, err)
		return
	}

	metrics.RecordEvent(protocol.TypeSendChatRequest, "ok")
	r.reply(connID, protocol.ChatRequestSent{ToUsername: target.Username})
	r.sendToUser(target.ID, protocol.NewChatRequest{
		FromUserID:   userID.String(),
		FromUsername: username,
	})
}

func (r *Router) handleAcceptChatRequest(ctx context.Context, connID uint64, userID uuid.UUID, username string, e protocol.AcceptChatRequest) {
	from, ok := parseID(e.FromUserID)
	if !ok {
		metrics.RecordEvent(protocol.TypeAcceptChatRequest, "rejected")
		r.replyError(connID, "Chat request not found")
		return
	}

	if err := r.dir.ResolveRequest(ctx, from, userID, domain.RequestAccepted); err != nil {
		if errors.Is(err, directory.ErrRequestNotFound) {
			metrics.RecordEvent(protocol.TypeAcceptChatRequest, "rejected")
			r.replyError(connID, "Chat request not found")
			return
		}
		r.storeError(connID, protocol.TypeAcceptChatRequest, err)
		return
	}

	chatID, err := r.dir.CreateChat(ctx, from, userID)
	if err != nil {
		r.storeError(connID, protocol.TypeAcceptChatRequest, err)
		return
	}

	requester, err := r.dir.FindUserByID(ctx, from)
	if err != nil {
		// The chat exists; only the notification names are missing.
		r.storeError(connID, protocol.TypeAcceptChatRequest, err)
		return
	}

	metrics.RecordEvent(protocol.TypeAcceptChatRequest, "ok")
	r.sendToUser(from, protocol.ChatAccepted{
		ChatID:     chatID.String(),
		WithUser:   username,
		WithUserID: userID.String(),
	})
	r.reply(connID, protocol.ChatAccepted{
		ChatID:     chatID.String(),
		WithUser:   requester.Username,
		WithUserID: from.String(),
	})
}

func (r *Router) handleDeclineChatRequest(ctx context.Context, connID uint64, userID uuid.UUID, username string, e protocol.DeclineChatRequest) {
	from, ok := parseID(e.FromUserID)
	if !ok {
		metrics.RecordEvent(protocol.TypeDeclineChatRequest, "rejected")
		r.replyError(connID, "Chat request not found")
		return
	}

	if err := r.dir.ResolveRequest(ctx, from, userID, domain.RequestDeclined); err != nil {
		if errors.Is(err, directory.ErrRequestNotFound) {
			metrics.RecordEvent(protocol.TypeDeclineChatRequest, "rejected")
			r.replyError(connID, "Chat request not found")
			return
		}
		r.storeError(connID, protocol.TypeDeclineChatRequest, err)
		return
	}

	metrics.RecordEvent(protocol.TypeDeclineChatRequest, "ok")
	r.sendToUser(from, protocol.ChatDeclined{ByUser: username})
}

func (r *Router) handleSendMessage(ctx context.Context, connID uint64, userID uuid.UUID, username string, e protocol.SendMessage) {
	if strings.TrimSpace(e.Message) == "" {
		metrics.RecordEvent(protocol.TypeSendMessage, "rejected")
		r.replyError(connID, "Message cannot be empty")
		return
	}

	chatID, ok := parseID(e.ChatID)
	if !ok {
		metrics.RecordEvent(protocol.TypeSendMessage, "rejected")
		r.replyError(connID, "Chat not found")
		return
	}

	participants, err := r.dir.Participants(ctx, chatID)
	if errors.Is(err, directory.ErrChatNotFound) {
		metrics.RecordEvent(protocol.TypeSendMessage, "rejected")
		r.replyError(connID, "Chat not found")
		return
	}
	if err != nil {
		r.storeError(connID, protocol.TypeSendMessage, err)
		return
	}
	if participants[0] != userID && participants[1] != userID {
		metrics.RecordEvent(protocol.TypeSendMessage, "rejected")
		r.replyError(connID, "Not authorized to send messages to this chat")
		return
	}

	ts, err := r.dir.AppendMessage(ctx, chatID, userID, e.Message)
	if err != nil {
		r.storeError(connID, protocol.TypeSendMessage, err)
		return
	}

	metrics.RecordEvent(protocol.TypeSendMessage, "ok")
	// The sender is a recipient too, so their other sessions stay
	// consistent. Reachability is decided here, once; offline participants
	// are skipped and will read the durable record later.
	r.fanOut(participants[:], protocol.NewMessage{
		ChatID:       chatID.String(),
		FromUserID:   userID.String(),
		FromUsername: username,
		Message:      e.Message,
		Timestamp:    ts.Unix(),
	})
}

func (r *Router) handleGetChatRequests(ctx context.Context, connID uint64, userID uuid.UUID) {
	requests, err := r.dir.PendingRequestsFor(ctx, userID)
	if err != nil {
		r.storeError(connID, protocol.TypeGetChatRequests, err)
		return
	}
	if requests == nil {
		requests = []domain.ChatRequest{}
	}
	metrics.RecordEvent(protocol.TypeGetChatRequests, "ok")
	r.reply(connID, protocol.ChatRequests{Requests: requests})
}

func (r *Router) handleGetActiveChats(ctx context.Context, connID uint64, userID uuid.UUID) {
	chats, err := r.dir.ChatsFor(ctx, userID)
	if err != nil {
		r.storeError(connID, protocol.TypeGetActiveChats, err)
		return
	}
	if chats == nil {
		chats = []domain.ChatSummary{}
	}
	metrics.RecordEvent(protocol.TypeGetActiveChats, "ok")
	r.reply(connID, protocol.ActiveChats{Chats: chats})
}

func (r *Router) handleGetChatMessages(ctx context.Context, connID uint64, userID uuid.UUID, e protocol.GetChatMessages) {
	chatID, ok := parseID(e.ChatID)
	if !ok {
		metrics.RecordEvent(protocol.TypeGetChatMessages, "rejected")
		r.replyError(connID, "Chat not found")
		return
	}

	participants, err := r.dir.Participants(ctx, chatID)
	if errors.Is(err, directory.ErrChatNotFound) {
		metrics.RecordEvent(protocol.TypeGetChatMessages, "rejected")
		r.replyError(connID, "Chat not found")
		return
	}
	if err != nil {
		r.storeError(connID, protocol.TypeGetChatMessages, err)
		return
	}
	if participants[0] != userID && participants[1] != userID {
		metrics.RecordEvent(protocol.TypeGetChatMessages, "rejected")
		r.replyError(connID, "Not authorized to view this chat")
		return
	}

	messages, err := r.dir.Messages(ctx, chatID)
	if err != nil {
		r.storeError(connID, protocol.TypeGetChatMessages, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	metrics.RecordEvent(protocol.TypeGetChatMessages, "ok")
	r.reply(connID, protocol.ChatMessages{ChatID: chatID.String(), Messages: messages})
}

// reply addresses the originating connection, bound or not.
func (r *Router) reply(connID uint64, ev protocol.ServerEvent) {
	sink, ok := r.registry.Sink(connID)
	if !ok {
		return
	}
	r.deliver(sink, ev)
}

func (r *Router) replyError(connID uint64, msg string) {
	r.reply(connID, protocol.ErrorEvent{Message: msg})
}

// storeError logs the cause and answers with a generic error; the original
// failure never reaches the client, and the connection stays usable.
func (r *Router) storeError(connID uint64, eventType string, err error) {
	metrics.StoreFailuresTotal.Inc()
	metrics.RecordEvent(eventType, "error")
	r.log.Error("directory call failed",
		zap.Uint64("conn_id", connID), zap.String("event", eventType), zap.Error(err))
	r.replyError(connID, "Database error")
}

// sendToUser delivers to the user's live connection, if any. Unreachable
// users are skipped silently; the durable record is the source of truth.
func (r *Router) sendToUser(userID uuid.UUID, ev protocol.ServerEvent) {
	_, sink, ok := r.registry.Lookup(userID)
	if !ok {
		return
	}
	r.deliver(sink, ev)
}

// fanOut computes the reachable subset of users once, then delivers to each
// independently. A recipient whose queue has closed mid-fan-out does not
// abort delivery to the rest.
func (r *Router) fanOut(users []uuid.UUID, ev protocol.ServerEvent) {
	data, err := protocol.Encode(ev)
	if err != nil {
		r.log.Error("failed to encode event", zap.Error(err))
		return
	}
	for _, userID := range users {
		_, sink, ok := r.registry.Lookup(userID)
		if !ok {
			continue
		}
		if sink.Enqueue(data) {
			metrics.DeliveriesTotal.Inc()
		}
	}
}

func (r *Router) deliver(sink registry.Sink, ev protocol.ServerEvent) {
	data, err := protocol.Encode(ev)
	if err != nil {
		r.log.Error("failed to encode event", zap.Error(err))
		return
	}
	if sink.Enqueue(data) {
		metrics.DeliveriesTotal.Inc()
	}
}

func parseID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func eventName(ev protocol.ClientEvent) string {
	switch ev.(type) {
	case protocol.Auth:
		return protocol.TypeAuth
	case protocol.SendChatRequest:
		return protocol.TypeSendChatRequest
	case protocol.AcceptChatRequest:
		return protocol.TypeAcceptChatRequest
	case protocol.DeclineChatRequest:
		return protocol.TypeDeclineChatRequest
	case protocol.SendMessage:
		return protocol.TypeSendMessage
	case protocol.GetChatRequests:
		return protocol.TypeGetChatRequests
	case protocol.GetActiveChats:
		return protocol.TypeGetActiveChats
	case protocol.GetChatMessages:
		return protocol.TypeGetChatMessages
	default:
		return "unknown"
	}
}
