package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ktauchathuranga/notebud/internal/directory"
	"github.com/ktauchathuranga/notebud/internal/domain"
)

// memDirectory implements directory.Directory in memory with the same
// invariants the Postgres store enforces, so router tests exercise the full
// event contract without a database.
type memDirectory struct {
	mu       sync.Mutex
	users    map[uuid.UUID]domain.User
	byName   map[string]uuid.UUID
	requests []*memRequest
	chats    map[uuid.UUID]*memChat
	messages map[uuid.UUID][]domain.Message

	// failWith, when set, makes every call return that error.
	failWith error

	base  time.Time
	ticks int
}

type memRequest struct {
	from      uuid.UUID
	to        uuid.UUID
	status    domain.RequestStatus
	createdAt time.Time
}

type memChat struct {
	a            uuid.UUID
	b            uuid.UUID
	createdAt    time.Time
	lastActivity time.Time
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:    make(map[uuid.UUID]domain.User),
		byName:   make(map[string]uuid.UUID),
		chats:    make(map[uuid.UUID]*memChat),
		messages: make(map[uuid.UUID][]domain.Message),
		base:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (d *memDirectory) addUser(username string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.New()
	d.users[id] = domain.User{ID: id, Username: username}
	d.byName[username] = id
	return id
}

// nextTime hands out strictly increasing timestamps so ordering assertions
// are deterministic.
func (d *memDirectory) nextTime() time.Time {
	d.ticks++
	return d.base.Add(time.Duration(d.ticks) * time.Second)
}

func (d *memDirectory) pendingBetween(a, b uuid.UUID) *memRequest {
	for _, r := range d.requests {
		if r.status != domain.RequestPending {
			continue
		}
		if (r.from == a && r.to == b) || (r.from == b && r.to == a) {
			return r
		}
	}
	return nil
}

func (d *memDirectory) chatBetween(a, b uuid.UUID) bool {
	for _, c := range d.chats {
		if (c.a == a && c.b == b) || (c.a == b && c.b == a) {
			return true
		}
	}
	return false
}

func (d *memDirectory) FindUserByID(_ context.Context, id uuid.UUID) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return domain.User{}, d.failWith
	}
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, directory.ErrUserNotFound
	}
	return u, nil
}

func (d *memDirectory) FindUserByUsername(_ context.Context, username string) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return domain.User{}, d.failWith
	}
	id, ok := d.byName[username]
	if !ok {
		return domain.User{}, directory.ErrUserNotFound
	}
	return d.users[id], nil
}

func (d *memDirectory) SetPresence(_ context.Context, id uuid.UUID, online bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	u, ok := d.users[id]
	if !ok {
		return nil
	}
	now := d.nextTime()
	u.Online = online
	u.LastSeen = &now
	d.users[id] = u
	return nil
}

func (d *memDirectory) CreateChatRequest(_ context.Context, from, to uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	if d.chatBetween(from, to) {
		return directory.ErrChatExists
	}
	if d.pendingBetween(from, to) != nil {
		return directory.ErrDuplicateRequest
	}
	d.requests = append(d.requests, &memRequest{
		from:      from,
		to:        to,
		status:    domain.RequestPending,
		createdAt: d.nextTime(),
	})
	return nil
}

func (d *memDirectory) PendingRequestsFor(_ context.Context, userID uuid.UUID) ([]domain.ChatRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	var out []domain.ChatRequest
	for _, r := range d.requests {
		if r.to != userID || r.status != domain.RequestPending {
			continue
		}
		out = append(out, domain.ChatRequest{
			FromUserID:   r.from,
			FromUsername: d.users[r.from].Username,
			ToUserID:     r.to,
			Status:       r.status,
			CreatedAt:    r.createdAt,
		})
	}
	return out, nil
}

func (d *memDirectory) ResolveRequest(_ context.Context, from, to uuid.UUID, outcome domain.RequestStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	for _, r := range d.requests {
		if r.from == from && r.to == to && r.status == domain.RequestPending {
			r.status = outcome
			return nil
		}
	}
	return directory.ErrRequestNotFound
}

func (d *memDirectory) CreateChat(_ context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return uuid.Nil, d.failWith
	}
	if d.chatBetween(a, b) {
		return uuid.Nil, directory.ErrChatExists
	}
	id := uuid.New()
	created := d.nextTime()
	d.chats[id] = &memChat{a: a, b: b, createdAt: created, lastActivity: created}
	return id, nil
}

func (d *memDirectory) ChatsFor(_ context.Context, userID uuid.UUID) ([]domain.ChatSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	var out []domain.ChatSummary
	for id, c := range d.chats {
		var peer uuid.UUID
		switch userID {
		case c.a:
			peer = c.b
		case c.b:
			peer = c.a
		default:
			continue
		}
		out = append(out, domain.ChatSummary{
			ChatID:        id,
			WithUserID:    peer,
			WithUsername:  d.users[peer].Username,
			Online:        d.users[peer].Online,
			LastMessageAt: c.lastActivity,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (d *memDirectory) Participants(_ context.Context, chatID uuid.UUID) ([2]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return [2]uuid.UUID{}, d.failWith
	}
	c, ok := d.chats[chatID]
	if !ok {
		return [2]uuid.UUID{}, directory.ErrChatNotFound
	}
	return [2]uuid.UUID{c.a, c.b}, nil
}

func (d *memDirectory) AppendMessage(_ context.Context, chatID, sender uuid.UUID, body string) (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return time.Time{}, d.failWith
	}
	c, ok := d.chats[chatID]
	if !ok {
		return time.Time{}, directory.ErrChatNotFound
	}
	ts := d.nextTime()
	d.messages[chatID] = append(d.messages[chatID], domain.Message{
		ChatID:       chatID,
		FromUserID:   sender,
		FromUsername: d.users[sender].Username,
		Body:         body,
		Timestamp:    ts,
	})
	c.lastActivity = ts
	return ts, nil
}

func (d *memDirectory) Messages(_ context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	out := make([]domain.Message, len(d.messages[chatID]))
	copy(out, d.messages[chatID])
	return out, nil
}

// helpers used by assertions

func (d *memDirectory) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.requests {
		if r.status == domain.RequestPending {
			n++
		}
	}
	return n
}

func (d *memDirectory) requestStatus(from, to uuid.UUID) (domain.RequestStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.requests {
		if r.from == from && r.to == to {
			return r.status, true
		}
	}
	return "", false
}

func (d *memDirectory) messageCount(chatID uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages[chatID])
}

func (d *memDirectory) userOnline(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[id].Online
}

func (d *memDirectory) setFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}
