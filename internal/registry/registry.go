// Package registry maintains the authoritative in-memory map between live
// connections and the identities bound to them. It is the single place that
// answers "is this user reachable right now, and through which connection".
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyBound is returned when binding a connection that already
	// carries an identity.
	ErrAlreadyBound = errors.New("connection already bound")
	// ErrUnknownConnection is returned when the connection id is stale:
	// the connection was unregistered before the call.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Sink is the outbound-delivery handle for one connection. Enqueue never
// blocks; it reports false once the connection's queue is closed.
type Sink interface {
	Enqueue(frame []byte) bool
}

type entry struct {
	sink     Sink
	bound    bool
	userID   uuid.UUID
	username string
}

// Registry is safe for concurrent use. Every operation is O(1) map work
// under one mutex; none performs I/O, so hold time is bounded.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	conns  map[uint64]*entry
	byUser map[uuid.UUID]uint64
}

func New() *Registry {
	return &Registry{
		conns:  make(map[uint64]*entry),
		byUser: make(map[uuid.UUID]uint64),
	}
}

// Register stores a new unbound connection and returns its id. Connection
// ids are monotonic and unique for the process lifetime.
func (r *Registry) Register(sink Sink) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.conns[id] = &entry{sink: sink}
	return id
}

// Bind attaches an identity to a registered, currently-unbound connection.
// If the identity was already bound elsewhere, the new binding supersedes
// the old one for routing; the older connection is left open.
func (r *Registry) Bind(connID uint64, userID uuid.UUID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if e.bound {
		return ErrAlreadyBound
	}
	e.bound = true
	e.userID = userID
	e.username = username
	r.byUser[userID] = connID
	return nil
}

// Unbind removes the connection entirely and returns the identity it was
// bound to, if any, so the caller can update durable presence. The
// identity→connection entry is cleared only if it still points at this
// connection, so unbinding a superseded connection never disturbs a newer
// binding.
func (r *Registry) Unbind(connID uint64) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.conns, connID)
	if !e.bound {
		return uuid.Nil, false
	}
	if r.byUser[e.userID] == connID {
		delete(r.byUser, e.userID)
	}
	return e.userID, true
}

// Lookup resolves a user to their live connection, if one is bound.
func (r *Registry) Lookup(userID uuid.UUID) (uint64, Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID, ok := r.byUser[userID]
	if !ok {
		return 0, nil, false
	}
	e, ok := r.conns[connID]
	if !ok {
		return 0, nil, false
	}
	return connID, e.sink, true
}

// IsBound reports whether the connection carries an identity. It gates
// every non-authentication event.
func (r *Registry) IsBound(connID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	return ok && e.bound
}

// Identity returns the identity bound to the connection.
func (r *Registry) Identity(connID uint64) (uuid.UUID, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok || !e.bound {
		return uuid.Nil, "", false
	}
	return e.userID, e.username, true
}

// Sink returns the outbound handle for the connection, bound or not, so
// callers can address the originator of a frame before authentication.
func (r *Registry) Sink(connID uint64) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.sink, true
}
