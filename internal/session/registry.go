package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
)

// Registry is the host-side map from live connections to participant
// identities. An entry exists only once the peer's handshake has been
// processed: identity is bound at handshake time, never inferred from
// connection properties afterwards, so close handling is exact.
type Registry struct {
	mu     sync.RWMutex
	byConn map[core.Connection]domain.ParticipantID
	byID   map[domain.ParticipantID]core.Connection
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[core.Connection]domain.ParticipantID),
		byID:   make(map[domain.ParticipantID]core.Connection),
	}
}

// Register binds a connection to a participant id. Idempotent per
// connection, and a re-handshake on a fresh connection supersedes the
// participant's previous one: the stale binding is evicted so its
// close event cannot be mistaken for the live participant leaving.
func (r *Registry) Register(conn core.Connection, id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byConn[conn]; ok && old != id {
		delete(r.byID, old)
	}
	if prev, ok := r.byID[id]; ok && prev != conn {
		delete(r.byConn, prev)
		log.Info().Str("module", "session.registry").Str("participant", string(id)).Msg("superseded stale connection")
	}
	r.byConn[conn] = id
	r.byID[id] = conn
	log.Info().Str("module", "session.registry").Str("participant", string(id)).Str("peer", conn.PeerAddr()).Msg("registered")
}

// Unregister removes the connection and returns the participant it was
// bound to. The second call for the same connection returns false,
// which is what keeps disconnect handling exactly-once.
func (r *Registry) Unregister(conn core.Connection) (domain.ParticipantID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	if r.byID[id] == conn {
		delete(r.byID, id)
	}
	log.Info().Str("module", "session.registry").Str("participant", string(id)).Msg("unregistered")
	return id, true
}

func (r *Registry) Find(id domain.ParticipantID) (core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// Known reports whether the connection has completed a handshake.
func (r *Registry) Known(conn core.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[conn]
	return ok
}

func (r *Registry) AllOpen() []core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Connection, 0, len(r.byConn))
	for conn := range r.byConn {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
