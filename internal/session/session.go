// Package session implements the room session engine: role management,
// the connection registry, message relay with dedup, history replay,
// presence, moderation and the reconnection supervisor.
//
// All protocol state (roster, log, typing set, status) is mutated on a
// single event loop; transport callbacks, timers and responder
// completions post events into it and never touch state directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/config"
	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

type Session struct {
	cfg       *config.Config
	transport core.Transport
	signaler  core.Signaler  // optional
	responder core.Responder // optional, host only

	role domain.Role
	self domain.Participant

	mu    sync.RWMutex
	state *domain.RoomSession

	store  *Store
	reg    *Registry
	typing *typingTracker

	hostConn core.Connection // guest side only

	events  chan func()
	updates chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	thinking atomic.Int32
}

// New builds a session for the identity in profile. signaler and
// responder may be nil: no signaler disables the reconnection
// supervisor, no responder disables the bot trigger.
func New(cfg *config.Config, tr core.Transport, sig core.Signaler, resp core.Responder, profile *domain.Profile) (*Session, error) {
	self, err := domain.NewParticipant(profile.ID, profile.DisplayName, profile.ColorTag, domain.RoleGuest)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:       cfg,
		transport: tr,
		signaler:  sig,
		responder: resp,
		self:      *self,
		state:     domain.NewRoomSession(),
		store:     NewStore(),
		reg:       NewRegistry(),
		events:    make(chan func(), 128),
		updates:   make(chan struct{}, 1),
	}
	s.typing = newTypingTracker(cfg.TypingInterval, cfg.TypingQuiet, func() {
		s.post(s.typingQuietExpired)
	})
	return s, nil
}

// CreateRoom assumes the host role and publishes the room with the
// signaling service. Failure to register is fatal for the session.
func (s *Session) CreateRoom(ctx context.Context) (domain.RoomID, error) {
	s.start(ctx, domain.RoleHost)
	s.setStatus(domain.StatusConnecting, "")

	roomID, accept, err := s.transport.Listen(s.ctx)
	if err != nil {
		s.fail("room registration failed: " + err.Error())
		return "", fmt.Errorf("register room: %w", err)
	}

	s.mu.Lock()
	s.state.RoomID = roomID
	s.state.Roster = []domain.Participant{s.self}
	s.mu.Unlock()

	s.setStatus(domain.StatusConnected, "")
	log.Info().Str("module", "session").Str("room", string(roomID)).Msg("room created")

	go s.acceptLoop(accept)
	s.startSupervisor()
	return roomID, nil
}

// JoinRoom assumes the guest role and dials the host. It returns
// immediately; the session reaches Connected once the host has
// acknowledged the handshake with a roster or history delivery.
func (s *Session) JoinRoom(ctx context.Context, room domain.RoomID) {
	s.start(ctx, domain.RoleGuest)
	s.setStatus(domain.StatusConnecting, "")
	s.mu.Lock()
	s.state.RoomID = room
	s.mu.Unlock()

	go s.dialLoop(room)
	s.startSupervisor()
}

func (s *Session) start(ctx context.Context, role domain.Role) {
	s.role = role
	s.self.Role = role
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
}

func (s *Session) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// post schedules fn on the event loop. Events posted before CreateRoom
// or JoinRoom, or after the session terminates, are dropped.
func (s *Session) post(fn func()) {
	if s.ctx == nil {
		return
	}
	select {
	case s.events <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Session) acceptLoop(accept <-chan core.Connection) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case conn, ok := <-accept:
			if !ok {
				return
			}
			log.Info().Str("module", "session").Str("peer", conn.PeerAddr()).Msg("inbound connection")
			go s.pump(conn)
		}
	}
}

// dialLoop implements the bounded retry policy of the role manager:
// "room not found" may be transient while the host is still
// registering, so it is retried a fixed number of times with fixed
// backoff. Collisions and network failures are fatal immediately.
func (s *Session) dialLoop(room domain.RoomID) {
	attempts := 0
	for {
		dctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
		conn, err := s.transport.Dial(dctx, room)
		cancel()
		if err == nil {
			s.post(func() { s.attachHost(conn) })
			return
		}
		if errors.Is(err, core.ErrRoomNotFound) && attempts < s.cfg.DialRetries {
			attempts++
			log.Warn().Str("module", "session").Str("room", string(room)).Int("attempt", attempts).Msg("room not found, retrying")
			select {
			case <-time.After(s.cfg.DialRetryDelay):
				continue
			case <-s.ctx.Done():
				return
			}
		}
		reason := "dial failed: " + err.Error()
		switch {
		case errors.Is(err, core.ErrRoomNotFound):
			reason = "room not found"
		case errors.Is(err, core.ErrIDCollision):
			reason = "room id collision"
		}
		s.post(func() { s.fail(reason) })
		return
	}
}

func (s *Session) attachHost(conn core.Connection) {
	s.hostConn = conn
	go s.pump(conn)
	env, err := protocol.New(protocol.Handshake{Participant: s.self})
	if err != nil {
		s.fail("encode handshake: " + err.Error())
		return
	}
	if err := conn.Send(env); err != nil {
		s.fail("send handshake: " + err.Error())
	}
}

// pump turns one connection's inbound traffic into loop events.
func (s *Session) pump(conn core.Connection) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-conn.Closed():
			s.post(func() { s.handleClose(conn) })
			return
		case env, ok := <-conn.Recv():
			if !ok {
				s.post(func() { s.handleClose(conn) })
				return
			}
			s.post(func() { s.handleEnvelope(conn, env) })
		}
	}
}

func (s *Session) handleEnvelope(conn core.Connection, env *protocol.Envelope) {
	payload, err := env.Decode()
	if err != nil {
		log.Warn().Str("module", "session").Err(err).Str("peer", conn.PeerAddr()).Msg("bad envelope")
		return
	}
	switch p := payload.(type) {
	case *protocol.Handshake:
		if s.role != domain.RoleHost {
			log.Warn().Str("module", "session").Msg("handshake received by guest, ignored")
			return
		}
		s.admitGuest(conn, p.Participant)
	case *protocol.Chat:
		if s.role == domain.RoleHost && !s.reg.Known(conn) {
			// No handshake yet, or the close event already ran.
			log.Debug().Str("module", "session").Str("peer", conn.PeerAddr()).Msg("chat from unregistered connection dropped")
			return
		}
		s.acceptMessage(p.Message)
	case *protocol.RosterUpdate:
		if s.role != domain.RoleGuest {
			log.Warn().Str("module", "session").Msg("roster update received by host, ignored")
			return
		}
		s.applyRoster(p.Roster)
	case *protocol.Typing:
		if s.role == domain.RoleHost && !s.reg.Known(conn) {
			log.Debug().Str("module", "session").Str("peer", conn.PeerAddr()).Msg("typing from unregistered connection dropped")
			return
		}
		s.applyTyping(p)
	case *protocol.PresenceUpdate:
		if s.role == domain.RoleHost && !s.reg.Known(conn) {
			log.Debug().Str("module", "session").Str("peer", conn.PeerAddr()).Msg("presence from unregistered connection dropped")
			return
		}
		s.applyPresence(p.ParticipantID, p.Presence)
	case *protocol.HistoryChunk:
		if s.role != domain.RoleGuest {
			return
		}
		s.applyHistoryChunk(p)
	case *protocol.Eviction:
		if s.role != domain.RoleGuest {
			return
		}
		s.evicted(p.Reason)
	}
}

// admitGuest runs on the host when a handshake arrives. Identity is
// bound to the connection here, before anything else can happen on it.
func (s *Session) admitGuest(conn core.Connection, p domain.Participant) {
	p.Role = domain.RoleGuest
	if p.Presence == "" {
		p.Presence = domain.PresenceOnline
	}
	s.reg.Register(conn, p.ID)

	s.mu.Lock()
	s.state.UpsertParticipant(p)
	s.mu.Unlock()

	s.broadcastRoster()
	s.acceptMessage(domain.NewSystemMessage(p.DisplayName + " joined the room."))
	s.scheduleReplay(p.ID)
	s.notify()
}

func (s *Session) applyRoster(roster []domain.Participant) {
	s.mu.Lock()
	s.state.Roster = roster
	for i := range roster {
		if roster[i].ID == s.self.ID {
			s.self.Muted = roster[i].Muted
		}
	}
	s.mu.Unlock()
	s.ackConnected()
	s.notify()
}

// ackConnected completes the guest join: the first host-originated
// roster or history delivery is the admission acknowledgement.
func (s *Session) ackConnected() {
	s.mu.RLock()
	connecting := s.state.Status == domain.StatusConnecting
	s.mu.RUnlock()
	if connecting {
		s.setStatus(domain.StatusConnected, "")
		log.Info().Str("module", "session").Msg("joined room")
	}
}

func (s *Session) handleClose(conn core.Connection) {
	if s.role == domain.RoleHost {
		id, ok := s.reg.Unregister(conn)
		if !ok {
			// Never completed a handshake, or already handled
			// (eviction unregisters eagerly).
			return
		}
		s.dropParticipant(id, "left the room.")
		return
	}
	if conn != s.hostConn {
		return
	}
	s.mu.RLock()
	terminal := s.state.Status.Terminal()
	s.mu.RUnlock()
	if terminal {
		return
	}
	// A guest has no peer to fall back to.
	s.fail("host left the room")
}

// dropParticipant removes one roster entry and announces the departure.
// Used for organic disconnects and evictions alike; the registry's
// exactly-once unregister guarantees a single departure message.
func (s *Session) dropParticipant(id domain.ParticipantID, announce string) {
	s.mu.Lock()
	p := s.state.FindParticipant(id)
	if p == nil {
		s.mu.Unlock()
		return
	}
	name := p.DisplayName
	s.state.RemoveParticipant(id)
	s.mu.Unlock()

	s.broadcastRoster()
	s.acceptMessage(domain.NewSystemMessage(name + " " + announce))
	s.notify()
}

func (s *Session) broadcastRoster() {
	s.mu.RLock()
	roster := make([]domain.Participant, len(s.state.Roster))
	copy(roster, s.state.Roster)
	s.mu.RUnlock()

	env, err := protocol.New(protocol.RosterUpdate{Roster: roster})
	if err != nil {
		log.Error().Str("module", "session").Err(err).Msg("encode roster")
		return
	}
	s.fanOut(env)
}

func (s *Session) setStatus(st domain.SessionStatus, lastError string) {
	s.mu.Lock()
	s.state.Status = st
	if lastError != "" {
		s.state.LastError = lastError
	}
	s.mu.Unlock()
	s.notify()
}

// fail moves the session to the terminal Error state.
func (s *Session) fail(reason string) {
	log.Error().Str("module", "session").Str("reason", reason).Msg("session failed")
	s.setStatus(domain.StatusError, reason)
	s.cancel()
}

// notify coalesces change signals for whoever renders the session.
func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates signals after any observable state change. Signals are
// coalesced; consumers re-read Snapshot.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Snapshot returns a copy of the current session state for rendering.
func (s *Session) Snapshot() domain.RoomSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.RoomSession{
		RoomID:    s.state.RoomID,
		Status:    s.state.Status,
		LastError: s.state.LastError,
		Roster:    make([]domain.Participant, len(s.state.Roster)),
		Typing:    make(map[string]struct{}, len(s.state.Typing)),
		Log:       s.store.Messages(),
	}
	copy(out.Roster, s.state.Roster)
	for name := range s.state.Typing {
		out.Typing[name] = struct{}{}
	}
	return out
}

func (s *Session) Status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status
}

func (s *Session) Self() domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// Thinking reports whether a responder call is in flight.
func (s *Session) Thinking() bool { return s.thinking.Load() > 0 }

// Close tears the session down. Peer connections are owned by the
// transport and closed with it.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.transport.Close()
}
