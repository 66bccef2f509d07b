package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

// Mute flags a participant so the relay drops their messages. The
// connection stays open; enforcement happens entirely in the accept
// path. Host only.
func (s *Session) Mute(id domain.ParticipantID)   { s.setMuted(id, true) }
func (s *Session) Unmute(id domain.ParticipantID) { s.setMuted(id, false) }

func (s *Session) setMuted(id domain.ParticipantID, muted bool) {
	s.post(func() {
		if s.role != domain.RoleHost {
			log.Warn().Str("module", "session.moderation").Msg("mute ignored: not host")
			return
		}
		s.mu.Lock()
		p := s.state.FindParticipant(id)
		if p == nil {
			s.mu.Unlock()
			return
		}
		p.Muted = muted
		s.mu.Unlock()
		log.Info().Str("module", "session.moderation").Str("participant", string(id)).Bool("muted", muted).Msg("mute changed")
		s.broadcastRoster()
		s.notify()
	})
}

// Evict removes a participant from the room. The eviction notice gets
// a short grace period to reach the peer before the connection is
// closed, but the roster removal and departure notice are applied
// immediately so the eviction is never left pending on the round trip.
// Host only.
func (s *Session) Evict(id domain.ParticipantID, reason string) {
	s.post(func() {
		if s.role != domain.RoleHost {
			log.Warn().Str("module", "session.moderation").Msg("evict ignored: not host")
			return
		}
		if conn, ok := s.reg.Find(id); ok {
			s.sendTo(conn, protocol.MustNew(protocol.Eviction{Reason: reason}))
			time.AfterFunc(s.cfg.EvictionGrace, conn.Close)
			// Unregister now so the eventual close event is a no-op
			// and the departure is announced exactly once.
			s.reg.Unregister(conn)
		}
		log.Info().Str("module", "session.moderation").Str("participant", string(id)).Str("reason", reason).Msg("evicted")
		s.dropParticipant(id, "was removed from the room.")
	})
}

// evicted runs on a guest that received an eviction notice. Kicked is
// terminal and distinct from Error so the caller can present it
// differently; no automatic rejoin is ever attempted.
func (s *Session) evicted(reason string) {
	if reason == "" {
		reason = "removed by the host"
	}
	log.Info().Str("module", "session.moderation").Str("reason", reason).Msg("evicted from room")
	s.setStatus(domain.StatusKicked, reason)
	if s.hostConn != nil {
		s.hostConn.Close()
	}
	s.cancel()
}
