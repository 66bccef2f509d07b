package session

import (
	"time"

	"github.com/rs/zerolog/log"
)

// startSupervisor watches the signaling link only. Peer connections
// that close are membership changes, never transient faults, so they
// are deliberately outside this loop.
func (s *Session) startSupervisor() {
	if s.signaler == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.SupervisorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if s.signaler.Connected() {
					continue
				}
				log.Warn().Str("module", "session.reconnect").Msg("signaling link down, reconnecting")
				if err := s.signaler.Reconnect(s.ctx); err != nil {
					log.Error().Str("module", "session.reconnect").Err(err).Msg("signaling reconnect failed")
				}
			}
		}
	}()
}
