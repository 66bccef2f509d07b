package session

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

// SendText composes and submits a text message authored locally. The
// returned message carries the id the rest of the mesh will dedup on.
func (s *Session) SendText(body string) domain.ChatMessage {
	msg := domain.NewChatMessage(&s.self, body, domain.KindText)
	s.post(func() {
		s.stopTypingNow()
		s.acceptMessage(msg)
	})
	return msg
}

// SendImage submits an image reference (the compressed payload or URL
// produced by the caller; the core does not touch image bytes).
func (s *Session) SendImage(ref string) domain.ChatMessage {
	msg := domain.NewChatMessage(&s.self, ref, domain.KindImage)
	s.post(func() {
		s.stopTypingNow()
		s.acceptMessage(msg)
	})
	return msg
}

// acceptMessage is the single ingestion path for every chat message:
// local sends, relayed envelopes, system notices, history has its own
// merge. Dedup first, then the host's mute gate, then append and
// fan-out. Runs on the event loop.
func (s *Session) acceptMessage(msg domain.ChatMessage) {
	if !s.store.MarkSeen(msg.ID) {
		// Expected all the time in a star topology: the host
		// re-broadcasts to the originator too. Not an error.
		log.Debug().Str("module", "session.relay").Str("id", string(msg.ID)).Msg("duplicate discarded")
		return
	}

	if s.role == domain.RoleHost && msg.AuthorID != "" {
		s.mu.RLock()
		author := s.state.FindParticipant(msg.AuthorID)
		muted := author != nil && author.Muted
		s.mu.RUnlock()
		if muted {
			// Recorded as seen above so a resend of the same id
			// can never reappear, but never logged or relayed.
			log.Debug().Str("module", "session.relay").Str("author", string(msg.AuthorID)).Msg("muted sender, dropped")
			return
		}
	}

	s.store.Append(msg)

	env, err := protocol.New(protocol.Chat{Message: msg})
	if err != nil {
		log.Error().Str("module", "session.relay").Err(err).Msg("encode chat")
	} else {
		s.fanOut(env)
	}

	if s.role == domain.RoleHost && msg.Kind == domain.KindText && s.responder != nil && s.addressesBot(msg.Body) {
		s.askResponder(msg)
	}
	s.notify()
}

// fanOut forwards an envelope along the star topology: the host sends
// to every registered connection (including the originator's, which
// re-deduplicates on its own cache), a guest sends to the host only.
func (s *Session) fanOut(env *protocol.Envelope) {
	if s.role == domain.RoleHost {
		for _, conn := range s.reg.AllOpen() {
			s.sendTo(conn, env)
		}
		return
	}
	if s.hostConn != nil {
		s.sendTo(s.hostConn, env)
	}
}

func (s *Session) sendTo(conn core.Connection, env *protocol.Envelope) {
	if err := conn.Send(env); err != nil {
		log.Warn().Str("module", "session.relay").Err(err).Str("peer", conn.PeerAddr()).Str("kind", string(env.Kind)).Msg("send failed")
	}
}

func (s *Session) addressesBot(body string) bool {
	return strings.Contains(strings.ToLower(body), "@"+strings.ToLower(s.cfg.BotName))
}

// askResponder invokes the external responder off the loop. A second
// concurrent call is acceptable; completions re-enter through the same
// accept-and-dedup path, so the log cannot be corrupted. Failures
// produce no message, only the cleared thinking flag.
func (s *Session) askResponder(trigger domain.ChatMessage) {
	s.thinking.Add(1)
	s.notify()
	history := s.store.Messages()
	go func() {
		text, err := s.responder.Respond(s.ctx, trigger.Body, history)
		s.post(func() {
			s.thinking.Add(-1)
			if err != nil {
				log.Warn().Str("module", "session.relay").Err(err).Msg("responder failed, no reply")
				s.notify()
				return
			}
			if text == "" {
				s.notify()
				return
			}
			bot := s.botParticipant()
			s.acceptMessage(domain.NewChatMessage(&bot, text, domain.KindBotReply))
		})
	}()
}

// botParticipant is a synthetic author for replies; the bot never
// appears in the roster.
func (s *Session) botParticipant() domain.Participant {
	return domain.Participant{
		ID:          domain.ParticipantID("bot:" + s.cfg.BotName),
		DisplayName: s.cfg.BotName,
		Presence:    domain.PresenceOnline,
	}
}
