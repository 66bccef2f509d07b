package session

import (
	"time"

	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

// typingTracker debounces the local "I am typing" signal: an assertion
// goes out at most once per interval while keystrokes continue, and a
// stop goes out after a quiet period or immediately on message send.
// All methods run on the session's event loop; only the quiet timer
// fires elsewhere and re-enters through onQuiet.
type typingTracker struct {
	interval time.Duration
	quiet    time.Duration
	onQuiet  func()

	active   bool
	lastSent time.Time
	timer    *time.Timer
}

func newTypingTracker(interval, quiet time.Duration, onQuiet func()) *typingTracker {
	return &typingTracker{interval: interval, quiet: quiet, onQuiet: onQuiet}
}

// keystroke records input activity and reports whether an assertion
// should be sent now.
func (t *typingTracker) keystroke(now time.Time) bool {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.quiet, t.onQuiet)
	t.active = true
	if now.Sub(t.lastSent) < t.interval {
		return false
	}
	t.lastSent = now
	return true
}

// stop clears the typing state and reports whether a stop signal
// should be sent (false when none was ever asserted).
func (t *typingTracker) stop() bool {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.active {
		return false
	}
	t.active = false
	t.lastSent = time.Time{}
	return true
}

// Keystroke is called by the composer on every input change.
func (s *Session) Keystroke() {
	s.post(func() {
		if s.typing.keystroke(time.Now()) {
			s.sendTyping(true)
		}
	})
}

func (s *Session) typingQuietExpired() {
	s.stopTypingNow()
}

func (s *Session) stopTypingNow() {
	if s.typing.stop() {
		s.sendTyping(false)
	}
}

func (s *Session) sendTyping(isTyping bool) {
	s.setTypingName(s.self.DisplayName, isTyping)
	s.fanOut(protocol.MustNew(protocol.Typing{Name: s.self.DisplayName, IsTyping: isTyping}))
}

// applyTyping handles a remote typing signal. There is no message id
// here: idempotency comes from this being pure state assignment.
func (s *Session) applyTyping(p *protocol.Typing) {
	s.setTypingName(p.Name, p.IsTyping)
	if s.role == domain.RoleHost {
		s.fanOut(protocol.MustNew(protocol.Typing{Name: p.Name, IsTyping: p.IsTyping}))
	}
}

func (s *Session) setTypingName(name string, isTyping bool) {
	s.mu.Lock()
	if isTyping {
		s.state.Typing[name] = struct{}{}
	} else {
		delete(s.state.Typing, name)
	}
	s.mu.Unlock()
	s.notify()
}

// SetPresence reports the local foreground/background transition. A
// guest sends it to the host; the host updates its roster directly and
// rebroadcasts.
func (s *Session) SetPresence(p domain.Presence) {
	s.post(func() {
		s.mu.Lock()
		s.self.Presence = p
		s.mu.Unlock()
		s.applyPresence(s.self.ID, p)
		if s.role == domain.RoleGuest {
			s.fanOut(protocol.MustNew(protocol.PresenceUpdate{ParticipantID: s.self.ID, Presence: p}))
		}
	})
}

// applyPresence assigns one participant's presence. On the host the
// updated roster is rebroadcast so every replica converges.
func (s *Session) applyPresence(id domain.ParticipantID, presence domain.Presence) {
	s.mu.Lock()
	if p := s.state.FindParticipant(id); p != nil {
		p.Presence = presence
	}
	s.mu.Unlock()
	if s.role == domain.RoleHost {
		s.broadcastRoster()
	}
	s.notify()
}
