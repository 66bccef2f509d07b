package session

import (
	"sort"
	"sync"

	"github.com/meshchat/meshchat/internal/domain"
)

// Store is the ordered message log plus the set of message ids already
// applied. The seen set only grows for the lifetime of the session;
// that is what makes re-delivery idempotent no matter the path a
// duplicate took.
type Store struct {
	mu   sync.RWMutex
	log  []domain.ChatMessage
	seen map[domain.MessageID]struct{}
}

func NewStore() *Store {
	return &Store{seen: make(map[domain.MessageID]struct{})}
}

// MarkSeen records the id and reports whether it was new. A false
// return means the message was already applied (or deliberately
// poisoned, e.g. a muted sender's message) and must be dropped.
func (s *Store) MarkSeen(id domain.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

func (s *Store) Seen(id domain.MessageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

func (s *Store) Append(msg domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, msg)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// Messages returns a copy of the log in its current order.
func (s *Store) Messages() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ChatMessage, len(s.log))
	copy(out, s.log)
	return out
}

// MergeChunk folds one replayed history slice into the log: union by
// message id with whatever is already present (including live messages
// that raced the replay), re-sorted by CreatedAt. The merge is stable
// and idempotent, so chunk arrival order and duplication do not matter.
func (s *Store) MergeChunk(msgs []domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		if _, ok := s.seen[m.ID]; ok {
			continue
		}
		s.seen[m.ID] = struct{}{}
		s.log = append(s.log, m)
	}
	sort.SliceStable(s.log, func(i, j int) bool {
		return s.log[i].CreatedAt.Before(s.log[j].CreatedAt)
	})
}
