package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

// scheduleReplay queues the history transfer for a freshly admitted
// guest. The short delay lets the roster broadcast settle before the
// channel fills with chunks. Runs once per admission.
func (s *Session) scheduleReplay(id domain.ParticipantID) {
	time.AfterFunc(s.cfg.HistorySettleDelay, func() {
		s.post(func() { s.replayTo(id) })
	})
}

// replayTo sends the accumulated log to one guest as a sequence of
// fixed-size chunks rather than a single payload, so live traffic is
// not starved. The snapshot is taken at send time and thus includes
// the guest's own arrival notice.
func (s *Session) replayTo(id domain.ParticipantID) {
	conn, ok := s.reg.Find(id)
	if !ok {
		// Left or was evicted before the settle delay elapsed.
		return
	}
	msgs := s.store.Messages()
	if len(msgs) == 0 {
		return
	}
	chunks := chunkMessages(msgs, s.cfg.HistoryChunkSize)
	for i, chunk := range chunks {
		env, err := protocol.New(protocol.HistoryChunk{Messages: chunk, Seq: i, Total: len(chunks)})
		if err != nil {
			log.Error().Str("module", "session.history").Err(err).Msg("encode history chunk")
			return
		}
		if err := conn.Send(env); err != nil {
			log.Warn().Str("module", "session.history").Err(err).Str("participant", string(id)).Int("seq", i).Msg("history send failed")
			return
		}
	}
	log.Info().Str("module", "session.history").Str("participant", string(id)).Int("messages", len(msgs)).Int("chunks", len(chunks)).Msg("history replayed")
}

func chunkMessages(msgs []domain.ChatMessage, size int) [][]domain.ChatMessage {
	if size <= 0 {
		size = 25
	}
	var out [][]domain.ChatMessage
	for start := 0; start < len(msgs); start += size {
		end := start + size
		if end > len(msgs) {
			end = len(msgs)
		}
		out = append(out, msgs[start:end])
	}
	return out
}

// applyHistoryChunk merges one replayed slice into the guest's log.
// Order-stable and idempotent regardless of chunk arrival order or
// duplication; see Store.MergeChunk.
func (s *Session) applyHistoryChunk(chunk *protocol.HistoryChunk) {
	s.store.MergeChunk(chunk.Messages)
	s.ackConnected()
	s.notify()
}
