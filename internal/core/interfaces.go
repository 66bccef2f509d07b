// Package core declares the capabilities the session engine consumes.
// Adapters own the concrete resources; the engine only sees these
// interfaces.
package core

import (
	"context"
	"errors"

	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

// ErrBackpressure is returned by Connection.Send when the peer cannot
// keep up and the frame was dropped rather than queued unboundedly.
var ErrBackpressure = errors.New("send buffer full")

// Dial failure classes. The reconnection policy keys off these: only
// ErrRoomNotFound is worth retrying, the rest do not self-resolve.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrIDCollision  = errors.New("room id already taken")
)

// Connection is one reliable, ordered channel to a single peer.
// Inbound envelopes arrive on Recv; Closed is signalled exactly once,
// whether the close was local or remote.
type Connection interface {
	Send(env *protocol.Envelope) error
	Recv() <-chan *protocol.Envelope
	Closed() <-chan struct{}
	Close()
	// PeerAddr is a transport-level label for logging only. Identity
	// always comes from the handshake, never from the address.
	PeerAddr() string
}

// Transport pairs the peer channel with the signaling rendezvous.
// Listen publishes a room id and yields inbound connections; Dial
// resolves a room id to a connection with the host.
type Transport interface {
	Listen(ctx context.Context) (domain.RoomID, <-chan Connection, error)
	Dial(ctx context.Context, room domain.RoomID) (Connection, error)
	Close()
}

// Signaler is the health surface of the rendezvous link, watched by
// the reconnection supervisor. Peer connections are never watched
// this way: a closed peer connection is a membership change.
type Signaler interface {
	Connected() bool
	Reconnect(ctx context.Context) error
}

// Responder produces a reply when the bot participant is addressed.
// It may be slow and it may fail; a failure degrades to no reply.
type Responder interface {
	Respond(ctx context.Context, prompt string, history []domain.ChatMessage) (string, error)
}

// ProfileStore keeps the participant identity stable across sessions.
type ProfileStore interface {
	Load() (*domain.Profile, error)
	Save(p *domain.Profile) error
}
