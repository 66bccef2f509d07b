package session

import (
	"context"
	"sync"
	"time"

	"github.com/meshchat/meshchat/internal/config"
	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/protocol"
)

// fakeConn is one end of an in-memory connection pair.
type fakeConn struct {
	addr   string
	peer   *fakeConn
	recv   chan *protocol.Envelope
	closed chan struct{}
	once   sync.Once
}

func newConnPair() (*fakeConn, *fakeConn) {
	a := &fakeConn{addr: "a", recv: make(chan *protocol.Envelope, 256), closed: make(chan struct{})}
	b := &fakeConn{addr: "b", recv: make(chan *protocol.Envelope, 256), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *fakeConn) Send(env *protocol.Envelope) error {
	select {
	case <-c.closed:
		return core.ErrBackpressure
	case c.peer.recv <- env:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *fakeConn) Recv() <-chan *protocol.Envelope { return c.recv }
func (c *fakeConn) Closed() <-chan struct{}         { return c.closed }
func (c *fakeConn) PeerAddr() string                { return c.addr }

func (c *fakeConn) Close() {
	c.once.Do(func() { close(c.closed) })
	c.peer.once.Do(func() { close(c.peer.closed) })
}

type dialStep struct {
	conn core.Connection
	err  error
}

// fakeTransport scripts Dial results and exposes the Listen accept
// channel so tests can hand inbound connections to a host.
type fakeTransport struct {
	roomID    domain.RoomID
	listenErr error
	accept    chan core.Connection

	mu     sync.Mutex
	script []dialStep
	dials  int
}

func newFakeTransport(room domain.RoomID) *fakeTransport {
	return &fakeTransport{roomID: room, accept: make(chan core.Connection, 8)}
}

func (f *fakeTransport) Listen(ctx context.Context) (domain.RoomID, <-chan core.Connection, error) {
	if f.listenErr != nil {
		return "", nil, f.listenErr
	}
	return f.roomID, f.accept, nil
}

func (f *fakeTransport) Dial(ctx context.Context, room domain.RoomID) (core.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if len(f.script) == 0 {
		return nil, core.ErrRoomNotFound
	}
	step := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	} else if step.err == nil {
		f.script = nil
	}
	return step.conn, step.err
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) Close() {}

// fakeResponder settles with a scripted reply or error after an
// optional delay.
type fakeResponder struct {
	reply string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeResponder) Respond(ctx context.Context, prompt string, history []domain.ChatMessage) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type fakeSignaler struct {
	mu         sync.Mutex
	up         bool
	reconnects int
}

func (f *fakeSignaler) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeSignaler) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.up = true
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		DialTimeout:        time.Second,
		DialRetries:        3,
		DialRetryDelay:     5 * time.Millisecond,
		HistoryChunkSize:   2,
		HistorySettleDelay: 5 * time.Millisecond,
		TypingInterval:     40 * time.Millisecond,
		TypingQuiet:        60 * time.Millisecond,
		EvictionGrace:      50 * time.Millisecond,
		SupervisorInterval: 20 * time.Millisecond,
		BotName:            "bot",
	}
}

func testProfile(id, name string) *domain.Profile {
	return &domain.Profile{ID: domain.ParticipantID(id), DisplayName: name, ColorTag: "#336699"}
}
