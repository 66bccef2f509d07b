// Package rtc carries the peer mesh over WebRTC data channels. One
// Conn wraps one PeerConnection with a single reliable, ordered
// channel; signaling goes through internal/transport/signalclient.
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/protocol"
)

type Conn struct {
	pc   *webrtc.PeerConnection
	addr string

	mu sync.Mutex
	dc *webrtc.DataChannel

	recv   chan *protocol.Envelope
	opened chan struct{}
	closed chan struct{}

	openOnce  sync.Once
	closeOnce sync.Once
}

func newConn(pc *webrtc.PeerConnection, addr string) *Conn {
	c := &Conn{
		pc:     pc,
		addr:   addr,
		recv:   make(chan *protocol.Envelope, 256),
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", addr).Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.markClosed()
		}
	})
	return c
}

// bind attaches the data channel, created locally on dial or received
// via OnDataChannel on the answering side.
func (c *Conn) bind(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		log.Info().Str("module", "rtc").Str("peer", c.addr).Str("label", dc.Label()).Msg("data channel open")
		c.openOnce.Do(func() { close(c.opened) })
	})
	dc.OnClose(func() {
		c.markClosed()
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		env, err := protocol.Unmarshal(m.Data)
		if err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", c.addr).Msg("bad frame dropped")
			return
		}
		select {
		case c.recv <- env:
		default:
			log.Warn().Str("module", "rtc").Str("peer", c.addr).Msg("recv buffer full, frame dropped")
		}
	})
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Conn) Send(env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return webrtc.ErrConnectionClosed
	}
	return dc.SendText(string(data))
}

func (c *Conn) Recv() <-chan *protocol.Envelope { return c.recv }
func (c *Conn) Closed() <-chan struct{}         { return c.closed }
func (c *Conn) PeerAddr() string                { return c.addr }

func (c *Conn) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", c.addr).Msg("close error")
	}
	c.markClosed()
}
