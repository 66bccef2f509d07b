// Package signalclient is the websocket client side of the rendezvous
// service in internal/signal.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/core"
	"github.com/meshchat/meshchat/internal/domain"
	"github.com/meshchat/meshchat/internal/signal"
)

var ErrClosed = errors.New("signaling connection closed")

// registerKey routes register replies, which carry no exchange id.
const registerKey = "register"

// OfferHandler answers one inbound offer with an SDP answer. Set on
// the host before Register.
type OfferHandler func(offerSDP string) (answerSDP string, err error)

type Client struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan []byte
	pending map[string]chan signal.Frame

	onOffer   OfferHandler
	regRoom   domain.RoomID // reclaimed on reconnect
	connected atomic.Bool
}

func New(url string) *Client {
	return &Client{
		url:     url,
		pending: make(map[string]chan signal.Frame),
	}
}

func (c *Client) SetOfferHandler(fn OfferHandler) {
	c.mu.Lock()
	c.onOffer = fn
	c.mu.Unlock()
}

// Connect dials the signaling socket and starts the pumps. Safe to
// call again after the link drops.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial signaling %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.send != nil {
		close(c.send)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.send = make(chan []byte, 32)
	c.mu.Unlock()
	c.connected.Store(true)

	go c.writePump(conn, c.send)
	go c.readPump(conn)
	go c.keepalive(c.send)
	log.Info().Str("module", "signalclient").Str("url", c.url).Msg("signaling connected")
	return nil
}

// keepalive pings over the link so dead sockets surface as read errors
// instead of lingering until the next exchange.
func (c *Client) keepalive(send chan []byte) {
	data, _ := json.Marshal(signal.Frame{Type: signal.TypePing})
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		if c.send != send {
			c.mu.Unlock()
			return
		}
		select {
		case send <- data:
		default:
		}
		c.mu.Unlock()
	}
}

func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte) {
	for data := range send {
		if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signalclient").Msg("write error")
			return
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		c.connected.Store(false)
		c.failPending()
		_ = conn.Close()
		log.Warn().Str("module", "signalclient").Msg("signaling link closed")
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f signal.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Error().Err(err).Str("module", "signalclient").Msg("bad frame")
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f signal.Frame) {
	switch f.Type {
	case signal.TypeRegistered:
		c.deliver(registerKey, f)
	case signal.TypeAnswer:
		c.deliver(f.XID, f)
	case signal.TypeError:
		key := f.XID
		if key == "" {
			key = registerKey
		}
		c.deliver(key, f)
	case signal.TypeOffer:
		c.handleInboundOffer(f)
	case signal.TypePong:
	default:
		log.Warn().Str("module", "signalclient").Str("type", f.Type).Msg("unknown frame")
	}
}

func (c *Client) handleInboundOffer(f signal.Frame) {
	c.mu.Lock()
	handler := c.onOffer
	c.mu.Unlock()
	if handler == nil {
		log.Warn().Str("module", "signalclient").Msg("offer received without handler")
		return
	}
	// Answering involves ICE gathering; keep it off the read loop.
	go func() {
		answer, err := handler(f.SDP)
		if err != nil {
			log.Error().Err(err).Str("module", "signalclient").Str("xid", f.XID).Msg("answer offer")
			return
		}
		c.post(signal.Frame{Type: signal.TypeAnswer, XID: f.XID, SDP: answer})
	}()
}

// Register publishes a room. An empty want lets the server assign the
// id; a reconnecting host passes its previous id to reclaim it.
func (c *Client) Register(ctx context.Context, want domain.RoomID) (domain.RoomID, error) {
	ch := c.expect(registerKey)
	c.post(signal.Frame{Type: signal.TypeRegister, Room: string(want)})

	f, err := c.await(ctx, registerKey, ch)
	if err != nil {
		return "", err
	}
	if f.Type == signal.TypeError {
		if f.Error == signal.ErrCodeIDTaken {
			return "", core.ErrIDCollision
		}
		return "", fmt.Errorf("register rejected: %s", f.Error)
	}

	room := domain.RoomID(f.Room)
	c.mu.Lock()
	c.regRoom = room
	c.mu.Unlock()
	return room, nil
}

// Offer performs one dial exchange: send the offer, wait for the
// host's answer routed back by the server.
func (c *Client) Offer(ctx context.Context, room domain.RoomID, sdp string) (string, error) {
	xid := uuid.NewString()
	ch := c.expect(xid)
	c.post(signal.Frame{Type: signal.TypeOffer, Room: string(room), XID: xid, SDP: sdp})

	f, err := c.await(ctx, xid, ch)
	if err != nil {
		return "", err
	}
	if f.Type == signal.TypeError {
		if f.Error == signal.ErrCodeRoomNotFound {
			return "", core.ErrRoomNotFound
		}
		return "", fmt.Errorf("offer rejected: %s", f.Error)
	}
	return f.SDP, nil
}

// Connected implements core.Signaler.
func (c *Client) Connected() bool { return c.connected.Load() }

// Reconnect implements core.Signaler: re-dial the socket and reclaim
// the published room, if any.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	room := c.regRoom
	c.mu.Unlock()
	if room == "" {
		return nil
	}
	if _, err := c.Register(ctx, room); err != nil {
		return fmt.Errorf("reclaim room %s: %w", room, err)
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	conn, send := c.conn, c.send
	c.conn, c.send = nil, nil
	if send != nil {
		close(send)
	}
	c.mu.Unlock()
	c.connected.Store(false)
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) post(f signal.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "signalclient").Msg("marshal frame")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("module", "signalclient").Str("type", f.Type).Msg("frame dropped: backpressure")
	}
}

func (c *Client) expect(key string) chan signal.Frame {
	ch := make(chan signal.Frame, 1)
	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) await(ctx context.Context, key string, ch chan signal.Frame) (signal.Frame, error) {
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()
	select {
	case f, ok := <-ch:
		if !ok {
			return signal.Frame{}, ErrClosed
		}
		return f, nil
	case <-ctx.Done():
		return signal.Frame{}, ctx.Err()
	}
}

func (c *Client) deliver(key string, f signal.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "signalclient").Str("key", key).Str("type", f.Type).Msg("unexpected reply")
		return
	}
	ch <- f
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
}
