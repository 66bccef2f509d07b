package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meshchat/meshchat/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Server owns the room table. A room exists exactly as long as the
// socket that registered it: when the host socket drops, its rooms go
// with it and later dials report room_not_found.
type Server struct {
	mu        sync.RWMutex
	rooms     map[domain.RoomID]*wsConn
	exchanges map[string]*wsConn // xid -> guest awaiting an answer
	limiter   *RateLimiter
}

func NewServer() *Server {
	return &Server{
		rooms:     make(map[domain.RoomID]*wsConn),
		exchanges: make(map[string]*wsConn),
		limiter:   NewRateLimiter(30, time.Minute),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{conn: ws, send: make(chan []byte, 32)}
	ctx, cancel := context.WithCancel(ctx)

	go s.writePump(ctx, conn)
	go func() {
		defer cancel()
		s.readPump(ctx, sid, conn)
	}()
}

func (s *Server) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, sid string, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump closing")
		s.dropConn(c)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleFrame(sid, c, data)
		}
	}
}

func (s *Server) handleFrame(sid string, c *wsConn, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		s.sendFrame(c, Frame{Type: TypeError, Error: ErrCodeBadPayload})
		return
	}

	switch f.Type {
	case TypeRegister:
		if !s.limiter.Allow(sid) {
			s.sendFrame(c, Frame{Type: TypeError, XID: f.XID, Error: ErrCodeRateLimited})
			return
		}
		s.handleRegister(sid, c, f)
	case TypeOffer:
		if !s.limiter.Allow(sid) {
			s.sendFrame(c, Frame{Type: TypeError, XID: f.XID, Error: ErrCodeRateLimited})
			return
		}
		s.handleOffer(sid, c, f)
	case TypeAnswer:
		s.handleAnswer(c, f)
	case TypePing:
		s.sendFrame(c, Frame{Type: TypePong})
	default:
		log.Warn().Str("module", "signal").Str("type", f.Type).Msg("unknown signal")
	}
}

// handleRegister publishes a room for the host socket. A requested id
// lets a reconnecting host reclaim its address; a requested id held by
// a different live socket is a collision.
func (s *Server) handleRegister(sid string, c *wsConn, f Frame) {
	room := domain.RoomID(f.Room)
	if room == "" {
		room = domain.RoomID(uuid.NewString())
	}

	s.mu.Lock()
	if owner, ok := s.rooms[room]; ok && owner != c {
		s.mu.Unlock()
		log.Warn().Str("module", "signal").Str("room", string(room)).Msg("register collision")
		s.sendFrame(c, Frame{Type: TypeError, Room: string(room), Error: ErrCodeIDTaken})
		return
	}
	s.rooms[room] = c
	s.mu.Unlock()

	log.Info().Str("module", "signal").Str("sid", sid).Str("room", string(room)).Msg("room registered")
	s.sendFrame(c, Frame{Type: TypeRegistered, Room: string(room)})
}

func (s *Server) handleOffer(sid string, c *wsConn, f Frame) {
	s.mu.RLock()
	host, ok := s.rooms[domain.RoomID(f.Room)]
	s.mu.RUnlock()
	if !ok {
		log.Info().Str("module", "signal").Str("room", f.Room).Msg("offer for unknown room")
		s.sendFrame(c, Frame{Type: TypeError, Room: f.Room, XID: f.XID, Error: ErrCodeRoomNotFound})
		return
	}

	xid := f.XID
	if xid == "" {
		xid = uuid.NewString()
	}
	s.mu.Lock()
	s.exchanges[xid] = c
	s.mu.Unlock()

	log.Info().Str("module", "signal").Str("sid", sid).Str("room", f.Room).Str("xid", xid).Msg("offer routed")
	s.sendFrame(host, Frame{Type: TypeOffer, Room: f.Room, XID: xid, SDP: f.SDP})
}

func (s *Server) handleAnswer(c *wsConn, f Frame) {
	s.mu.Lock()
	guest, ok := s.exchanges[f.XID]
	delete(s.exchanges, f.XID)
	s.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "signal").Str("xid", f.XID).Msg("answer for unknown exchange")
		return
	}
	s.sendFrame(guest, Frame{Type: TypeAnswer, XID: f.XID, SDP: f.SDP})
}

// dropConn forgets everything owned by a closed socket.
func (s *Server) dropConn(c *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room, owner := range s.rooms {
		if owner == c {
			delete(s.rooms, room)
			log.Info().Str("module", "signal").Str("room", string(room)).Msg("room dropped with host socket")
		}
	}
	for xid, guest := range s.exchanges {
		if guest == c {
			delete(s.exchanges, xid)
		}
	}
}

// RoomExists answers the REST existence probe.
func (s *Server) RoomExists(room domain.RoomID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

func (s *Server) sendFrame(c *wsConn, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendFrame marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", f.Type).Msg("sendFrame dropped")
	}
}
