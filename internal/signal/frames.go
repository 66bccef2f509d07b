// Package signal implements the rendezvous service: it maps published
// room ids to host sockets and relays WebRTC offer/answer exchanges
// between a dialing guest and the registered host.
package signal

// Frame is the JSON unit on a signaling socket, shared by the server
// and the client in internal/transport/signalclient.
type Frame struct {
	Type string `json:"type"`

	Room string `json:"room,omitempty"`
	// XID identifies one offer/answer exchange so the answer can be
	// routed back to the guest that sent the offer.
	XID string `json:"xid,omitempty"`
	SDP string `json:"sdp,omitempty"`

	Error string `json:"error,omitempty"`
}

// Frame types.
const (
	TypeRegister   = "register"   // host -> server: publish a room
	TypeRegistered = "registered" // server -> host: assigned room id
	TypeOffer      = "offer"      // guest -> server -> host
	TypeAnswer     = "answer"     // host -> server -> guest
	TypePing       = "ping"
	TypePong       = "pong"
	TypeError      = "error"
)

// Error codes carried in Frame.Error.
const (
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeIDTaken      = "id_taken"
	ErrCodeBadPayload   = "bad_payload"
	ErrCodeRateLimited  = "rate_limited"
)
