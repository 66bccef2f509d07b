package domain

type RoomID string

type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusConnecting SessionStatus = "connecting"
	StatusConnected  SessionStatus = "connected"
	StatusError      SessionStatus = "error"
	StatusKicked     SessionStatus = "kicked"
)

// Terminal reports whether the session can never leave this status.
// Error and Kicked require the caller to start a fresh session.
func (s SessionStatus) Terminal() bool {
	return s == StatusError || s == StatusKicked
}

// RoomSession is the local view of one room. The host's copy is
// authoritative; a guest's copy is a replica that host-originated
// updates may overwrite wholesale.
type RoomSession struct {
	RoomID    RoomID
	Roster    []Participant
	Log       []ChatMessage
	Typing    map[string]struct{}
	Status    SessionStatus
	LastError string
}

func NewRoomSession() *RoomSession {
	return &RoomSession{
		Typing: make(map[string]struct{}),
		Status: StatusIdle,
	}
}

// FindParticipant returns the roster entry with the given id, or nil.
func (rs *RoomSession) FindParticipant(id ParticipantID) *Participant {
	for i := range rs.Roster {
		if rs.Roster[i].ID == id {
			return &rs.Roster[i]
		}
	}
	return nil
}

// RemoveParticipant deletes the roster entry with the given id and
// reports whether it was present.
func (rs *RoomSession) RemoveParticipant(id ParticipantID) bool {
	for i := range rs.Roster {
		if rs.Roster[i].ID == id {
			rs.Roster = append(rs.Roster[:i], rs.Roster[i+1:]...)
			return true
		}
	}
	return false
}

// UpsertParticipant replaces the roster entry with the same id or
// appends a new one, keeping roster handling idempotent under
// re-delivered handshakes and roster updates.
func (rs *RoomSession) UpsertParticipant(p Participant) {
	for i := range rs.Roster {
		if rs.Roster[i].ID == p.ID {
			rs.Roster[i] = p
			return
		}
	}
	rs.Roster = append(rs.Roster, p)
}
