// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type Presence string

const (
	PresenceOnline Presence = "online"
	PresenceAway   Presence = "away"
)

// Participant is one member of a room session. ID is stable across
// reconnects within a session: it comes from the local profile, not
// from the transport address.
type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
	ColorTag    string        `json:"colorTag"`
	Role        Role          `json:"role"`
	Presence    Presence      `json:"presence"`
	Muted       bool          `json:"muted"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, displayName, colorTag string, role Role) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if id == "" {
		id = ParticipantID(uuid.NewString())
	}
	return &Participant{
		ID:          id,
		DisplayName: displayName,
		ColorTag:    colorTag,
		Role:        role,
		Presence:    PresenceOnline,
	}, nil
}
