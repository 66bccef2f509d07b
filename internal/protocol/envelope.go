// Package protocol defines the wire envelope exchanged between peers.
// Every frame on a peer connection is one JSON-encoded Envelope.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/meshchat/meshchat/internal/domain"
)

type Kind string

const (
	KindHandshake      Kind = "handshake"
	KindChat           Kind = "chat"
	KindRosterUpdate   Kind = "roster_update"
	KindTyping         Kind = "typing"
	KindPresenceUpdate Kind = "presence_update"
	KindHistoryChunk   Kind = "history_chunk"
	KindEviction       Kind = "eviction"
)

// Envelope is the wire unit. It is stateless: no routing history
// beyond the kind tag and the body.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Payload is implemented by every decoded envelope body.
type Payload interface {
	kind() Kind
}

// Handshake is the join message a guest sends right after its
// connection to the host opens.
type Handshake struct {
	Participant domain.Participant `json:"participant"`
}

type Chat struct {
	Message domain.ChatMessage `json:"message"`
}

// RosterUpdate carries the authoritative participant list. Only the
// host transmits it.
type RosterUpdate struct {
	Roster []domain.Participant `json:"roster"`
}

type Typing struct {
	Name     string `json:"name"`
	IsTyping bool   `json:"isTyping"`
}

type PresenceUpdate struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Presence      domain.Presence      `json:"presence"`
}

// HistoryChunk is one slice of the host's log, replayed to a newly
// admitted guest. Seq/Total let the receiver log progress; the merge
// itself never depends on them.
type HistoryChunk struct {
	Messages []domain.ChatMessage `json:"messages"`
	Seq      int                  `json:"seq"`
	Total    int                  `json:"total"`
}

type Eviction struct {
	Reason string `json:"reason"`
}

func (Handshake) kind() Kind      { return KindHandshake }
func (Chat) kind() Kind           { return KindChat }
func (RosterUpdate) kind() Kind   { return KindRosterUpdate }
func (Typing) kind() Kind         { return KindTyping }
func (PresenceUpdate) kind() Kind { return KindPresenceUpdate }
func (HistoryChunk) kind() Kind   { return KindHistoryChunk }
func (Eviction) kind() Kind       { return KindEviction }

// New wraps a payload into an envelope ready for the wire.
func New(p Payload) (*Envelope, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", p.kind(), err)
	}
	return &Envelope{Kind: p.kind(), Body: body}, nil
}

// MustNew is New for payloads that cannot fail to encode (all of the
// payload types here marshal without error).
func MustNew(p Payload) *Envelope {
	env, err := New(p)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode returns the typed payload for the envelope's kind. Unknown
// kinds are an error so that a peer speaking a newer protocol fails
// loudly instead of being silently dropped.
func (e *Envelope) Decode() (Payload, error) {
	var p Payload
	switch e.Kind {
	case KindHandshake:
		p = &Handshake{}
	case KindChat:
		p = &Chat{}
	case KindRosterUpdate:
		p = &RosterUpdate{}
	case KindTyping:
		p = &Typing{}
	case KindPresenceUpdate:
		p = &PresenceUpdate{}
	case KindHistoryChunk:
		p = &HistoryChunk{}
	case KindEviction:
		p = &Eviction{}
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	if err := json.Unmarshal(e.Body, p); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", e.Kind, err)
	}
	return p, nil
}

func Marshal(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}
