package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshchat/meshchat/internal/domain"
)

func TestDecodeDispatch(t *testing.T) {
	msg := domain.ChatMessage{
		ID:         "m1",
		AuthorID:   "g1",
		AuthorName: "Ann",
		Body:       "hello",
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind:       domain.KindText,
	}

	env, err := New(Chat{Message: msg})
	require.NoError(t, err)
	assert.Equal(t, KindChat, env.Kind)

	wire, err := Marshal(env)
	require.NoError(t, err)
	back, err := Unmarshal(wire)
	require.NoError(t, err)

	payload, err := back.Decode()
	require.NoError(t, err)
	chat, ok := payload.(*Chat)
	require.True(t, ok, "expected *Chat, got %T", payload)
	assert.Equal(t, msg, chat.Message)
}

func TestDecodeEveryKind(t *testing.T) {
	p, err := domain.NewParticipant("g1", "Ann", "#abc", domain.RoleGuest)
	require.NoError(t, err)

	payloads := []Payload{
		Handshake{Participant: *p},
		RosterUpdate{Roster: []domain.Participant{*p}},
		Typing{Name: "Ann", IsTyping: true},
		PresenceUpdate{ParticipantID: "g1", Presence: domain.PresenceAway},
		HistoryChunk{Messages: nil, Seq: 0, Total: 1},
		Eviction{Reason: "spamming"},
	}
	for _, want := range payloads {
		env := MustNew(want)
		got, err := env.Decode()
		require.NoError(t, err, "kind %s", env.Kind)
		assert.IsType(t, want, deref(got), "kind %s", env.Kind)
	}
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Handshake:
		return *v
	case *Chat:
		return *v
	case *RosterUpdate:
		return *v
	case *Typing:
		return *v
	case *PresenceUpdate:
		return *v
	case *HistoryChunk:
		return *v
	case *Eviction:
		return *v
	}
	return p
}

func TestDecodeUnknownKind(t *testing.T) {
	env, err := Unmarshal([]byte(`{"kind":"time_travel","body":{}}`))
	require.NoError(t, err)
	_, err = env.Decode()
	assert.ErrorContains(t, err, "unknown envelope kind")
}

func TestDecodeMalformedBody(t *testing.T) {
	env := &Envelope{Kind: KindChat, Body: []byte(`"not an object"`)}
	_, err := env.Decode()
	assert.Error(t, err)
}
