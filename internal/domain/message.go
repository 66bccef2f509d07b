package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageID string

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindSystem   MessageKind = "system"
	KindBotReply MessageKind = "bot"
)

// ChatMessage is immutable once created. ID is assigned by the
// originating participant and is the sole deduplication key: two
// envelopes carrying the same ID are one logical message no matter
// how they were delivered.
type ChatMessage struct {
	ID         MessageID     `json:"id"`
	AuthorID   ParticipantID `json:"authorId"`
	AuthorName string        `json:"authorName"`
	Body       string        `json:"body"`
	CreatedAt  time.Time     `json:"createdAt"`
	Kind       MessageKind   `json:"kind"`
}

func NewChatMessage(author *Participant, body string, kind MessageKind) ChatMessage {
	return ChatMessage{
		ID:         MessageID(uuid.NewString()),
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
		Kind:       kind,
	}
}

// NewSystemMessage announces a membership change ("Ann joined the room.").
// System messages have no author participant.
func NewSystemMessage(body string) ChatMessage {
	return ChatMessage{
		ID:        MessageID(uuid.NewString()),
		Body:      body,
		CreatedAt: time.Now().UTC(),
		Kind:      KindSystem,
	}
}
