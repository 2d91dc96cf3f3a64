package core

import (
	"time"

	"github.com/vovakirdan/roomchat/internal/store"
)

// Message is the domain model for a persisted chat message.
type Message struct {
	ID        int64
	RoomID    int64
	From      string
	Text      string
	CreatedAt time.Time
}

func messageFromStore(m *store.Message) Message {
	return Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		From:      m.Sender,
		Text:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}
