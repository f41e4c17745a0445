package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      = Role("user")
	RoleAssistant = Role("assistant")
)

func ParseRole(s string) (Role, bool) {
	switch s {
	case string(RoleUser):
		return RoleUser, true
	case string(RoleAssistant), "bot":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// Message is a single entry of a conversation. Messages are values and are
// never changed once they have been appended to a session.
type Message struct {
	ID        uuid.UUID
	Role      Role
	Content   string
	CreatedAt time.Time
}

// NewMessage creates a message with a time-ordered id.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

// NewID returns a UUIDv7 so that ids sort by creation time.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
