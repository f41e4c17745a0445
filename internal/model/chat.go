package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultChatTitle  = "New Chat"
	AllSubjects       = "All Subjects"
	ChatTitleLimit    = 40
	ChatPreviewLimit  = 80
	truncationPostfix = "..."
)

// Chat is an entry of the chat history shown in the sidebar.
type Chat struct {
	ChatID    uuid.UUID
	Title     string
	Preview   string
	Subject   string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WithMessage returns a copy of the chat with msg appended and the title and
// preview refreshed.
func (c Chat) WithMessage(msg Message) Chat {
	messages := make([]Message, 0, len(c.Messages)+1)
	messages = append(messages, c.Messages...)
	messages = append(messages, msg)
	c.Messages = messages

	if c.Title == DefaultChatTitle && msg.Role == RoleUser {
		c.Title = Truncate(msg.Content, ChatTitleLimit)
	}
	c.Preview = Truncate(msg.Content, ChatPreviewLimit)
	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	return c
}

// MatchesSubject reports whether the chat passes the sidebar subject filter.
func (c Chat) MatchesSubject(subject *string) bool {
	if subject == nil || *subject == "" || *subject == AllSubjects {
		return true
	}
	return strings.EqualFold(c.Subject, *subject)
}

// Truncate shortens s to at most limit runes, collapsing whitespace.
func Truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-utf8.RuneCountInString(truncationPostfix)])) + truncationPostfix
}
