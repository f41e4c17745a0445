// Package session holds the state of the conversation shown in one view:
// the ordered message list, the pending flag and the draft text.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
)

// Turn identifies an accepted user submission. Epoch ties the turn to the
// message list it was started on, ChatID to the chat that list belongs to.
type Turn struct {
	UserMessage model.Message
	Epoch       uint64
	ChatID      uuid.UUID
}

// Store is the single source of truth for one conversation. Every mutation
// publishes a new snapshot to the subscribers.
type Store struct {
	mu       sync.Mutex
	messages []model.Message
	pending  bool
	draft    string
	version  uint64
	epoch    uint64
	chatID   uuid.UUID

	subscribers map[int]chan model.Snapshot
	nextSubID   int

	now func() time.Time
}

func NewStore(initial []model.Message) *Store {
	return &Store{
		messages:    cloneMessages(initial),
		subscribers: make(map[int]chan model.Snapshot),
		now:         time.Now,
	}
}

// AppendMessage inserts a message at the tail. User content is trimmed and
// must not be empty.
func (s *Store) AppendMessage(role model.Role, content string) (model.Message, error) {
	if role == model.RoleUser {
		content = strings.TrimSpace(content)
		if content == "" {
			return model.Message{}, ErrEmptyContent
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.NewMessage(role, content, s.now())
	s.messages = append(s.messages, msg)
	s.publishLocked()
	return msg, nil
}

func (s *Store) SetPending(pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == pending {
		return
	}
	s.pending = pending
	s.publishLocked()
}

// ResetSession replaces the whole message list and unbinds the session from
// its chat. Replies of turns started before the reset are no longer accepted
// by AppendReply.
func (s *Store) ResetSession(initial []model.Message) {
	s.LoadChat(uuid.Nil, initial)
}

// LoadChat replaces the message list with the messages of chatID. A turn
// started in chatID before an earlier reset is accepted again, since the
// loaded list already holds its user message.
func (s *Store) LoadChat(chatID uuid.UUID, initial []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = cloneMessages(initial)
	s.epoch++
	s.chatID = chatID
	s.publishLocked()
}

// BindChat ties the current message list to chatID without replacing it.
func (s *Store) BindChat(chatID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chatID = chatID
}

func (s *Store) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draft = text
	s.publishLocked()
}

// BeginTurn accepts a user submission: it appends the user message, clears
// the draft and marks the session pending in one step. It returns false,
// leaving the state untouched, when content is blank or a turn is already
// outstanding.
func (s *Store) BeginTurn(content string) (Turn, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Turn{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return Turn{}, false
	}

	msg := model.NewMessage(model.RoleUser, content, s.now())
	s.messages = append(s.messages, msg)
	s.draft = ""
	s.pending = true
	s.publishLocked()

	return Turn{UserMessage: msg, Epoch: s.epoch, ChatID: s.chatID}, true
}

// AppendReply appends an assistant message for a turn. The reply is dropped
// when the session was reset after the turn began, unless the session shows
// the turn's chat again.
func (s *Store) AppendReply(turn Turn, reply model.Message) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.Epoch != s.epoch && (turn.ChatID == uuid.Nil || turn.ChatID != s.chatID) {
		return model.Message{}, false
	}

	now := s.now()
	reply.Role = model.RoleAssistant
	if reply.ID == uuid.Nil {
		reply.ID = model.NewID()
	}
	if reply.CreatedAt.IsZero() || reply.CreatedAt.Before(s.lastCreatedAtLocked()) {
		reply.CreatedAt = now
	}

	s.messages = append(s.messages, reply)
	s.publishLocked()
	return reply, true
}

func (s *Store) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending
}

// Messages returns a copy of the current message list.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneMessages(s.messages)
}

// Subscribe returns a channel receiving the current snapshot followed by a
// snapshot per mutation. A slow reader only sees the latest snapshot. The
// returned function unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan model.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan model.Snapshot, 1)
	ch <- s.snapshotLocked()
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close unsubscribes every subscriber.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Store) publishLocked() {
	s.version++
	if len(s.subscribers) == 0 {
		return
	}
	snapshot := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- snapshot:
		default:
			// drop the stale snapshot, keep the latest
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

func (s *Store) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		Messages: cloneMessages(s.messages),
		Pending:  s.pending,
		Draft:    s.draft,
		Version:  s.version,
	}
}

func (s *Store) lastCreatedAtLocked() time.Time {
	if len(s.messages) == 0 {
		return time.Time{}
	}
	return s.messages[len(s.messages)-1].CreatedAt
}

func cloneMessages(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}
