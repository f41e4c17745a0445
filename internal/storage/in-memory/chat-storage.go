package in_memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

type ChatStorage struct {
	mu    sync.RWMutex
	chats map[uuid.UUID]*model.Chat
}

func NewChatStorage() *ChatStorage {
	return &ChatStorage{
		chats: make(map[uuid.UUID]*model.Chat),
	}
}

func (a *ChatStorage) ListChats(_ context.Context) ([]model.Chat, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	chats := make([]model.Chat, 0, len(a.chats))
	for _, chat := range a.chats {
		chats = append(chats, cloneChat(*chat))
	}
	return chats, nil
}

func (a *ChatStorage) CreateChat(_ context.Context, chat model.Chat) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored := cloneChat(chat)
	a.chats[chat.ChatID] = &stored
	return nil
}

func (a *ChatStorage) GetChat(_ context.Context, chatID uuid.UUID) (model.Chat, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	chat, ok := a.chats[chatID]
	if !ok {
		return model.Chat{}, model.ErrChatDoesNotExist
	}
	return cloneChat(*chat), nil
}

func (a *ChatStorage) AddMessageToChat(_ context.Context, chatID uuid.UUID, msg model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chat, ok := a.chats[chatID]
	if !ok {
		return model.ErrChatDoesNotExist
	}
	updated := chat.WithMessage(msg)
	a.chats[chatID] = &updated
	return nil
}

func (a *ChatStorage) DeleteChat(_ context.Context, chatID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.chats[chatID]; !ok {
		return model.ErrChatDoesNotExist
	}
	delete(a.chats, chatID)
	return nil
}

func cloneChat(chat model.Chat) model.Chat {
	messages := make([]model.Message, len(chat.Messages))
	copy(messages, chat.Messages)
	chat.Messages = messages
	return chat
}
