package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/catalog"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

var (
	ErrEmptyChatID = errors.New("chat id is empty")
)

// ChatStorage keeps the chat history shown in the sidebar.
type ChatStorage interface {
	CreateChat(ctx context.Context, chat model.Chat) error
	GetChat(ctx context.Context, chatID uuid.UUID) (model.Chat, error)
	ListChats(ctx context.Context) ([]model.Chat, error)
	// AddMessageToChat appends msg and refreshes the chat title and preview.
	AddMessageToChat(ctx context.Context, chatID uuid.UUID, msg model.Message) error
	DeleteChat(ctx context.Context, chatID uuid.UUID) error
}

type ChatUsecaseDeps struct {
	ChatStorage ChatStorage
}

type ChatUsecase struct {
	ChatUsecaseDeps
	now func() time.Time
}

func NewChatUsecase(deps ChatUsecaseDeps) *ChatUsecase {
	return &ChatUsecase{
		ChatUsecaseDeps: deps,
		now:             time.Now,
	}
}

// ListChats returns the chats passing the subject filter, most recently
// updated first.
func (c *ChatUsecase) ListChats(ctx context.Context, subject *string) ([]model.Chat, error) {
	chats, err := c.ChatStorage.ListChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	filtered := make([]model.Chat, 0, len(chats))
	for _, chat := range chats {
		if chat.MatchesSubject(subject) {
			filtered = append(filtered, chat)
		}
	}
	sort.SliceStable(
		filtered, func(i, j int) bool {
			return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
		},
	)
	return filtered, nil
}

// CreateChat stores an empty chat. An empty subject or "All Subjects" leaves
// the chat without a subject.
func (c *ChatUsecase) CreateChat(ctx context.Context, subject string) (model.Chat, error) {
	subject = strings.TrimSpace(subject)
	if strings.EqualFold(subject, model.AllSubjects) {
		subject = ""
	}
	now := c.now()
	chat := model.Chat{
		ChatID:    model.NewID(),
		Title:     model.DefaultChatTitle,
		Subject:   subject,
		Messages:  make([]model.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.ChatStorage.CreateChat(ctx, chat); err != nil {
		return model.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

func (c *ChatUsecase) GetChat(ctx context.Context, chatID uuid.UUID) (model.Chat, error) {
	if chatID == uuid.Nil {
		return model.Chat{}, ErrEmptyChatID
	}
	return c.ChatStorage.GetChat(ctx, chatID)
}

func (c *ChatUsecase) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return ErrEmptyChatID
	}
	return c.ChatStorage.DeleteChat(ctx, chatID)
}

func (c *ChatUsecase) RecordMessage(ctx context.Context, chatID uuid.UUID, msg model.Message) error {
	if chatID == uuid.Nil {
		return ErrEmptyChatID
	}
	if err := c.ChatStorage.AddMessageToChat(ctx, chatID, msg); err != nil {
		return fmt.Errorf("failed to add message to chat %s: %w", chatID, err)
	}
	return nil
}

// Seed stores the catalog chats when the storage holds no chat yet. It
// returns the number of chats stored.
func (c *ChatUsecase) Seed(ctx context.Context, seeds []catalog.SeedChat) (int, error) {
	existing, err := c.ChatStorage.ListChats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list chats: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, seed := range seeds {
		if err = c.ChatStorage.CreateChat(ctx, seed.Chat()); err != nil {
			return i, fmt.Errorf("failed to seed chat %q: %w", seed.Title, err)
		}
	}
	return len(seeds), nil
}
