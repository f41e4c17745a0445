package key_value

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/redis/go-redis/v9"
)

const chatsIndexKey = "chats"

type messageInternal struct {
	ID        string     `json:"id"`
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

type chatInternal struct {
	ChatID    string            `json:"chat_id"`
	Title     string            `json:"title"`
	Preview   string            `json:"preview"`
	Subject   string            `json:"subject"`
	Messages  []messageInternal `json:"messages"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ChatStorage keeps every chat as a JSON blob under chat_<id>. The set under
// "chats" indexes the stored ids.
type ChatStorage struct {
	rdb redis.UniversalClient
}

func NewChatStorage(rdb redis.UniversalClient) *ChatStorage {
	return &ChatStorage{
		rdb: rdb,
	}
}

func (a *ChatStorage) CreateChat(ctx context.Context, chat model.Chat) error {
	if err := a.setChatInt(ctx, chat.ChatID, toChatInternal(chat)); err != nil {
		return fmt.Errorf("failed to set chat internal %s: %w", chat.ChatID, err)
	}
	if err := a.rdb.SAdd(ctx, chatsIndexKey, chat.ChatID.String()).Err(); err != nil {
		return fmt.Errorf("failed to index chat %s: %w", chat.ChatID, err)
	}
	return nil
}

func (a *ChatStorage) ListChats(ctx context.Context) ([]model.Chat, error) {
	chatIDs, err := a.rdb.SMembers(ctx, chatsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get chat ids: %w", err)
	}
	chats := make([]model.Chat, 0, len(chatIDs))
	for _, chatIDStr := range chatIDs {
		chatID, err := uuid.Parse(chatIDStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse chatID %s: %w", chatIDStr, err)
		}
		chat, err := a.GetChat(ctx, chatID)
		if err != nil {
			if errors.Is(err, model.ErrChatDoesNotExist) {
				continue
			}
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

func (a *ChatStorage) GetChat(ctx context.Context, chatID uuid.UUID) (model.Chat, error) {
	chatInt, err := a.getChatInt(ctx, chatID)
	if err != nil {
		return model.Chat{}, err
	}
	chat, err := fromChatInternal(chatInt)
	if err != nil {
		return model.Chat{}, fmt.Errorf("failed to parse chat %s: %w", chatID, err)
	}
	return chat, nil
}

// AddMessageToChat updates the chat blob optimistically: the write is retried
// when another client changed the chat in between.
func (a *ChatStorage) AddMessageToChat(ctx context.Context, chatID uuid.UUID, msg model.Message) error {
	key := getChatIDKey(chatID)
	update := func(tx *redis.Tx) error {
		chatInt, err := readChatInt(ctx, tx, chatID)
		if err != nil {
			return err
		}
		chat, err := fromChatInternal(chatInt)
		if err != nil {
			return fmt.Errorf("failed to parse chat %s: %w", chatID, err)
		}
		data, err := json.Marshal(toChatInternal(chat.WithMessage(msg)))
		if err != nil {
			return fmt.Errorf("failed to marshal internal chat: %w", err)
		}
		_, err = tx.TxPipelined(
			ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			},
		)
		return err
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := a.rdb.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, model.ErrChatDoesNotExist) {
				return err
			}
			return fmt.Errorf("failed to set internal chat %s: %w", chatID, err)
		}
		return nil
	}
	return fmt.Errorf("failed to set internal chat %s: %w", chatID, redis.TxFailedErr)
}

func (a *ChatStorage) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	deleted, err := a.rdb.Del(ctx, getChatIDKey(chatID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", chatID, err)
	}
	if err = a.rdb.SRem(ctx, chatsIndexKey, chatID.String()).Err(); err != nil {
		return fmt.Errorf("failed to unindex chat %s: %w", chatID, err)
	}
	if deleted == 0 {
		return model.ErrChatDoesNotExist
	}
	return nil
}

func (a *ChatStorage) getChatInt(ctx context.Context, chatID uuid.UUID) (chatInternal, error) {
	return readChatInt(ctx, a.rdb, chatID)
}

func (a *ChatStorage) setChatInt(ctx context.Context, chatID uuid.UUID, chatInt chatInternal) error {
	chatIDKey := getChatIDKey(chatID)
	chatIntJSON, err := json.Marshal(chatInt)
	if err != nil {
		return fmt.Errorf("failed to marshal internal chat: %w", err)
	}
	if err = a.rdb.Set(ctx, chatIDKey, chatIntJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to save chatInternal %s: %w", chatIDKey, err)
	}
	return nil
}

// getter is implemented by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readChatInt(ctx context.Context, c getter, chatID uuid.UUID) (chatInternal, error) {
	chatIntRaw, err := c.Get(ctx, getChatIDKey(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chatInternal{}, model.ErrChatDoesNotExist
		}
		return chatInternal{}, fmt.Errorf("failed to get chat %s: %w", chatID, err)
	}
	var chatInt chatInternal
	if err = json.Unmarshal([]byte(chatIntRaw), &chatInt); err != nil {
		return chatInternal{}, fmt.Errorf("failed to unmarshal chat %s: %w", chatID, err)
	}
	return chatInt, nil
}

func toChatInternal(chat model.Chat) chatInternal {
	messages := make([]messageInternal, 0, len(chat.Messages))
	for _, msg := range chat.Messages {
		messages = append(
			messages, messageInternal{
				ID:        msg.ID.String(),
				Role:      msg.Role,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			},
		)
	}
	return chatInternal{
		ChatID:    chat.ChatID.String(),
		Title:     chat.Title,
		Preview:   chat.Preview,
		Subject:   chat.Subject,
		Messages:  messages,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
	}
}

func fromChatInternal(chatInt chatInternal) (model.Chat, error) {
	chatID, err := uuid.Parse(chatInt.ChatID)
	if err != nil {
		return model.Chat{}, fmt.Errorf("failed to parse chatID %s: %w", chatInt.ChatID, err)
	}
	messages := make([]model.Message, 0, len(chatInt.Messages))
	for _, msg := range chatInt.Messages {
		msgID, err := uuid.Parse(msg.ID)
		if err != nil {
			return model.Chat{}, fmt.Errorf("failed to parse message id %s: %w", msg.ID, err)
		}
		messages = append(
			messages, model.Message{
				ID:        msgID,
				Role:      msg.Role,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			},
		)
	}
	return model.Chat{
		ChatID:    chatID,
		Title:     chatInt.Title,
		Preview:   chatInt.Preview,
		Subject:   chatInt.Subject,
		Messages:  messages,
		CreatedAt: chatInt.CreatedAt,
		UpdatedAt: chatInt.UpdatedAt,
	}, nil
}

func getChatIDKey(chatID uuid.UUID) string {
	return fmt.Sprintf("chat_%v", chatID.String())
}
