package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"gorm.io/gorm"
)

type ChatStorage struct {
	db *gorm.DB
}

func NewChatStorage(db *gorm.DB) *ChatStorage {
	return &ChatStorage{db: db}
}

func (s *ChatStorage) CreateChat(ctx context.Context, chat model.Chat) error {
	rec := toChatRecord(chat)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("db: create chat %s: %w", chat.ChatID, err)
	}
	return nil
}

func (s *ChatStorage) GetChat(ctx context.Context, chatID uuid.UUID) (model.Chat, error) {
	rec, err := findChat(s.db.WithContext(ctx), chatID)
	if err != nil {
		return model.Chat{}, err
	}
	return fromChatRecord(rec)
}

func (s *ChatStorage) ListChats(ctx context.Context) ([]model.Chat, error) {
	var recs []chatRecord
	err := s.db.WithContext(ctx).
		Preload("Messages", orderByPosition).
		Order("updated_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("db: list chats: %w", err)
	}
	chats := make([]model.Chat, 0, len(recs))
	for _, rec := range recs {
		chat, err := fromChatRecord(rec)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

func (s *ChatStorage) AddMessageToChat(ctx context.Context, chatID uuid.UUID, msg model.Message) error {
	return s.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			rec, err := findChat(tx, chatID)
			if err != nil {
				return err
			}
			chat, err := fromChatRecord(rec)
			if err != nil {
				return err
			}
			updated := chat.WithMessage(msg)

			msgRec := toMessageRecord(chatID, len(chat.Messages), msg)
			if err = tx.Create(&msgRec).Error; err != nil {
				return fmt.Errorf("db: add message to chat %s: %w", chatID, err)
			}
			err = tx.Model(&chatRecord{}).
				Where("id = ?", rec.ID).
				Updates(
					map[string]interface{}{
						"title":      updated.Title,
						"preview":    updated.Preview,
						"updated_at": updated.UpdatedAt,
					},
				).Error
			if err != nil {
				return fmt.Errorf("db: update chat %s: %w", chatID, err)
			}
			return nil
		},
	)
}

func (s *ChatStorage) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			id := chatID.String()
			if err := tx.Where("chat_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
				return fmt.Errorf("db: delete messages of chat %s: %w", chatID, err)
			}
			res := tx.Where("id = ?", id).Delete(&chatRecord{})
			if res.Error != nil {
				return fmt.Errorf("db: delete chat %s: %w", chatID, res.Error)
			}
			if res.RowsAffected == 0 {
				return model.ErrChatDoesNotExist
			}
			return nil
		},
	)
}

func findChat(db *gorm.DB, chatID uuid.UUID) (chatRecord, error) {
	var rec chatRecord
	err := db.Preload("Messages", orderByPosition).
		Where("id = ?", chatID.String()).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chatRecord{}, model.ErrChatDoesNotExist
		}
		return chatRecord{}, fmt.Errorf("db: get chat %s: %w", chatID, err)
	}
	return rec, nil
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func toChatRecord(chat model.Chat) chatRecord {
	messages := make([]messageRecord, 0, len(chat.Messages))
	for i, msg := range chat.Messages {
		messages = append(messages, toMessageRecord(chat.ChatID, i, msg))
	}
	return chatRecord{
		ID:        chat.ChatID.String(),
		Title:     chat.Title,
		Preview:   chat.Preview,
		Subject:   chat.Subject,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
		Messages:  messages,
	}
}

func toMessageRecord(chatID uuid.UUID, position int, msg model.Message) messageRecord {
	return messageRecord{
		ID:        msg.ID.String(),
		ChatID:    chatID.String(),
		Position:  position,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func fromChatRecord(rec chatRecord) (model.Chat, error) {
	chatID, err := uuid.Parse(rec.ID)
	if err != nil {
		return model.Chat{}, fmt.Errorf("db: parse chat id %s: %w", rec.ID, err)
	}
	messages := make([]model.Message, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		msgID, err := uuid.Parse(m.ID)
		if err != nil {
			return model.Chat{}, fmt.Errorf("db: parse message id %s: %w", m.ID, err)
		}
		role, ok := model.ParseRole(m.Role)
		if !ok {
			return model.Chat{}, fmt.Errorf("db: unknown role %q in message %s", m.Role, m.ID)
		}
		messages = append(
			messages, model.Message{
				ID:        msgID,
				Role:      role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			},
		)
	}
	return model.Chat{
		ChatID:    chatID,
		Title:     rec.Title,
		Preview:   rec.Preview,
		Subject:   rec.Subject,
		Messages:  messages,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
