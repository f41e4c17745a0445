package key_value

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/redis/go-redis/v9"
)

type syllabusInternal struct {
	OwnerID    string    `json:"owner_id"`
	FileName   string    `json:"file_name"`
	Data       []byte    `json:"data"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type SyllabusStorage struct {
	rdb redis.UniversalClient
}

func NewSyllabusStorage(rdb redis.UniversalClient) *SyllabusStorage {
	return &SyllabusStorage{
		rdb: rdb,
	}
}

func (s *SyllabusStorage) GetSyllabus(ctx context.Context, ownerID string) (model.Syllabus, error) {
	key := getSyllabusKey(ownerID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Syllabus{}, model.ErrSyllabusDoesNotExist
		}
		return model.Syllabus{}, fmt.Errorf("failed to get syllabus %s: %w", key, err)
	}
	var syllabus syllabusInternal
	if err = json.Unmarshal(raw, &syllabus); err != nil {
		return model.Syllabus{}, fmt.Errorf("failed to unmarshal syllabus %s: %w", key, err)
	}
	return model.Syllabus{
		OwnerID:    syllabus.OwnerID,
		FileName:   syllabus.FileName,
		Data:       syllabus.Data,
		UploadedAt: syllabus.UploadedAt,
	}, nil
}

func (s *SyllabusStorage) SaveSyllabus(ctx context.Context, syllabus model.Syllabus) error {
	key := getSyllabusKey(syllabus.OwnerID)
	data, err := json.Marshal(
		syllabusInternal{
			OwnerID:    syllabus.OwnerID,
			FileName:   syllabus.FileName,
			Data:       syllabus.Data,
			UploadedAt: syllabus.UploadedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to marshal syllabus: %w", err)
	}
	if err = s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save syllabus %s: %w", key, err)
	}
	return nil
}

func (s *SyllabusStorage) DeleteSyllabus(ctx context.Context, ownerID string) error {
	key := getSyllabusKey(ownerID)
	deleted, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete syllabus %s: %w", key, err)
	}
	if deleted == 0 {
		return model.ErrSyllabusDoesNotExist
	}
	return nil
}

func getSyllabusKey(ownerID string) string {
	return fmt.Sprintf("syllabus_%s", ownerID)
}
