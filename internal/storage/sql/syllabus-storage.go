package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SyllabusStorage struct {
	db *gorm.DB
}

func NewSyllabusStorage(db *gorm.DB) *SyllabusStorage {
	return &SyllabusStorage{db: db}
}

func (s *SyllabusStorage) GetSyllabus(ctx context.Context, ownerID string) (model.Syllabus, error) {
	var rec syllabusRecord
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Syllabus{}, model.ErrSyllabusDoesNotExist
		}
		return model.Syllabus{}, fmt.Errorf("db: get syllabus %s: %w", ownerID, err)
	}
	return model.Syllabus{
		OwnerID:    rec.OwnerID,
		FileName:   rec.FileName,
		Data:       rec.Data,
		UploadedAt: rec.UploadedAt,
	}, nil
}

func (s *SyllabusStorage) SaveSyllabus(ctx context.Context, syllabus model.Syllabus) error {
	rec := syllabusRecord{
		OwnerID:    syllabus.OwnerID,
		FileName:   syllabus.FileName,
		Data:       syllabus.Data,
		UploadedAt: syllabus.UploadedAt,
	}
	err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"file_name", "data", "uploaded_at"}),
		},
	).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("db: save syllabus %s: %w", syllabus.OwnerID, err)
	}
	return nil
}

func (s *SyllabusStorage) DeleteSyllabus(ctx context.Context, ownerID string) error {
	res := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&syllabusRecord{})
	if res.Error != nil {
		return fmt.Errorf("db: delete syllabus %s: %w", ownerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrSyllabusDoesNotExist
	}
	return nil
}
