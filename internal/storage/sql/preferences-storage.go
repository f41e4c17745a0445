package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferencesStorage struct {
	db *gorm.DB
}

func NewPreferencesStorage(db *gorm.DB) *PreferencesStorage {
	return &PreferencesStorage{db: db}
}

func (s *PreferencesStorage) GetPreferences(ctx context.Context, ownerID string) (model.Preferences, error) {
	var rec preferencesRecord
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Preferences{}, model.ErrPreferencesDoNotExist
		}
		return model.Preferences{}, fmt.Errorf("db: get preferences %s: %w", ownerID, err)
	}
	theme, ok := model.ParseTheme(rec.Theme)
	if !ok {
		return model.Preferences{}, fmt.Errorf("db: unknown theme %q for %s", rec.Theme, ownerID)
	}
	return model.Preferences{
		Theme:         theme,
		SidebarOpen:   rec.SidebarOpen,
		SubjectFilter: rec.SubjectFilter,
	}, nil
}

func (s *PreferencesStorage) SavePreferences(ctx context.Context, ownerID string, prefs model.Preferences) error {
	rec := preferencesRecord{
		OwnerID:       ownerID,
		Theme:         string(prefs.Theme),
		SidebarOpen:   prefs.SidebarOpen,
		SubjectFilter: prefs.SubjectFilter,
	}
	err := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"theme", "sidebar_open", "subject_filter"}),
		},
	).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("db: save preferences %s: %w", ownerID, err)
	}
	return nil
}
