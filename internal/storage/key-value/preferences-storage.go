package key_value

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/redis/go-redis/v9"
)

type preferencesInternal struct {
	Theme         model.Theme `json:"theme"`
	SidebarOpen   bool        `json:"sidebar_open"`
	SubjectFilter *string     `json:"subject_filter,omitempty"`
}

type PreferencesStorage struct {
	rdb redis.UniversalClient
}

func NewPreferencesStorage(rdb redis.UniversalClient) *PreferencesStorage {
	return &PreferencesStorage{
		rdb: rdb,
	}
}

func (u *PreferencesStorage) GetPreferences(ctx context.Context, ownerID string) (model.Preferences, error) {
	key := getPreferencesKey(ownerID)
	raw, err := u.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Preferences{}, model.ErrPreferencesDoNotExist
		}
		return model.Preferences{}, fmt.Errorf("failed to get preferences %s: %w", key, err)
	}
	var prefs preferencesInternal
	if err = json.Unmarshal([]byte(raw), &prefs); err != nil {
		return model.Preferences{}, fmt.Errorf("failed to unmarshal preferences %s: %w", key, err)
	}
	return model.Preferences{
		Theme:         prefs.Theme,
		SidebarOpen:   prefs.SidebarOpen,
		SubjectFilter: prefs.SubjectFilter,
	}, nil
}

func (u *PreferencesStorage) SavePreferences(ctx context.Context, ownerID string, prefs model.Preferences) error {
	key := getPreferencesKey(ownerID)
	data, err := json.Marshal(
		preferencesInternal{
			Theme:         prefs.Theme,
			SidebarOpen:   prefs.SidebarOpen,
			SubjectFilter: prefs.SubjectFilter,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	if err = u.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save preferences %s: %w", key, err)
	}
	return nil
}

func getPreferencesKey(ownerID string) string {
	return fmt.Sprintf("preferences_%s", ownerID)
}
