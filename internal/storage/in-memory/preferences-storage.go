package in_memory

import (
	"context"
	"sync"

	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

type PreferencesStorage struct {
	mu          sync.RWMutex
	preferences map[string]model.Preferences
}

func NewPreferencesStorage() *PreferencesStorage {
	return &PreferencesStorage{
		preferences: make(map[string]model.Preferences),
	}
}

func (u *PreferencesStorage) GetPreferences(_ context.Context, ownerID string) (model.Preferences, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	prefs, ok := u.preferences[ownerID]
	if !ok {
		return model.Preferences{}, model.ErrPreferencesDoNotExist
	}
	return clonePreferences(prefs), nil
}

func (u *PreferencesStorage) SavePreferences(_ context.Context, ownerID string, prefs model.Preferences) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.preferences[ownerID] = clonePreferences(prefs)
	return nil
}

func clonePreferences(prefs model.Preferences) model.Preferences {
	if prefs.SubjectFilter != nil {
		subject := *prefs.SubjectFilter
		prefs.SubjectFilter = &subject
	}
	return prefs
}
