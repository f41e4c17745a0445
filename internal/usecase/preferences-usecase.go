package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

type PreferencesStorage interface {
	GetPreferences(ctx context.Context, ownerID string) (model.Preferences, error)
	SavePreferences(ctx context.Context, ownerID string, prefs model.Preferences) error
}

type PreferencesUsecaseDeps struct {
	PreferencesStorage PreferencesStorage
}

// PreferencesUsecase keeps the UI preferences of a view owner. Owners without
// stored preferences get the configured defaults.
type PreferencesUsecase struct {
	PreferencesUsecaseDeps
	defaults model.Preferences
}

func NewPreferencesUsecase(deps PreferencesUsecaseDeps, uiCfg config.UI) *PreferencesUsecase {
	return &PreferencesUsecase{
		PreferencesUsecaseDeps: deps,
		defaults:               DefaultPreferences(uiCfg),
	}
}

func DefaultPreferences(uiCfg config.UI) model.Preferences {
	theme, ok := model.ParseTheme(uiCfg.Theme)
	if !ok {
		theme = model.ThemeDark
	}
	return model.Preferences{
		Theme:         theme,
		SidebarOpen:   uiCfg.SidebarOpen,
		SubjectFilter: NormalizeSubject(uiCfg.SubjectFilter),
	}
}

// NormalizeSubject maps the "show everything" values to nil.
func NormalizeSubject(subject string) *string {
	subject = strings.TrimSpace(subject)
	if subject == "" || strings.EqualFold(subject, model.AllSubjects) {
		return nil
	}
	return &subject
}

func (p *PreferencesUsecase) GetPreferences(ctx context.Context, ownerID string) (model.Preferences, error) {
	prefs, err := p.PreferencesStorage.GetPreferences(ctx, ownerID)
	if err != nil {
		if errors.Is(err, model.ErrPreferencesDoNotExist) {
			return p.Defaults(), nil
		}
		return model.Preferences{}, fmt.Errorf("failed to get preferences of %s: %w", ownerID, err)
	}
	return prefs, nil
}

func (p *PreferencesUsecase) SavePreferences(ctx context.Context, ownerID string, prefs model.Preferences) error {
	if err := p.PreferencesStorage.SavePreferences(ctx, ownerID, prefs); err != nil {
		return fmt.Errorf("failed to save preferences of %s: %w", ownerID, err)
	}
	return nil
}

func (p *PreferencesUsecase) Defaults() model.Preferences {
	prefs := p.defaults
	if prefs.SubjectFilter != nil {
		subject := *prefs.SubjectFilter
		prefs.SubjectFilter = &subject
	}
	return prefs
}
