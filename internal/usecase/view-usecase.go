package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
	"github.com/iamvkosarev/ca-study-chat/internal/session"
	"github.com/iamvkosarev/ca-study-chat/internal/telemetry"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
)

// HistoryFunc returns the messages of the session a provider answers in.
type HistoryFunc func() []model.Message

// ProviderFactory builds the response provider of a new view. Providers that
// need the conversation read it through history.
type ProviderFactory interface {
	NewProvider(history HistoryFunc) ResponseProvider
}

type ProviderFactoryFunc func(history HistoryFunc) ResponseProvider

func (f ProviderFactoryFunc) NewProvider(history HistoryFunc) ResponseProvider {
	return f(history)
}

type ViewUsecaseDeps struct {
	Chats       *ChatUsecase
	Preferences *PreferencesUsecase
	// Syllabi is optional. Without it views neither accept syllabus uploads
	// nor pass a syllabus to providers.
	Syllabi   *SyllabusUsecase
	Providers ProviderFactory
	// Suggestions resolves the suggested prompt at an index.
	Suggestions func(index int) (string, error)
	Metrics     *telemetry.TurnMetrics
	Logger      *slog.Logger
}

type ViewConfig struct {
	IdleTimeout      time.Duration
	EvictionSchedule string
	ProviderTimeout  time.Duration
}

// ViewUsecase keeps the mounted views. Views idle for longer than the idle
// timeout are closed by a scheduled eviction.
type ViewUsecase struct {
	ViewUsecaseDeps
	cfg ViewConfig

	mu    sync.Mutex
	views map[string]*View
	cron  *cron.Cron
}

func NewViewUsecase(deps ViewUsecaseDeps, cfg ViewConfig) *ViewUsecase {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Suggestions == nil {
		deps.Suggestions = func(index int) (string, error) {
			return "", fmt.Errorf("suggestion %d: %w", index, model.ErrSuggestionDoesNotExist)
		}
	}
	return &ViewUsecase{
		ViewUsecaseDeps: deps,
		cfg:             cfg,
		views:           make(map[string]*View),
	}
}

// Open returns the view with viewID, creating it when it does not exist. An
// empty viewID creates a view with a generated id. ownerID keys the stored
// preferences and defaults to the view id.
func (u *ViewUsecase) Open(ctx context.Context, viewID, ownerID string) (*View, error) {
	if viewID == "" {
		viewID = uuid.NewString()
	}
	if ownerID == "" {
		ownerID = viewID
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if view, ok := u.views[viewID]; ok {
		view.mu.Lock()
		view.touchLocked()
		view.mu.Unlock()
		return view, nil
	}

	prefs, err := u.Preferences.GetPreferences(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to open view %s: %w", viewID, err)
	}

	logger := u.Logger.With("view_id", viewID)
	store := session.NewStore(nil)
	view := &View{
		id:          viewID,
		ownerID:     ownerID,
		chats:       u.Chats,
		preferences: u.Preferences,
		syllabi:     u.Syllabi,
		suggestions: u.Suggestions,
		logger:      logger,
		store:       store,
		recorder:    conc.NewWaitGroup(),
		prefs:       prefs,
		lastActive:  time.Now(),
	}
	view.exchange = NewExchangeUsecase(
		ExchangeUsecaseDeps{
			Store:    store,
			Provider: u.Providers.NewProvider(store.Messages),
			Metrics:  u.Metrics,
			Logger:   logger,
		},
		ExchangeConfig{
			ViewID:  viewID,
			Timeout: u.cfg.ProviderTimeout,
		},
	)
	u.views[viewID] = view
	logger.Info("view opened", "owner_id", ownerID)
	return view, nil
}

func (u *ViewUsecase) Get(viewID string) (*View, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	view, ok := u.views[viewID]
	if !ok {
		return nil, fmt.Errorf("view %s: %w", viewID, model.ErrViewDoesNotExist)
	}
	return view, nil
}

// Close unmounts a view. It returns once the view's outstanding turn has been
// resolved.
func (u *ViewUsecase) Close(viewID string) error {
	u.mu.Lock()
	view, ok := u.views[viewID]
	delete(u.views, viewID)
	u.mu.Unlock()

	if !ok {
		return fmt.Errorf("view %s: %w", viewID, model.ErrViewDoesNotExist)
	}
	view.Close()
	view.logger.Info("view closed")
	return nil
}

// EvictIdle closes the views idle for longer than the idle timeout. Views
// with a pending turn or a subscriber are kept. It returns the evicted ids.
func (u *ViewUsecase) EvictIdle(now time.Time) []string {
	if u.cfg.IdleTimeout <= 0 {
		return nil
	}

	u.mu.Lock()
	evicted := make([]*View, 0)
	for id, view := range u.views {
		idle, ok := view.idleSince(now)
		if ok && idle > u.cfg.IdleTimeout {
			evicted = append(evicted, view)
			delete(u.views, id)
		}
	}
	u.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, view := range evicted {
		view.Close()
		ids = append(ids, view.id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		u.Logger.Info("evicted idle views", "count", len(ids), "view_ids", ids)
	}
	return ids
}

func (u *ViewUsecase) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.views)
}

// Start schedules the idle eviction.
func (u *ViewUsecase) Start() error {
	if u.cfg.IdleTimeout <= 0 || u.cfg.EvictionSchedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(
		u.cfg.EvictionSchedule, func() {
			u.EvictIdle(time.Now())
		},
	); err != nil {
		return fmt.Errorf("failed to schedule view eviction %q: %w", u.cfg.EvictionSchedule, err)
	}
	c.Start()

	u.mu.Lock()
	u.cron = c
	u.mu.Unlock()
	return nil
}

// Stop cancels the eviction schedule and closes every view.
func (u *ViewUsecase) Stop() {
	u.mu.Lock()
	c := u.cron
	u.cron = nil
	views := u.views
	u.views = make(map[string]*View)
	u.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	wg := conc.NewWaitGroup()
	for _, view := range views {
		wg.Go(view.Close)
	}
	wg.Wait()
}
