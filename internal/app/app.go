package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	tgbot "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/api"
	"github.com/iamvkosarev/ca-study-chat/internal/catalog"
	in_memory "github.com/iamvkosarev/ca-study-chat/internal/storage/in-memory"
	key_value "github.com/iamvkosarev/ca-study-chat/internal/storage/key-value"
	sql_storage "github.com/iamvkosarev/ca-study-chat/internal/storage/sql"
	"github.com/iamvkosarev/ca-study-chat/internal/telemetry"
	"github.com/iamvkosarev/ca-study-chat/internal/usecase"
	"github.com/iamvkosarev/ca-study-chat/pkg/local"
	"github.com/redis/go-redis/v9"
)

// App holds the wired usecases shared by every transport.
type App struct {
	Logger      *slog.Logger
	Catalog     *catalog.Catalog
	Chats       *usecase.ChatUsecase
	Preferences *usecase.PreferencesUsecase
	Syllabi     *usecase.SyllabusUsecase
	Views       *usecase.ViewUsecase
	Language    local.Language

	closers []func()
}

// New builds the application from cfg. Logs go to logOutput and, when
// configured, to a rotated file. Close must be called to release it.
func New(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*App, error) {
	a := &App{
		Language: local.ParseLanguage(cfg.App.Language),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	logger, closeLogger, err := telemetry.InitLogger(cfg.Log, logOutput)
	if err != nil {
		return nil, err
	}
	a.Logger = logger
	a.closers = append(a.closers, closeLogger)

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdownTelemetry)

	metrics, err := telemetry.NewTurnMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a.Catalog = catalog.Default()
	if cfg.Catalog.Path != "" {
		if a.Catalog, err = catalog.Load(cfg.Catalog.Path); err != nil {
			return nil, err
		}
	}

	storages, err := a.newStorages(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	providers, err := newProviderFactory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Chats = usecase.NewChatUsecase(
		usecase.ChatUsecaseDeps{
			ChatStorage: storages.chats,
		},
	)
	seeded, err := a.Chats.Seed(ctx, a.Catalog.Chats)
	if err != nil {
		return nil, fmt.Errorf("failed to seed chats: %w", err)
	}
	if seeded > 0 {
		logger.Info("seeded chat history", "count", seeded)
	}

	a.Preferences = usecase.NewPreferencesUsecase(
		usecase.PreferencesUsecaseDeps{
			PreferencesStorage: storages.preferences,
		},
		cfg.App.UI,
	)

	a.Syllabi = usecase.NewSyllabusUsecase(
		usecase.SyllabusUsecaseDeps{
			SyllabusStorage: storages.syllabi,
		},
		cfg.Syllabus,
	)

	a.Views = usecase.NewViewUsecase(
		usecase.ViewUsecaseDeps{
			Chats:       a.Chats,
			Preferences: a.Preferences,
			Syllabi:     a.Syllabi,
			Providers:   providers,
			Suggestions: a.Catalog.Suggestion,
			Metrics:     metrics,
			Logger:      logger,
		},
		usecase.ViewConfig{
			IdleTimeout:      cfg.View.IdleTimeout,
			EvictionSchedule: cfg.View.EvictionSchedule,
			ProviderTimeout:  cfg.Provider.Timeout,
		},
	)
	if err = a.Views.Start(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Views.Stop)

	logger.Info(
		"app started",
		"version", telemetry.Version,
		"provider", cfg.Provider.Backend,
		"storage", cfg.Storage.Backend,
	)
	ok = true
	return a, nil
}

// Close closes every view and releases storages, telemetry and log files in
// reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type storageSet struct {
	chats       usecase.ChatStorage
	preferences usecase.PreferencesStorage
	syllabi     usecase.SyllabusStorage
}

func (a *App) newStorages(ctx context.Context, cfg config.Storage) (storageSet, error) {
	switch cfg.Backend {
	case config.StorageRedis:
		rdb := redis.NewClient(
			&redis.Options{
				Addr:     cfg.Redis.Endpoint,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
		)
		a.closers = append(
			a.closers, func() {
				_ = rdb.Close()
			},
		)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return storageSet{}, fmt.Errorf("failed to connect to redis %s: %w", cfg.Redis.Endpoint, err)
		}
		return storageSet{
			chats:       key_value.NewChatStorage(rdb),
			preferences: key_value.NewPreferencesStorage(rdb),
			syllabi:     key_value.NewSyllabusStorage(rdb),
		}, nil
	case config.StorageSQLite, config.StorageMySQL:
		db, err := sql_storage.Open(cfg.Backend, cfg.SQL.DSN)
		if err != nil {
			return storageSet{}, err
		}
		a.closers = append(
			a.closers, func() {
				_ = sql_storage.Close(db)
			},
		)
		return storageSet{
			chats:       sql_storage.NewChatStorage(db),
			preferences: sql_storage.NewPreferencesStorage(db),
			syllabi:     sql_storage.NewSyllabusStorage(db),
		}, nil
	default:
		return storageSet{
			chats:       in_memory.NewChatStorage(),
			preferences: in_memory.NewPreferencesStorage(),
			syllabi:     in_memory.NewSyllabusStorage(),
		}, nil
	}
}

func newProviderFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (usecase.ProviderFactory, error) {
	switch cfg.Provider.Backend {
	case config.ProviderOpenAI:
		return usecase.NewOpenAIUsecase(cfg.OpenAI, logger), nil
	case config.ProviderGemini:
		gemini, err := usecase.NewGeminiUsecase(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		return gemini, nil
	default:
		return usecase.NewMockUsecase(cfg.Mock), nil
	}
}

// RunHTTP serves the HTTP API until ctx is done.
func RunHTTP(ctx context.Context, cfg *config.Config, logOutput io.Writer) error {
	a, err := New(ctx, cfg, logOutput)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(
		cfg.HTTP, api.ServerDeps{
			Views:   a.Views,
			Catalog: a.Catalog,
			Logger:  a.Logger,
		},
	)
	return server.Run(ctx)
}

// RunTelegram serves the Telegram bot until ctx is done.
func RunTelegram(ctx context.Context, cfg *config.Config, logOutput io.Writer) error {
	if cfg.Telegram.TelegramAPIToken == "" {
		return fmt.Errorf("telegram.api_token is required")
	}
	a, err := New(ctx, cfg, logOutput)
	if err != nil {
		return err
	}
	defer a.Close()

	bot, err := tgbot.NewBotAPI(cfg.Telegram.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("failed to create new bot: %w", err)
	}
	a.Logger.Info("authorized on telegram", "account", bot.Self.UserName)

	telegramUsecase := usecase.NewTelegramUsecase(
		cfg.Telegram, a.Language, usecase.TelegramUsecaseDeps{
			Views:   a.Views,
			Catalog: a.Catalog,
			Bot:     bot,
			Logger:  a.Logger,
		},
	)
	if err = telegramUsecase.RegisterCommands(); err != nil {
		return fmt.Errorf("failed to create telegram usecase: %w", err)
	}
	return telegramUsecase.Run(ctx)
}
