package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
	StorageMySQL  = "mysql"
)

type App struct {
	Language string `yaml:"language" env:"CAGPT_LANGUAGE" env-default:"en"`
	UI       UI     `yaml:"ui"`
}

// UI holds the preferences a new view starts with.
type UI struct {
	Theme         string `yaml:"theme" env:"CAGPT_UI_THEME" env-default:"dark"`
	SidebarOpen   bool   `yaml:"sidebar_open" env:"CAGPT_UI_SIDEBAR_OPEN" env-default:"true"`
	SubjectFilter string `yaml:"subject_filter" env:"CAGPT_UI_SUBJECT_FILTER"`
}

type Log struct {
	Level      string `yaml:"level" env:"CAGPT_LOG_LEVEL" env-default:"info"`
	Dir        string `yaml:"dir" env:"CAGPT_LOG_DIR"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"CAGPT_LOG_MAX_SIZE_MB" env-default:"10"`
	MaxBackups int    `yaml:"max_backups" env:"CAGPT_LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" env:"CAGPT_LOG_MAX_AGE_DAYS" env-default:"28"`
}

type Telemetry struct {
	Enabled        bool          `yaml:"enabled" env:"CAGPT_TELEMETRY_ENABLED" env-default:"false"`
	Dir            string        `yaml:"dir" env:"CAGPT_TELEMETRY_DIR" env-default:"logs"`
	MetricInterval time.Duration `yaml:"metric_interval" env:"CAGPT_TELEMETRY_METRIC_INTERVAL" env-default:"10s"`
}

type HTTP struct {
	Address         string        `yaml:"address" env:"CAGPT_HTTP_ADDRESS" env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CAGPT_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Provider struct {
	Backend string `yaml:"backend" env:"CAGPT_PROVIDER" env-default:"mock"`
	// Timeout bounds one provider call. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout" env:"CAGPT_PROVIDER_TIMEOUT" env-default:"0s"`
}

type OpenAI struct {
	OpenAIAPIKey     string  `yaml:"api_key" env:"OPENAI_API_KEY"`
	OpenAIModel      string  `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	OpenAIBaseURL    string  `yaml:"base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	ModelTemperature float32 `yaml:"model_temperature" env:"OPENAI_MODEL_TEMPERATURE" env-default:"0.7"`
	MaxContextTokens int     `yaml:"max_context_tokens" env:"OPENAI_MAX_CONTEXT_TOKENS" env-default:"3500"`
}

type Gemini struct {
	APIKey           string  `yaml:"api_key" env:"GEMINI_API_KEY"`
	Model            string  `yaml:"model" env:"GEMINI_MODEL" env-default:"gemini-2.5-flash"`
	ModelTemperature float32 `yaml:"model_temperature" env:"GEMINI_MODEL_TEMPERATURE" env-default:"0.7"`
	MaxOutputTokens  int32   `yaml:"max_output_tokens" env:"GEMINI_MAX_OUTPUT_TOKENS" env-default:"2048"`
}

type Mock struct {
	Delay       time.Duration `yaml:"delay" env:"CAGPT_MOCK_DELAY" env-default:"1500ms"`
	FailureRate float64       `yaml:"failure_rate" env:"CAGPT_MOCK_FAILURE_RATE" env-default:"0"`
}

type Redis struct {
	Endpoint string `yaml:"endpoint" env:"REDIS_ENDPOINT" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type SQL struct {
	DSN string `yaml:"dsn" env:"CAGPT_SQL_DSN" env-default:"cagpt.db"`
}

type Storage struct {
	Backend string `yaml:"backend" env:"CAGPT_STORAGE" env-default:"memory"`
	Redis   Redis  `yaml:"redis"`
	SQL     SQL    `yaml:"sql"`
}

type View struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout" env:"CAGPT_VIEW_IDLE_TIMEOUT" env-default:"30m"`
	EvictionSchedule string        `yaml:"eviction_schedule" env:"CAGPT_VIEW_EVICTION_SCHEDULE" env-default:"@every 1m"`
}

type Telegram struct {
	TelegramAPIToken  string  `yaml:"api_token" env:"TELEGRAM_APITOKEN"`
	AllowedTelegramID []int64 `yaml:"allowed_telegram_id" env:"ALLOWED_TELEGRAM_ID" env-separator:","`
}

type Syllabus struct {
	// MaxSize is in bytes. Zero takes the default of 10 MiB.
	MaxSize int64 `yaml:"max_size" env:"CAGPT_SYLLABUS_MAX_SIZE" env-default:"10485760"`
}

type Catalog struct {
	Path string `yaml:"path" env:"CAGPT_CATALOG_PATH"`
}

type Config struct {
	App       App       `yaml:"app"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
	HTTP      HTTP      `yaml:"http"`
	Provider  Provider  `yaml:"provider"`
	OpenAI    OpenAI    `yaml:"openai"`
	Gemini    Gemini    `yaml:"gemini"`
	Mock      Mock      `yaml:"mock"`
	Storage   Storage   `yaml:"storage"`
	View      View      `yaml:"view"`
	Telegram  Telegram  `yaml:"telegram"`
	Catalog   Catalog   `yaml:"catalog"`
	Syllabus  Syllabus  `yaml:"syllabus"`
}

// LoadConfig reads the optional .env file, the YAML file at cfgPath (when
// set) and the environment, in that order of precedence from low to high.
func LoadConfig(cfgPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgPath, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	var errs []string

	switch c.Provider.Backend {
	case ProviderMock:
		if c.Mock.FailureRate < 0 || c.Mock.FailureRate > 1 {
			errs = append(errs, "mock.failure_rate must be within [0, 1]")
		}
	case ProviderOpenAI:
		if c.OpenAI.OpenAIAPIKey == "" {
			errs = append(errs, "openai.api_key is required for the openai provider")
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			errs = append(errs, "gemini.api_key is required for the gemini provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown provider %q", c.Provider.Backend))
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageRedis:
	case StorageSQLite, StorageMySQL:
		if c.Storage.SQL.DSN == "" {
			errs = append(errs, "storage.sql.dsn is required for sql storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.App.UI.Theme {
	case "light", "dark":
	default:
		errs = append(errs, fmt.Sprintf("unknown theme %q", c.App.UI.Theme))
	}

	if c.View.IdleTimeout < 0 {
		errs = append(errs, "view.idle_timeout must not be negative")
	}
	if c.View.EvictionSchedule != "" {
		if _, err := cron.ParseStandard(c.View.EvictionSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("view.eviction_schedule: %v", err))
		}
	}
	if c.Syllabus.MaxSize < 0 {
		errs = append(errs, "syllabus.max_size must not be negative")
	}
	if c.Provider.Timeout < 0 {
		errs = append(errs, "provider.timeout must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
