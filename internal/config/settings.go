package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ogulcanaydogan/llm-table-fill/internal/logging"
	"github.com/ogulcanaydogan/llm-table-fill/internal/observability"
)

const (
	EnvPrefix   = "LLMFILL_"
	DefaultHome = ".llmfill"
)

type LarkSettings struct {
	AppID     string `env:"APP_ID"`
	AppSecret string `env:"APP_SECRET"`
	AppToken  string `env:"APP_TOKEN"`
	BaseURL   string `env:"BASE_URL" envDefault:"https://open.feishu.cn"`
}

// Settings are process-wide knobs read from LLMFILL_* variables.
type Settings struct {
	Home        string        `env:"HOME"`
	APIKey      string        `env:"API_KEY"`
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"20" validate:"gte=1,lte=500"`
	PageSize    int           `env:"PAGE_SIZE" envDefault:"5000" validate:"gte=1"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"0s" validate:"gte=0"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"10m"`
	Referer     string        `env:"REFERER"`
	Title       string        `env:"TITLE"`
	// Host is larkbase or file.
	Host      string `env:"HOST" envDefault:"larkbase" validate:"oneof=larkbase file"`
	TableFile string `env:"TABLE_FILE"`

	Lark LarkSettings         `envPrefix:"LARK_"`
	Log  logging.Config       `envPrefix:"LOG_"`
	OTel observability.Config `envPrefix:"OTEL_"`
}

// LoadSettings loads the given .env files (or ./.env when present) into the
// process environment without overriding it, then parses Settings.
func LoadSettings(envFiles ...string) (Settings, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("load env files: %w", err)
		}
	}
	return ParseSettings(env.ToMap(os.Environ()))
}

// ParseSettings parses Settings from an explicit environment map.
func ParseSettings(environ map[string]string) (Settings, error) {
	var s Settings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if s.Home == "" {
		s.Home = DefaultHome
	}
	if s.Log.File == "" {
		s.Log.File = filepath.Join(s.Home, "logs", "llmfill.log")
	}
	if err := structValidator().Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
