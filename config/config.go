package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read once at startup from the environment, with bot_token
// optionally supplied by a JSON file.
type Config struct {
	BotToken string `env:"BOT_TOKEN"`

	DatabasePath string `env:"SKD_DB_PATH" envDefault:"skland.db"`

	AutoSignEnabled bool   `env:"SKD_AUTO_SIGN_ENABLED" envDefault:"false"`
	AutoSignHour    int    `env:"SKD_AUTO_SIGN_HOUR" envDefault:"1"`
	TimeZone        string `env:"SKD_TIMEZONE" envDefault:"Asia/Shanghai"`

	// Games enabled for check-in. One token may hold bindings for several games.
	Games []string `env:"SKD_GAMES" envSeparator:"," envDefault:"arknights,endfield"`

	CallTimeout       time.Duration `env:"SKD_CALL_TIMEOUT" envDefault:"10s"`
	SessionTTL        time.Duration `env:"SKD_SESSION_TTL" envDefault:"30m"`
	MaxConcurrency    int           `env:"SKD_MAX_CONCURRENCY" envDefault:"8"`
	RequestsPerSecond float64       `env:"SKD_RPS" envDefault:"5"`

	MetricsAddr string `env:"SKD_METRICS_ADDR"`
	LogLevel    string `env:"SKD_LOG_LEVEL" envDefault:"info"`
}

type fileConfig struct {
	BotToken string `json:"bot_token"`
}

// Load parses the environment and, when BOT_TOKEN is unset, reads bot_token
// from the JSON file at path. A missing file is not an error; a missing
// token is.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.BotToken == "" && path != "" {
		token, err := readBotToken(path)
		if err != nil {
			return nil, err
		}
		cfg.BotToken = token
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is not set and %s has no bot_token", path)
	}

	cfg.AutoSignHour = max(0, min(23, cfg.AutoSignHour))
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readBotToken(path string) (string, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var fc fileConfig
	if err := json.NewDecoder(file).Decode(&fc); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return fc.BotToken, nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid SKD_TIMEZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// AutoSignSpec is the cron expression for the daily auto sign job.
func (c *Config) AutoSignSpec() string {
	return fmt.Sprintf("0 %d * * *", c.AutoSignHour)
}
