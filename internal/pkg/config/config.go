package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Storage  StorageConfig  `yaml:"storage"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Bankroll BankrollConfig `yaml:"bankroll"`
	Feed     FeedConfig     `yaml:"feed"`
	Telegram TelegramConfig `yaml:"telegram"`
	Redis    RedisConfig    `yaml:"redis"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10" validate:"gte=1"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
}

type StorageConfig struct {
	// Driver is "postgres" or "memory" (memory keeps nothing across restarts).
	Driver string `yaml:"driver" default:"postgres" validate:"oneof=postgres memory"`
}

type TrackerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" default:"20s" validate:"gte=1s"`
	ErrorBackoff    time.Duration `yaml:"error_backoff" default:"10s" validate:"gte=1s"`
	Concurrency     int           `yaml:"concurrency" default:"3" validate:"gte=1,lte=32"`
	OpenTimeout     time.Duration `yaml:"open_timeout" default:"30s" validate:"gte=1s"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout" default:"15s" validate:"gte=1s"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout" default:"30s" validate:"gte=1s"`
}

type AnalysisConfig struct {
	Interval        time.Duration `yaml:"interval" default:"30s" validate:"gte=1s"`
	ErrorBackoff    time.Duration `yaml:"error_backoff" default:"10s" validate:"gte=1s"`
	LookbackMinutes int           `yaml:"lookback_minutes" default:"10" validate:"gte=2"`
	SnapshotSpacing int           `yaml:"snapshot_spacing_minutes" default:"2" validate:"gte=1"`
}

type BankrollConfig struct {
	InitialBalance  float64 `yaml:"initial_balance" default:"100" validate:"gt=0"`
	StakePercentage float64 `yaml:"stake_percentage" default:"5" validate:"gt=0,lte=100"`
}

type FeedConfig struct {
	ListURL        string        `yaml:"list_url" default:"https://www.livescore.in/br/futebol/"`
	Headless       bool          `yaml:"headless" default:"true"`
	UserAgent      string        `yaml:"user_agent" default:"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"`
	NavTimeout     time.Duration `yaml:"nav_timeout" default:"30s"`
	SettleDelay    time.Duration `yaml:"settle_delay" default:"2s"`
	DiscoverScript string        `yaml:"discover_script" validate:"required"`
	ReadScript     string        `yaml:"read_script" validate:"required"`
	ChromeDir      string        `yaml:"chrome_dir"`
}

type TelegramConfig struct {
	BotToken     string        `yaml:"bot_token"`
	ChatID       int64         `yaml:"chat_id"`
	SendInterval time.Duration `yaml:"send_interval" default:"2s"`
	QueueSize    int           `yaml:"queue_size" default:"100" validate:"gte=1"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream" default:"goalbot.notifications"`
	MaxLen   int64  `yaml:"max_len" default:"10000"`
}

type HealthConfig struct {
	Addr              string        `yaml:"addr" default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" default:"5s" validate:"gt=0"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"14"`
}

// Load reads the YAML file, fills defaults, applies environment overrides and validates.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Driver == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("invalid config: postgres.dsn is required when storage.driver is postgres")
	}
	return nil
}

func applyEnv(c *Config) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if chatIDStr := os.Getenv("TELEGRAM_CHAT_ID"); chatIDStr != "" {
		if chatID, err := strconv.ParseInt(chatIDStr, 10, 64); err == nil {
			c.Telegram.ChatID = chatID
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
}
