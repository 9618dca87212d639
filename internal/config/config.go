package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	WhatsApp   WhatsAppConfig   `mapstructure:"whatsapp"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Session    SessionConfig    `mapstructure:"session"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type TelegramConfig struct {
	Token         string  `mapstructure:"token"`
	AdminIDs      []int64 `mapstructure:"admin_ids"`
	ErrorChatID   int64   `mapstructure:"error_chat_id"`
	UpdateTimeout int     `mapstructure:"update_timeout"`
}

type WhatsAppConfig struct {
	SessionPath string `mapstructure:"session_path"`
	MediaDir    string `mapstructure:"media_dir"`
}

// ProviderConfig describes one AI backend. Order in the config file is the
// failover order.
type ProviderConfig struct {
	Name         string   `mapstructure:"name"`
	APIKey       string   `mapstructure:"api_key"`
	BaseURL      string   `mapstructure:"base_url"`
	TextModels   []string `mapstructure:"text_models"`
	VisionModels []string `mapstructure:"vision_models"`
}

type SessionConfig struct {
	SystemPrompt  string `mapstructure:"system_prompt"`
	Greeting      string `mapstructure:"greeting"`
	VisionPrompt  string `mapstructure:"vision_prompt"`
	OCRPrompt     string `mapstructure:"ocr_prompt"`
	AdminPassword string `mapstructure:"admin_password"`
	MaxTurns      int    `mapstructure:"max_turns"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	LoginMarker   string `mapstructure:"login_marker"`
}

type RateLimitConfig struct {
	DailyLimit int `mapstructure:"daily_limit"`
	// Flood protection in front of the daily quota.
	Flood FloodConfig `mapstructure:"flood"`
}

type FloodConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	viper.BindEnv("telegram.error_chat_id", "TELEGRAM_ERROR_CHAT_ID")
	viper.BindEnv("session.admin_password", "ADMIN_PASSWORD")
	viper.BindEnv("storage.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Provider API keys come from the environment, keyed by provider name
	// (GROQ_API_KEY, GEMINI_API_KEY, ...). The config file only lists models.
	for i := range config.Providers {
		if config.Providers[i].APIKey == "" {
			envKey := strings.ToUpper(config.Providers[i].Name) + "_API_KEY"
			config.Providers[i].APIKey = viper.GetString(envKey)
		}
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Session.MaxTurns == 0 {
		cfg.Session.MaxTurns = 50
	}
	if cfg.Session.MaxAttempts == 0 {
		cfg.Session.MaxAttempts = 3
	}
	if cfg.Session.LoginMarker == "" {
		cfg.Session.LoginMarker = ".last_login.json"
	}
	if cfg.RateLimit.DailyLimit == 0 {
		cfg.RateLimit.DailyLimit = 20
	}
	if cfg.Telegram.UpdateTimeout == 0 {
		cfg.Telegram.UpdateTimeout = 60
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "en"
	}
	if len(cfg.I18n.Languages) == 0 {
		cfg.I18n.Languages = []string{"en"}
	}
	if cfg.I18n.Directory == "" {
		cfg.I18n.Directory = "configs/i18n"
	}
	if cfg.WhatsApp.SessionPath == "" {
		cfg.WhatsApp.SessionPath = "whatsapp-session.db"
	}
	if cfg.WhatsApp.MediaDir == "" {
		cfg.WhatsApp.MediaDir = "media"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if len(cfg.Telegram.AdminIDs) == 0 {
		return fmt.Errorf("at least one telegram admin id is required")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one AI provider is required")
	}
	for _, p := range cfg.Providers {
		if len(p.TextModels) == 0 {
			return fmt.Errorf("provider %s has no text models", p.Name)
		}
	}
	if cfg.Session.AdminPassword == "" {
		return fmt.Errorf("admin password is required")
	}
	return nil
}
