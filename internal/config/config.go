// Package config loads the process configuration from environment
// variables and an optional zapdesk.yaml file, with viper doing the
// heavy lifting. Every tunable of the session manager and the chatbot
// state machine lives here so tests can build a Config by hand.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SessionConfig tunes the connection session lifecycle manager.
type SessionConfig struct {
	InitTimeout       time.Duration `mapstructure:"init_timeout"`
	BackoffWindow     time.Duration `mapstructure:"backoff_window"`
	MaxInitRetries    int           `mapstructure:"max_init_retries"`
	CriticalThreshold int           `mapstructure:"critical_threshold"`
	QRTTL             time.Duration `mapstructure:"qr_ttl"`
}

// BotConfig tunes the queue-selection dialogue and cooldown behavior.
type BotConfig struct {
	ReminderDelay      time.Duration `mapstructure:"reminder_delay"`
	FinalDelay         time.Duration `mapstructure:"final_delay"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	MaxInvalidAttempts int           `mapstructure:"max_invalid_attempts"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// DatabaseConfig selects the SQL driver and DSN.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the cross-instance event hub when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AuthConfig holds the JWT signing material for the agent API.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Config is the root configuration tree.
type Config struct {
	HTTPAddr string         `mapstructure:"http_addr"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Session  SessionConfig  `mapstructure:"session"`
	Bot      BotConfig      `mapstructure:"bot"`
	// WebhookURL, when set, mirrors every published domain event to an
	// external HTTP endpoint.
	WebhookURL string `mapstructure:"webhook_url"`
	LogLevel   string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "zapdesk.db")

	v.SetDefault("redis.channel", "zapdesk:events")

	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("session.init_timeout", 90*time.Second)
	v.SetDefault("session.backoff_window", 60*time.Second)
	v.SetDefault("session.max_init_retries", 3)
	v.SetDefault("session.critical_threshold", 5)
	v.SetDefault("session.qr_ttl", 5*time.Minute)

	v.SetDefault("bot.reminder_delay", 60*time.Second)
	v.SetDefault("bot.final_delay", 180*time.Second)
	v.SetDefault("bot.settle_delay", 15*time.Second)
	v.SetDefault("bot.cooldown", 60*time.Second)
	v.SetDefault("bot.max_invalid_attempts", 3)
	v.SetDefault("bot.sweep_interval", 5*time.Minute)
}

// Load reads zapdesk.yaml (if present in the working directory or /etc/zapdesk)
// and the ZAPDESK_* environment, returning the merged configuration.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("zapdesk")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/zapdesk")

	v.SetEnvPrefix("ZAPDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the state machines cannot run with.
func (c *Config) Validate() error {
	if c.Session.MaxInitRetries < 1 {
		return fmt.Errorf("session.max_init_retries must be >= 1, got %d", c.Session.MaxInitRetries)
	}
	if c.Session.CriticalThreshold < 1 {
		return fmt.Errorf("session.critical_threshold must be >= 1, got %d", c.Session.CriticalThreshold)
	}
	if c.Bot.MaxInvalidAttempts < 1 {
		return fmt.Errorf("bot.max_invalid_attempts must be >= 1, got %d", c.Bot.MaxInvalidAttempts)
	}
	if c.Bot.FinalDelay <= c.Bot.ReminderDelay {
		return fmt.Errorf("bot.final_delay (%s) must be greater than bot.reminder_delay (%s)",
			c.Bot.FinalDelay, c.Bot.ReminderDelay)
	}
	return nil
}

// DefaultSession returns the session tuning used when no configuration
// is loaded, mainly for tests.
func DefaultSession() SessionConfig {
	return SessionConfig{
		InitTimeout:       90 * time.Second,
		BackoffWindow:     60 * time.Second,
		MaxInitRetries:    3,
		CriticalThreshold: 5,
		QRTTL:             5 * time.Minute,
	}
}

// DefaultBot returns the dialogue tuning used when no configuration is
// loaded, mainly for tests.
func DefaultBot() BotConfig {
	return BotConfig{
		ReminderDelay:      60 * time.Second,
		FinalDelay:         180 * time.Second,
		SettleDelay:        15 * time.Second,
		Cooldown:           60 * time.Second,
		MaxInvalidAttempts: 3,
		SweepInterval:      5 * time.Minute,
	}
}
