package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "MUSICROOM"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	LogLevel   string        `mapstructure:"log_level"`
	SendBuffer int           `mapstructure:"send_buffer"`

	Database  Database  `mapstructure:"database"`
	Workflow  Workflow  `mapstructure:"workflow"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Workflow struct {
	Timeout        time.Duration  `mapstructure:"timeout"`
	TerminateRetry TerminateRetry `mapstructure:"terminate_retry"`
}

type TerminateRetry struct {
	Initial    time.Duration `mapstructure:"initial"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
	QueueSize  int           `mapstructure:"queue_size"`
}

// RateLimit caps inbound control actions per user.
type RateLimit struct {
	Actions  int           `mapstructure:"actions"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("send_buffer", 64)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "musicroom.db")

	v.SetDefault("workflow.timeout", "10s")
	v.SetDefault("workflow.terminate_retry.initial", "500ms")
	v.SetDefault("workflow.terminate_retry.max_elapsed", "5m")
	v.SetDefault("workflow.terminate_retry.queue_size", 256)

	v.SetDefault("rate_limit.actions", 20)
	v.SetDefault("rate_limit.interval", "1s")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("db", cfg.Database.Driver).
		Bool("jwt", cfg.JWTSecret != "").
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: bad port %d", c.Port)
	}
	if c.JWTSecret == "" && c.Secret == "" {
		return fmt.Errorf("config: secret is required for guest sessions when jwt_secret is empty")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("config: send_buffer must be positive")
	}
	return nil
}
