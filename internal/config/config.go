package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Model    ModelConfig    `mapstructure:"model"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	GinMode        string   `mapstructure:"gin_mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path   string `mapstructure:"path"`
	Silent bool   `mapstructure:"silent"`
}

type ModelConfig struct {
	Path string `mapstructure:"path"`
}

type ScoringConfig struct {
	MaxCandidates       int `mapstructure:"max_candidates"`
	DefaultTopK         int `mapstructure:"default_top_k"`
	Workers             int `mapstructure:"workers"`
	PredictionCacheSize int `mapstructure:"prediction_cache_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads .env, an optional config.yaml and REGIMEN_RISK_* environment
// variables, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("REGIMEN_RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "2000")
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.path", "data/regimen-risk.db")
	v.SetDefault("database.silent", true)

	v.SetDefault("model.path", "data/severity_model.json")

	v.SetDefault("scoring.max_candidates", 20)
	v.SetDefault("scoring.default_top_k", 3)
	v.SetDefault("scoring.workers", 0)
	v.SetDefault("scoring.prediction_cache_size", 4096)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if strings.TrimSpace(c.Model.Path) == "" {
		return errors.New("model.path is required")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port is required")
	}
	if c.Scoring.MaxCandidates <= 0 {
		return fmt.Errorf("scoring.max_candidates must be positive, got %d", c.Scoring.MaxCandidates)
	}
	if c.Scoring.DefaultTopK <= 0 {
		return fmt.Errorf("scoring.default_top_k must be positive, got %d", c.Scoring.DefaultTopK)
	}
	if c.Scoring.Workers < 0 {
		return fmt.Errorf("scoring.workers must not be negative, got %d", c.Scoring.Workers)
	}
	if c.Scoring.PredictionCacheSize < 0 {
		return fmt.Errorf("scoring.prediction_cache_size must not be negative, got %d", c.Scoring.PredictionCacheSize)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// ConfigureLogging applies the logging section to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.EqualFold(c.Logging.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
