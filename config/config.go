package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EngineConfig tunes session timers and estimates.
type EngineConfig struct {
	InactivityTimeout         time.Duration `mapstructure:"inactivity_timeout"`
	AutoSaveInterval          time.Duration `mapstructure:"auto_save_interval"`
	DefaultLanguage           string        `mapstructure:"default_language"`
	DefaultSecondsPerQuestion int           `mapstructure:"default_seconds_per_question"`
}

// AnalyzerConfig tunes result generation.
type AnalyzerConfig struct {
	MaxRecommendations int `mapstructure:"max_recommendations"`
}

// StorageConfig tunes persistence and recovery.
type StorageConfig struct {
	QuotaBytes   int64         `mapstructure:"quota_bytes"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string
	}
	Database struct {
		DSN string // "memory" or a file path for SQLite
	}
	Catalog struct {
		Dir string // Optional directory of extra questionnaire YAML files
	}
	Engine   EngineConfig   `mapstructure:"engine"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// AppConfig is the global configuration instance.
var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.dsn", "./data/mindscreen.db")
	v.SetDefault("catalog.dir", "")
	v.SetDefault("engine.inactivity_timeout", "30m")
	v.SetDefault("engine.auto_save_interval", "30s")
	v.SetDefault("engine.default_language", "en")
	v.SetDefault("engine.default_seconds_per_question", 30)
	v.SetDefault("analyzer.max_recommendations", 8)
	v.SetDefault("storage.quota_bytes", 5*1024*1024)
	v.SetDefault("storage.max_retries", 2)
	v.SetDefault("storage.retry_backoff", "100ms")
}

// LoadConfig loads configuration from file and environment variables into AppConfig.
func LoadConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: [Config] Failed to read .env file: %v", err)
	}

	cfg, err := Load("./config", ".", "../config")
	if err != nil {
		log.Fatalf("FATAL: [Config] %v", err)
	}
	AppConfig = *cfg
	log.Println("INFO: [Config] Configuration loading complete.")
}

// Load reads config.yaml from the first matching search path, applies defaults and
// environment overrides, and validates the result.
func Load(searchPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("WARN: [Config] Configuration file (config.yaml) not found. Using environment variables and defaults.")
		} else {
			return nil, errors.New("error reading configuration file: " + err.Error())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal configuration: " + err.Error())
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
		log.Printf("INFO: [Config] Server port overridden by environment variable SERVER_PORT: %s", port)
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
		log.Printf("INFO: [Config] Database DSN overridden by environment variable DATABASE_DSN: %s", dsn)
	}
	if dir := os.Getenv("CATALOG_DIR"); dir != "" {
		cfg.Catalog.Dir = dir
		log.Printf("INFO: [Config] Catalog directory overridden by environment variable CATALOG_DIR: %s", dir)
	}
	if raw := os.Getenv("INACTIVITY_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Engine.InactivityTimeout = d
		} else {
			log.Printf("WARN: [Config] Ignoring invalid INACTIVITY_TIMEOUT '%s': %v", raw, err)
		}
	}
	if raw := os.Getenv("MAX_RECOMMENDATIONS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.Analyzer.MaxRecommendations = n
		} else {
			log.Printf("WARN: [Config] Ignoring invalid MAX_RECOMMENDATIONS '%s': %v", raw, err)
		}
	}
}

// Validate checks that timer and limit settings are usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port cannot be empty")
	}
	if c.Engine.InactivityTimeout <= 0 {
		return errors.New("engine.inactivity_timeout must be > 0")
	}
	if c.Engine.AutoSaveInterval <= 0 {
		return errors.New("engine.auto_save_interval must be > 0")
	}
	if c.Engine.DefaultLanguage == "" {
		return errors.New("engine.default_language cannot be empty")
	}
	if c.Analyzer.MaxRecommendations <= 0 {
		return errors.New("analyzer.max_recommendations must be > 0")
	}
	if c.Storage.MaxRetries < 0 {
		return errors.New("storage.max_retries cannot be negative")
	}
	return nil
}
