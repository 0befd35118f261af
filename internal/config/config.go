package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// SourceConfig holds per-source settings loaded from the environment.
type SourceConfig struct {
	Enabled  bool
	CacheTTL time.Duration
	APIKey   string
	BaseURL  string
}

// Config holds all runtime configuration for the screening engine.
type Config struct {
	LogLevel string

	DBUrl     string
	RedisURL  string
	RedisAddr string

	// Matching and alerting thresholds (0..100)
	MatchThreshold int
	AlertThreshold int

	// Freshness window for reusing persisted screening results
	FreshnessWindow time.Duration

	// Per-source call timeout and retry policy
	SourceTimeout time.Duration
	MaxRetries    int
	RetryDelay    time.Duration

	// Bound on concurrent customers during batch screening
	BatchConcurrency int

	// Periodic refresh interval for list-backed sources
	UpdateInterval time.Duration

	UserAgent string

	HTTPAddr string

	WebhookURL string

	Sources map[string]SourceConfig
}

var sourceCodes = []string{
	"ofac_sdn", "un_consolidated", "eu_sanctions", "uk_ofsi",
	"opensanctions_pep", "opencorporates",
}

// LoadConfig reads configuration from environment variables and an
// optional .env file, falling back to defaults suitable for development.
func LoadConfig() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found: %v", err)
	}

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MATCH_THRESHOLD", 80)
	viper.SetDefault("ALERT_THRESHOLD", 90)
	viper.SetDefault("FRESHNESS_WINDOW", 24*time.Hour)
	viper.SetDefault("SOURCE_TIMEOUT", 30*time.Second)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_DELAY", 5*time.Second)
	viper.SetDefault("BATCH_CONCURRENCY", 10)
	viper.SetDefault("UPDATE_INTERVAL", time.Hour)
	viper.SetDefault("USER_AGENT", "CERES-Compliance-System/1.0")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("HTTP_ADDR", ":8080")

	cfg := &Config{
		LogLevel:         viper.GetString("LOG_LEVEL"),
		DBUrl:            viper.GetString("DB_URL"),
		RedisURL:         viper.GetString("REDIS_URL"),
		RedisAddr:        viper.GetString("REDIS_ADDR"),
		MatchThreshold:   viper.GetInt("MATCH_THRESHOLD"),
		AlertThreshold:   viper.GetInt("ALERT_THRESHOLD"),
		FreshnessWindow:  viper.GetDuration("FRESHNESS_WINDOW"),
		SourceTimeout:    viper.GetDuration("SOURCE_TIMEOUT"),
		MaxRetries:       viper.GetInt("MAX_RETRIES"),
		RetryDelay:       viper.GetDuration("RETRY_DELAY"),
		BatchConcurrency: viper.GetInt("BATCH_CONCURRENCY"),
		UpdateInterval:   viper.GetDuration("UPDATE_INTERVAL"),
		UserAgent:        viper.GetString("USER_AGENT"),
		HTTPAddr:         viper.GetString("HTTP_ADDR"),
		WebhookURL:       viper.GetString("ALERT_WEBHOOK_URL"),
		Sources:          make(map[string]SourceConfig, len(sourceCodes)),
	}

	for _, code := range sourceCodes {
		prefix := "SOURCE_" + code + "_"
		viper.SetDefault(prefix+"ENABLED", true)
		viper.SetDefault(prefix+"CACHE_TTL", 24*time.Hour)
		cfg.Sources[code] = SourceConfig{
			Enabled:  viper.GetBool(prefix + "ENABLED"),
			CacheTTL: viper.GetDuration(prefix + "CACHE_TTL"),
			APIKey:   viper.GetString(prefix + "API_KEY"),
			BaseURL:  viper.GetString(prefix + "BASE_URL"),
		}
	}

	return cfg
}
