package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the gradebook API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	JWTSecret        string
	ChecksumSecret   string
	AnalyticsURL     string
	AnalyticsToken   string
	AnalyticsTimeout time.Duration
	DeferThreshold   int
	MaxUploadBytes   int64
	ResultTTL        time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADEBOOK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Gradebook API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("analytics.timeout", "5s")
	// files with at least this many rows are processed asynchronously
	v.SetDefault("defer_threshold", 100)
	v.SetDefault("max_upload_bytes", 4*1024*1024)
	v.SetDefault("result_ttl", "24h")

	analyticsTimeout, err := time.ParseDuration(v.GetString("analytics.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid analytics timeout: %w", err)
	}

	resultTTL, err := time.ParseDuration(v.GetString("result_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid result ttl: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		JWTSecret:        v.GetString("jwt.secret"),
		ChecksumSecret:   v.GetString("checksum.secret"),
		AnalyticsURL:     v.GetString("analytics.url"),
		AnalyticsToken:   v.GetString("analytics.token"),
		AnalyticsTimeout: analyticsTimeout,
		DeferThreshold:   v.GetInt("defer_threshold"),
		MaxUploadBytes:   v.GetInt64("max_upload_bytes"),
		ResultTTL:        resultTTL,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.ChecksumSecret == "" {
		return Config{}, fmt.Errorf("checksum secret must be provided")
	}

	if cfg.DeferThreshold <= 0 {
		cfg.DeferThreshold = 100
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 4 * 1024 * 1024
	}

	return cfg, nil
}
