// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	Model       ModelConfig
	Tutor       TutorConfig
	RateLimit   RateLimitConfig
}

// ModelConfig points at the external content/model service.
type ModelConfig struct {
	BaseURL        string
	APIKey         string
	Name           string
	RequestTimeout time.Duration
}

// TutorConfig controls the dialogue orchestration core.
type TutorConfig struct {
	// MaxAttempts bounds retries on malformed model output per call.
	MaxAttempts int
	// RetryBackoff is slept between parse retries. Zero disables backoff.
	RetryBackoff time.Duration
	// Workers sizes the model-call worker pool shared across sessions.
	Workers int
	// TranscriptWindow caps how many recent turns are sent to the model.
	TranscriptWindow int
}

// RateLimitConfig throttles turn submission per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/mentorlab.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		Model: ModelConfig{
			BaseURL:        getEnv("MODEL_BASE_URL", "http://localhost:11434/v1"),
			APIKey:         getEnv("MODEL_API_KEY", ""),
			Name:           getEnv("MODEL_NAME", "llama3"),
			RequestTimeout: getEnvDuration("MODEL_REQUEST_TIMEOUT", 60*time.Second),
		},
		Tutor: TutorConfig{
			MaxAttempts:      getEnvInt("TUTOR_MAX_ATTEMPTS", 3),
			RetryBackoff:     getEnvDuration("TUTOR_RETRY_BACKOFF", 0),
			Workers:          getEnvInt("TUTOR_WORKERS", 8),
			TranscriptWindow: getEnvInt("TUTOR_TRANSCRIPT_WINDOW", 20),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("MODEL_BASE_URL cannot be empty")
	}
	if c.Tutor.MaxAttempts <= 0 {
		return fmt.Errorf("TUTOR_MAX_ATTEMPTS must be > 0")
	}
	if c.Tutor.Workers <= 0 {
		return fmt.Errorf("TUTOR_WORKERS must be > 0")
	}
	if c.Tutor.TranscriptWindow <= 0 {
		return fmt.Errorf("TUTOR_TRANSCRIPT_WINDOW must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
