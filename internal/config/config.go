// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Port           int
	AllowedOrigins []string

	DatabaseURL string
	KVURL       string

	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	AIAPIKey  string
	AIBaseURL string
	AIModel   string

	UploadBucket string
}

// Load reads configuration from the environment. Required variables
// missing or malformed make the server refuse to start.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           GetEnvInt("PORT", 8080),
		AllowedOrigins: GetEnvSlice("ALLOWED_ORIGINS", []string{GetEnv("FRONTEND_URL", "http://localhost:5173")}),

		DatabaseURL: GetEnv("DATABASE_URL", ""),
		KVURL:       GetEnv("KV_URL", ""),

		JWTSecret:        GetEnv("JWT_SECRET", ""),
		JWTRefreshSecret: GetEnv("JWT_REFRESH_SECRET", ""),
		AccessTokenTTL:   GetEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:  GetEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		AIAPIKey:  GetEnv("AI_API_KEY", ""),
		AIBaseURL: GetEnv("AI_BASE_URL", ""),
		AIModel:   GetEnv("AI_MODEL", "gpt-4o-mini"),

		UploadBucket: GetEnv("UPLOAD_BUCKET", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.KVURL == "" {
		return nil, fmt.Errorf("KV_URL is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if len(cfg.JWTRefreshSecret) < 32 {
		return nil, fmt.Errorf("JWT_REFRESH_SECRET must be at least 32 characters")
	}

	return cfg, nil
}

// IsAIConfigured reports whether an upstream model is available.
func (c *Config) IsAIConfigured() bool {
	return c.AIAPIKey != ""
}
