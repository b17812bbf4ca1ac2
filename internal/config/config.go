package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Auth modes.
const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit   string   `mapstructure:"BODY_LIMIT"`

	// Per-user request budgets per minute; 0 disables the limit.
	RateLimitPerMinute      int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	PredictionRatePerMinute int `mapstructure:"PREDICTION_RATE_PER_MINUTE"`

	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	TokenLifetime  time.Duration `mapstructure:"TOKEN_LIFETIME"`

	MLInferenceURL     string        `mapstructure:"ML_INFERENCE_URL"`
	MLInferenceAPIKey  string        `mapstructure:"ML_INFERENCE_API_KEY"`
	MLInferenceTimeout time.Duration `mapstructure:"ML_INFERENCE_TIMEOUT"`
	MLInferenceRetries int           `mapstructure:"ML_INFERENCE_RETRIES"`

	PredictionConfidenceThreshold float64 `mapstructure:"PREDICTION_CONFIDENCE_THRESHOLD"`
	MigrationsDir                 string  `mapstructure:"MIGRATIONS_DIR"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CORS_ORIGINS", "BODY_LIMIT",
	"RATE_LIMIT_PER_MINUTE", "PREDICTION_RATE_PER_MINUTE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "TOKEN_LIFETIME",
	"ML_INFERENCE_URL", "ML_INFERENCE_API_KEY", "ML_INFERENCE_TIMEOUT", "ML_INFERENCE_RETRIES",
	"PREDICTION_CONFIDENCE_THRESHOLD", "MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 600)
	v.SetDefault("PREDICTION_RATE_PER_MINUTE", 10)
	v.SetDefault("TOKEN_LIFETIME", "12h")
	v.SetDefault("ML_INFERENCE_URL", "http://127.0.0.1:9000")
	v.SetDefault("ML_INFERENCE_TIMEOUT", "30s")
	v.SetDefault("ML_INFERENCE_RETRIES", 2)
	v.SetDefault("PREDICTION_CONFIDENCE_THRESHOLD", 0.8)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Println("WARNING: development auth is active: requests without X-Dev-* headers act as admin.")
		log.Println("WARNING: set ENV=production and AUTH_SIGNING_KEY before exposing this server.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "jwt" for every other environment.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// Validate refuses configurations that would run without real
// authentication or with a meaningless prediction threshold.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case AuthModeJWT:
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when AUTH_MODE is %q (ENV=%q)", mode, c.Env)
		}
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	if c.PredictionConfidenceThreshold <= 0 || c.PredictionConfidenceThreshold > 1 {
		return fmt.Errorf("PREDICTION_CONFIDENCE_THRESHOLD must be in (0,1], got %v", c.PredictionConfidenceThreshold)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitPerMinute < 0 || c.PredictionRatePerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.TokenLifetime <= 0 {
		return fmt.Errorf("TOKEN_LIFETIME must be positive")
	}
	return nil
}
