package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ehr/labccda/internal/platform/middleware"
)

// minSigningKeyLen is the shortest HS256 key accepted outside development.
const minSigningKeyLen = 32

type Config struct {
	Port                string   `mapstructure:"PORT"`
	Env                 string   `mapstructure:"ENV"`
	DefaultOrganization string   `mapstructure:"DEFAULT_ORGANIZATION"`
	OutputDir           string   `mapstructure:"OUTPUT_DIR"`
	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit           string   `mapstructure:"BODY_LIMIT"`
	AuthSigningKey      string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer          string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string   `mapstructure:"AUTH_AUDIENCE"`
	RateLimitRPS        float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DEFAULT_ORGANIZATION", "Laboratory")
	v.SetDefault("OUTPUT_DIR", ".")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DEFAULT_ORGANIZATION", "OUTPUT_DIR", "CORS_ORIGINS",
		"BODY_LIMIT", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env values split on commas without trimming.
	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SIGNING_KEY must be set so that bearer tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.AuthSigningKey) < minSigningKeyLen {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY must be at least %d bytes when ENV=%q. "+
				"Refusing to start without authentication configuration", minSigningKeyLen, c.Env)
	}
	if _, err := middleware.ParseBodyLimit(c.BodyLimit); err != nil {
		return fmt.Errorf("BODY_LIMIT: %w", err)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when RATE_LIMIT_RPS is set")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	return nil
}

// RateLimit returns the per-client limits for the API server. RATE_LIMIT_RPS=0
// disables limiting.
func (c *Config) RateLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RequestsPerSecond: c.RateLimitRPS,
		BurstSize:         c.RateLimitBurst,
	}
}
