package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/GadCoder/BikeRoutes/libs/config"
)

type PBKDF2Params struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	AuthLimit int
	Window    time.Duration
	Redis     RateLimitRedisConfig
}

type Config struct {
	App             base.AppConfig
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	PBKDF2          PBKDF2Params
	DB              DBConfig
	RateLimit       RateLimitConfig
	CORSOrigins     []string

	// DebugAuth enables the X-Debug-User-Id impersonation header. It is
	// a development convenience, not a security boundary, and is forced
	// off outside dev/test environments.
	DebugAuth bool
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("BIKE_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:             *appCfg,
		JWTSecret:       envString("BIKE_JWT_SECRET", ""),
		AccessTokenTTL:  envDuration("BIKE_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: envDuration("BIKE_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		PBKDF2: PBKDF2Params{
			Iterations: envInt("BIKE_PBKDF2_ITERATIONS", 210_000),
			SaltLength: envInt("BIKE_PBKDF2_SALT_LENGTH", 16),
			KeyLength:  envInt("BIKE_PBKDF2_KEY_LENGTH", 32),
		},
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "bikeroutes"),
			User:     envString("POSTGRES_USER", "bikeroutes"),
			Password: envString("POSTGRES_PASSWORD", "bikeroutes"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		RateLimit: RateLimitConfig{
			AuthLimit: envInt("BIKE_AUTH_RATE_LIMIT", 5),
			Window:    envDuration("BIKE_AUTH_RATE_WINDOW", 1*time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("BIKE_RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("BIKE_RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("BIKE_RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("BIKE_RATE_LIMIT_REDIS_PREFIX", "bike:auth:rl:"),
			},
		},
		CORSOrigins: envList("BIKE_CORS_ORIGINS", []string{"http://localhost:5173"}),
		DebugAuth:   envBool("BIKE_DEBUG_AUTH", false),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("BIKE_JWT_SECRET must be set")
	}
	if cfg.PBKDF2.Iterations < 100_000 {
		return nil, fmt.Errorf("BIKE_PBKDF2_ITERATIONS must be at least 100000")
	}

	if cfg.App.Env != "dev" && cfg.App.Env != "test" {
		cfg.DebugAuth = false
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
