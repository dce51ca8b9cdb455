package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yeremiapane/dinein/utils"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config holds application configuration loaded from the environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Realtime RealtimeConfig
	Mail     MailConfig
	LogLevel string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	GinMode            string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	ShutdownTimeout    time.Duration
}

// DatabaseConfig selects the gorm dialector. Driver is mysql, postgres or sqlite.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// RedisConfig holds the mail queue connection. An empty Addr disables the queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ReuseGrace time.Duration
}

// RealtimeConfig bounds the per-session subscriber registry.
type RealtimeConfig struct {
	MaxSubscribers int
	IdleTimeout    time.Duration
	HardTimeout    time.Duration
	SweepInterval  time.Duration
}

type MailConfig struct {
	From          string
	PublicBaseURL string
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Printf("Warning: .env file not found or error loading: %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			GinMode:            getEnv("GIN_MODE", "debug"),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
			RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 5),
			RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 10),
			ShutdownTimeout:    time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			DSN:    getEnv("DB_DSN", "dinein.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", defaultJWTSecret),
			AccessTTL:  time.Duration(getEnvInt("JWT_ACCESS_TTL_MINUTES", 120)) * time.Minute,
			RefreshTTL: time.Duration(getEnvInt("REFRESH_TTL_HOURS", 24*14)) * time.Hour,
			ReuseGrace: time.Duration(getEnvInt("REFRESH_REUSE_GRACE_SECONDS", 30)) * time.Second,
		},
		Realtime: RealtimeConfig{
			MaxSubscribers: getEnvInt("WS_MAX_SUBSCRIBERS", 32),
			IdleTimeout:    time.Duration(getEnvInt("WS_IDLE_TIMEOUT_SECONDS", 90)) * time.Second,
			HardTimeout:    time.Duration(getEnvInt("WS_HARD_TIMEOUT_MINUTES", 240)) * time.Minute,
			SweepInterval:  time.Duration(getEnvInt("WS_SWEEP_INTERVAL_SECONDS", 30)) * time.Second,
		},
		Mail: MailConfig{
			From:          getEnv("MAIL_FROM", "noreply@dinein.local"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.JWT.Secret == defaultJWTSecret {
		utils.InfoLogger.Warn("JWT_SECRET not set, using development secret")
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is not set")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.Realtime.MaxSubscribers <= 0 {
		return fmt.Errorf("WS_MAX_SUBSCRIBERS must be positive")
	}
	if c.Realtime.SweepInterval <= 0 || c.Realtime.IdleTimeout <= 0 || c.Realtime.HardTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
