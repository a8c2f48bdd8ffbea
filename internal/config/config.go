package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RunMigrations         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	DefaultBranchID       string
	SnapshotTTLSeconds    int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LoginRateLimit        string
	SyncRateLimit         string
	PINRateLimit          string
	BootstrapAdminPass    string
	LogLevel              string
	LogFormat             string
}

func Load() Config {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_BRANCH_ID", "branch-main")
	v.SetDefault("SNAPSHOT_TTL_SECONDS", 30)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("MANAGER_PIN", "")
	v.SetDefault("LOGIN_RATE_LIMIT", "5-M")
	v.SetDefault("SYNC_RATE_LIMIT", "60-M")
	v.SetDefault("MANAGER_PIN_RATE_LIMIT", "8-M")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.AutomaticEnv()

	snapshotTTL := v.GetInt("SNAPSHOT_TTL_SECONDS")
	if snapshotTTL < 1 {
		snapshotTTL = 30
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RunMigrations:         v.GetBool("RUN_MIGRATIONS"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		DefaultBranchID:       v.GetString("DEFAULT_BRANCH_ID"),
		SnapshotTTLSeconds:    snapshotTTL,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		LoginRateLimit:        v.GetString("LOGIN_RATE_LIMIT"),
		SyncRateLimit:         v.GetString("SYNC_RATE_LIMIT"),
		PINRateLimit:          v.GetString("MANAGER_PIN_RATE_LIMIT"),
		BootstrapAdminPass:    v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:             strings.ToLower(v.GetString("LOG_FORMAT")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// SlogLevel maps LOG_LEVEL onto slog levels; unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
