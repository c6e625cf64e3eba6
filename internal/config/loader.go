package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BETPOOL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BETPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BETPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETPOOL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BETPOOL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BETPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETPOOL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BETPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BETPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETPOOL_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "BETPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETPOOL_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "BETPOOL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "BETPOOL_SERVER_RATE_LIMIT_WINDOW")

	// ── Auth ──
	setBool(&cfg.Auth.AllowUnsigned, "BETPOOL_AUTH_ALLOW_UNSIGNED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETPOOL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETPOOL_MODE")
	setStr(&cfg.LogLevel, "BETPOOL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
