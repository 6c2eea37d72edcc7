// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Discord OAuth
	DiscordClientID     string
	DiscordClientSecret string

	// Session
	CookieSecret string
	SessionDays  int

	// Token refresh
	TokenRefreshWindow time.Duration

	// Bot API
	BotAPIBaseURL string
	BotAPIToken   string

	// Health cache
	HealthCacheTTL  time.Duration
	UpstreamTimeout time.Duration

	// Botギルド在籍キャッシュ
	BotGuildCacheTTL time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral int

	// Server
	ServerPort    string
	MetricsPort   string
	PublicSiteURL string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DiscordClientID = os.Getenv("DISCORD_CLIENT_ID")
	if cfg.DiscordClientID == "" {
		missing = append(missing, "DISCORD_CLIENT_ID")
	}

	cfg.DiscordClientSecret = os.Getenv("DISCORD_CLIENT_SECRET")
	if cfg.DiscordClientSecret == "" {
		missing = append(missing, "DISCORD_CLIENT_SECRET")
	}

	cfg.CookieSecret = os.Getenv("COOKIE_SECRET")
	if cfg.CookieSecret == "" {
		missing = append(missing, "COOKIE_SECRET")
	}

	cfg.PublicSiteURL = strings.TrimRight(os.Getenv("PUBLIC_SITE_URL"), "/")
	if cfg.PublicSiteURL == "" {
		missing = append(missing, "PUBLIC_SITE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Bot APIは未設定でも起動できる。未設定時は/healthが設定エラーを返し、
	// ギルド一覧のbotInGuildがnullになる。
	cfg.BotAPIBaseURL = strings.TrimRight(os.Getenv("BOT_API_BASE_URL"), "/")

	// Botトークンは歴史的経緯で複数の環境変数名が使われているため順に探す
	cfg.BotAPIToken = firstNonEmpty(
		os.Getenv("BOT_API_TOKEN"),
		os.Getenv("BOT_TOKEN"),
		os.Getenv("BOT_API_KEY"),
	)

	// Optional fields with defaults
	cfg.SessionDays = getEnvInt("SESSION_DAYS", 180)
	cfg.TokenRefreshWindow = getEnvDuration("TOKEN_REFRESH_WINDOW", 60*time.Second)
	cfg.HealthCacheTTL = getEnvDuration("HEALTH_CACHE_TTL", 60*time.Second)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Second)
	cfg.BotGuildCacheTTL = getEnvDuration("BOT_GUILD_CACHE_TTL", 60*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// SessionMaxAge はセッションCookieの有効期間（秒）を返す。
func (c *Config) SessionMaxAge() int {
	return c.SessionDays * 24 * 60 * 60
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
