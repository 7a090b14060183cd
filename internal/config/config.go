// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Search
	IndexPath string

	// Crawler
	CrawlInterval  time.Duration
	CrawlRateLimit float64 // ドメインごとの最大リクエスト数（req/sec）
	MaxFeedSize    int64
	MaxRecipeSize  int64
	FetchTimeout   time.Duration
	UserAgent      string

	// Feeds config sync
	FeedsConfigPath string

	// GitHub
	GitHubToken           string
	GitHubUpdateInterval  time.Duration
	GitHubRateLimitBuffer int
	GitHubMaxFileSize     int64
	RecipeConcurrency     int

	// Ops server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// DATABASE_URLのみ必須で、その他はデフォルト値を持つ。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variable is not set: DATABASE_URL")
	}

	cfg.IndexPath = getEnvString("INDEX_PATH", "./data/index")

	cfg.CrawlInterval = getEnvDuration("CRAWL_INTERVAL", time.Hour)
	cfg.CrawlRateLimit = getEnvFloat("CRAWL_RATE_LIMIT", 1)
	cfg.MaxFeedSize = getEnvInt64("MAX_FEED_SIZE", 5242880)
	cfg.MaxRecipeSize = getEnvInt64("MAX_RECIPE_SIZE", 1048576)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.UserAgent = getEnvString("USER_AGENT", "Cookfed/1.0 Recipe Aggregator")

	cfg.FeedsConfigPath = getEnvString("FEEDS_CONFIG_PATH", "")

	cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	cfg.GitHubUpdateInterval = getEnvDuration("GITHUB_UPDATE_INTERVAL", 6*time.Hour)
	cfg.GitHubRateLimitBuffer = getEnvInt("GITHUB_RATE_LIMIT_BUFFER", 500)
	cfg.GitHubMaxFileSize = getEnvInt64("GITHUB_MAX_FILE_SIZE", 1048576)
	cfg.RecipeConcurrency = getEnvInt("RECIPE_CONCURRENCY", 10)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.CrawlRateLimit <= 0 {
		return nil, fmt.Errorf("CRAWL_RATE_LIMIT must be positive: %v", cfg.CrawlRateLimit)
	}
	if cfg.RecipeConcurrency <= 0 {
		return nil, fmt.Errorf("RECIPE_CONCURRENCY must be positive: %d", cfg.RecipeConcurrency)
	}

	return cfg, nil
}

// getEnvString は環境変数を文字列として読み込む。未設定の場合はデフォルト値を返す。
func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt は環境変数を整数として読み込む。未設定またはパース不能の場合はデフォルト値を返す。
func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvInt64 は環境変数をint64として読み込む。未設定またはパース不能の場合はデフォルト値を返す。
func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvFloat は環境変数をfloat64として読み込む。未設定またはパース不能の場合はデフォルト値を返す。
func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvDuration は環境変数をtime.Durationとして読み込む。
// "30s"のようなGo形式と"3600"のような秒数表記の両方を受け付ける。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
