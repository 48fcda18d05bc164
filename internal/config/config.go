package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// ソースごとの認証情報は起動時には必須とせず、未設定のソースは
// 同期実行時に設定エラーとして扱われる。
type Config struct {
	// Database
	DatabaseURL string

	// Cronometer（スクレイピング）
	CronometerUsername string
	CronometerPassword string
	CronometerBaseURL  string

	// Oura（REST API）
	OuraAccessToken string
	OuraBaseURL     string

	// Picooc（体組成計API）
	PicoocUsername string
	PicoocPassword string
	PicoocBaseURL  string

	// Sync
	SyncInterval          time.Duration
	SyncTimeout           time.Duration
	FirstSyncLookbackDays int
	SyncOverlap           time.Duration
	AggregationWindowDays int

	// Fetch
	FetchTimeout   time.Duration
	FetchMaxSize   int64
	ExportInterval time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitSync    int

	// Cleanup
	RunRetentionDays int
	CleanupInterval  time.Duration

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Per-source credentials（任意。未設定ソースは同期時にエラー）
	cfg.CronometerUsername = os.Getenv("CRONOMETER_USERNAME")
	cfg.CronometerPassword = os.Getenv("CRONOMETER_PASSWORD")
	cfg.CronometerBaseURL = getEnvString("CRONOMETER_BASE_URL", "https://cronometer.com")
	cfg.OuraAccessToken = os.Getenv("OURA_ACCESS_TOKEN")
	cfg.OuraBaseURL = getEnvString("OURA_BASE_URL", "https://api.ouraring.com")
	cfg.PicoocUsername = os.Getenv("PICOOC_USERNAME")
	cfg.PicoocPassword = os.Getenv("PICOOC_PASSWORD")
	cfg.PicoocBaseURL = getEnvString("PICOOC_BASE_URL", "https://api2.picooc-int.com")

	// Optional fields with defaults
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 30*time.Minute)
	cfg.SyncTimeout = getEnvDuration("SYNC_TIMEOUT", 5*time.Minute)
	cfg.FirstSyncLookbackDays = getEnvInt("FIRST_SYNC_LOOKBACK_DAYS", 30)
	cfg.SyncOverlap = getEnvDuration("SYNC_OVERLAP", 24*time.Hour)
	cfg.AggregationWindowDays = getEnvInt("AGGREGATION_WINDOW_DAYS", 30)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 20971520)
	cfg.ExportInterval = getEnvDuration("EXPORT_INTERVAL", 2*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 5)
	cfg.RunRetentionDays = getEnvInt("RUN_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
