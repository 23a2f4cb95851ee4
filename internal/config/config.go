// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"

	SchedulerTimer = "timer"
	SchedulerAsynq = "asynq"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port          string `yaml:"port"`           // APIサーバーのポート番号
	GinMode       string `yaml:"gin_mode"`       // Ginの実行モード (debug, release, test)
	SessionSecret string `yaml:"session_secret"` // セッションクッキー署名用の秘密鍵
	LogLevel      string `yaml:"log_level"`      // zap のログレベル
	EnablePprof   bool   `yaml:"enable_pprof"`   // /debug/pprof を公開するか

	// CORS設定
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"` // CORS許可オリジン（カンマ区切り）

	// 資格情報
	UsersFile       string `yaml:"users_file"`       // ユーザー一覧の JSON ファイル
	BcryptCost      int    `yaml:"bcrypt_cost"`      // bcrypt のコスト
	HashConcurrency int    `yaml:"hash_concurrency"` // 同時に実行する bcrypt 計算の上限

	// セッション
	SessionStore        string `yaml:"session_store"`         // memory または redis
	SessionSweepMinutes int    `yaml:"session_sweep_minutes"` // 期限切れセッションの掃除間隔（分）

	// キャッシュ
	CacheStore      string `yaml:"cache_store"`       // file または redis
	CacheDir        string `yaml:"cache_dir"`         // file の場合の保存先
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"` // エントリの有効期間（秒）
	ExpiryScheduler string `yaml:"expiry_scheduler"`  // timer または asynq

	// Redis（redis / asynq を選んだ場合に使用）
	RedisURL string `yaml:"redis_url"`
}

// Load は設定を読み込みます。
// 優先順位は 環境変数 > APP_CONFIG_FILE の YAML > デフォルト値 です。
// .env.local ファイルが存在する場合は環境変数として先に読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := defaults()

	if path := os.Getenv("APP_CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	// 設定値のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func defaults() *Config {
	return &Config{
		Port:                "8080",
		GinMode:             "debug",
		LogLevel:            "info",
		CORSAllowedOrigins:  "http://localhost:5173",
		UsersFile:           "users.json",
		BcryptCost:          10,
		HashConcurrency:     4,
		SessionStore:        StoreMemory,
		SessionSweepMinutes: 60,
		CacheStore:          StoreFile,
		CacheDir:            "cache",
		CacheTTLSeconds:     60,
		ExpiryScheduler:     SchedulerTimer,
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きします。
// 数値や真偽値として解釈できない値はデフォルトに戻さずエラーにします。
func (c *Config) applyEnv() error {
	var invalid []string
	asInt := func(key string, current int) int {
		value, err := getEnvAsInt(key, current)
		if err != nil {
			invalid = append(invalid, key)
		}
		return value
	}
	asBool := func(key string, current bool) bool {
		value, err := getEnvAsBool(key, current)
		if err != nil {
			invalid = append(invalid, key)
		}
		return value
	}

	// サーバー設定
	c.Port = getEnv("PORT", c.Port)
	c.GinMode = getEnv("GIN_MODE", c.GinMode)
	c.SessionSecret = getEnv("SESSION_SECRET", c.SessionSecret)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.EnablePprof = asBool("ENABLE_PPROF", c.EnablePprof)

	// CORS設定
	c.CORSAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)

	// 資格情報
	c.UsersFile = getEnv("USERS_FILE", c.UsersFile)
	c.BcryptCost = asInt("BCRYPT_COST", c.BcryptCost)
	c.HashConcurrency = asInt("HASH_CONCURRENCY", c.HashConcurrency)

	// セッション
	c.SessionStore = getEnv("SESSION_STORE", c.SessionStore)
	c.SessionSweepMinutes = asInt("SESSION_SWEEP_MINUTES", c.SessionSweepMinutes)

	// キャッシュ
	c.CacheStore = getEnv("CACHE_STORE", c.CacheStore)
	c.CacheDir = getEnv("CACHE_DIR", c.CacheDir)
	c.CacheTTLSeconds = asInt("CACHE_TTL_SECONDS", c.CacheTTLSeconds)
	c.ExpiryScheduler = getEnv("EXPIRY_SCHEDULER", c.ExpiryScheduler)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)

	if len(invalid) > 0 {
		return fmt.Errorf("invalid value for %s", strings.Join(invalid, ", "))
	}
	return nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.SessionStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.SessionStore)
	}
	switch c.CacheStore {
	case StoreFile, StoreRedis:
	default:
		return fmt.Errorf("CACHE_STORE must be %q or %q, got %q", StoreFile, StoreRedis, c.CacheStore)
	}
	switch c.ExpiryScheduler {
	case SchedulerTimer, SchedulerAsynq:
	default:
		return fmt.Errorf("EXPIRY_SCHEDULER must be %q or %q, got %q", SchedulerTimer, SchedulerAsynq, c.ExpiryScheduler)
	}

	if c.UsesRedis() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when a redis backend or the asynq scheduler is selected")
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}
	if c.CacheStore == StoreFile && c.CacheDir == "" {
		return fmt.Errorf("CACHE_DIR is required for the file cache store")
	}
	if c.UsersFile == "" {
		return fmt.Errorf("USERS_FILE is required")
	}

	// ローカル開発ではクッキー署名鍵は起動時に生成してよい
	if c.GinMode == "release" && c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in release mode")
	}

	return nil
}

// UsesRedis は Redis への接続が必要な構成かを返します。
func (c *Config) UsesRedis() bool {
	return c.SessionStore == StoreRedis || c.CacheStore == StoreRedis || c.ExpiryScheduler == SchedulerAsynq
}

// CacheTTL はキャッシュエントリの有効期間です。
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SessionSweepInterval は期限切れセッションの掃除間隔です。
func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.SessionSweepMinutes) * time.Minute
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。解釈できない場合はデフォルト値とエラーを返します。
func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

// getEnvAsBool は環境変数を真偽値として取得します。解釈できない場合はデフォルト値とエラーを返します。
func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}
