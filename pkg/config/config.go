package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	Env string // development, staging, production

	// Database (local cache store)
	Database DatabaseConfig

	// External feeds
	Kiwoom    KiwoomConfig
	KRX       KRXConfig
	Consensus ConsensusConfig

	// Analysis pipeline
	Analysis AnalysisConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration for the cache store.
type DatabaseConfig struct {
	URL string

	// Connection pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// KiwoomConfig holds the brokerage terminal bridge configuration.
// The OCX terminal sits behind a local bridge process reachable over a
// websocket; all TR traffic goes through that single session.
type KiwoomConfig struct {
	BridgeURL string        // ws://127.0.0.1:.../bridge
	TRDelay   time.Duration // minimum gap between TR requests (키움 제한: 초당 5회)
	TRTimeout time.Duration // resolve-or-timeout for a pending TR
}

// KRXConfig holds the KRX Open API (reference data) configuration.
type KRXConfig struct {
	BaseURL string
	AuthKey string
}

// ConsensusConfig holds the scraped consensus aggregator configuration.
type ConsensusConfig struct {
	BaseURL  string
	CacheTTL time.Duration
}

// AnalysisConfig holds pipeline behavior knobs.
type AnalysisConfig struct {
	IntradayRefresh bool   // overlay same-day snapshots while the market is open
	WatchSchedule   string // cron expression for the background re-analysis timer
	WeightsPath     string // score weights JSON (empty = built-in defaults)
}

// Load reads configuration from environment variables.
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Kiwoom: KiwoomConfig{
			BridgeURL: getEnv("KIWOOM_BRIDGE_URL", "ws://127.0.0.1:8590/bridge"),
			TRDelay:   getEnvAsDuration("KIWOOM_TR_DELAY", "200ms"),
			TRTimeout: getEnvAsDuration("KIWOOM_TR_TIMEOUT", "15s"),
		},

		KRX: KRXConfig{
			BaseURL: getEnv("KRX_BASE_URL", "https://data-dbg.krx.co.kr/svc/apis"),
			AuthKey: getEnv("KRX_AUTH_KEY", ""),
		},

		Consensus: ConsensusConfig{
			BaseURL:  getEnv("CONSENSUS_BASE_URL", "https://navercomp.wisereport.co.kr"),
			CacheTTL: getEnvAsDuration("CONSENSUS_CACHE_TTL", "30m"),
		},

		Analysis: AnalysisConfig{
			IntradayRefresh: getEnvAsBool("ANALYSIS_INTRADAY_REFRESH", true),
			WatchSchedule:   getEnv("ANALYSIS_WATCH_SCHEDULE", "0 */10 9-15 * * 1-5"),
			WeightsPath:     getEnv("ANALYSIS_WEIGHTS_PATH", ""),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
