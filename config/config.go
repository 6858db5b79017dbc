package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings for the sync engine.
type Config struct {
	Environment string

	// Supabase remote store
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Market data provider
	PriceAPIURL     string
	ProviderTimeout time.Duration

	// Market calendar
	MarketTimezone  string
	MarketOpenHour  int
	MarketCloseHour int

	// Sync policy
	IntradayCooldown  time.Duration
	StaleAfterHours   int
	HistoryDays       int
	ContextWindowDays int
	ForecastHorizon   int
	UpsertBatchSize   int
	RetryAttempts     int
	RetryBackoffBase  time.Duration

	// Pacing between instruments (upstream rate limits)
	InstrumentDelay time.Duration
	BatchSize       int
	BatchPause      time.Duration

	// Local state
	RegistryDBPath string
	ReportsDir     string
	LogFile        string
	LogLevel       string
	LogFormat      string

	// Operational API
	Port string
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),

		PriceAPIURL:     getEnv("PRICE_API_URL", "https://api-finfo.vndirect.com.vn/v4"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),

		MarketTimezone:  getEnv("MARKET_TIMEZONE", "Asia/Ho_Chi_Minh"),
		MarketOpenHour:  getEnvInt("MARKET_OPEN_HOUR", 9),
		MarketCloseHour: getEnvInt("MARKET_CLOSE_HOUR", 15),

		IntradayCooldown:  getEnvDuration("INTRADAY_COOLDOWN", time.Hour),
		StaleAfterHours:   getEnvInt("STALE_AFTER_HOURS", 24),
		HistoryDays:       getEnvInt("HISTORY_DAYS", 1825),
		ContextWindowDays: getEnvInt("CONTEXT_WINDOW_DAYS", 320),
		ForecastHorizon:   getEnvInt("FORECAST_HORIZON_DAYS", 30),
		UpsertBatchSize:   getEnvInt("UPSERT_BATCH_SIZE", 1000),
		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBackoffBase:  getEnvDuration("RETRY_BACKOFF_BASE", time.Second),

		InstrumentDelay: getEnvDuration("INSTRUMENT_DELAY", 500*time.Millisecond),
		BatchSize:       getEnvInt("SYNC_BATCH_SIZE", 50),
		BatchPause:      getEnvDuration("SYNC_BATCH_PAUSE", 5*time.Second),

		RegistryDBPath: getEnv("REGISTRY_DB_PATH", "data/registry.db"),
		ReportsDir:     getEnv("REPORTS_DIR", "data/reports"),
		LogFile:        getEnv("LOG_FILE", "data/sync.log"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),

		Port: getEnv("PORT", "8080"),
	}

	return cfg, nil
}

// Validate checks that settings required for remote writes are present.
func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseAnonKey == "" && c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY or SUPABASE_SERVICE_KEY is required")
	}
	if _, err := time.LoadLocation(c.MarketTimezone); err != nil {
		return fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.MarketTimezone, err)
	}
	return nil
}

// MarketLocation resolves the configured market timezone.
func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation(c.MarketTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
