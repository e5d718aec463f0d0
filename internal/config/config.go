// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds application configuration. It is built once by Load and
// passed by pointer to every component that needs it; nothing mutates it
// after startup.
type Config struct {
	DataDir        string   `toml:"data_dir"`
	Port           int      `toml:"port"`
	DevMode        bool     `toml:"dev_mode"`
	LogLevel       string   `toml:"log_level"`
	LogPretty      bool     `toml:"log_pretty"`
	APIPrefix      string   `toml:"api_prefix"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`

	Auth        AuthConfig        `toml:"auth"`
	MarketData  MarketDataConfig  `toml:"market_data"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
	Valuation   ValuationConfig   `toml:"valuation"`
	Schedules   SchedulesConfig   `toml:"schedules"`
	Backup      BackupConfig      `toml:"backup"`
}

// AuthConfig selects how bearer tokens are verified and how service
// credentials for the identity provider are obtained.
type AuthConfig struct {
	TokenMode          string `toml:"token_mode"`          // firebase, hmac, emulator
	ProjectID          string `toml:"project_id"`          // identity provider project
	HMACSecret         string `toml:"hmac_secret"`         // only for token_mode=hmac
	CredentialStrategy string `toml:"credential_strategy"` // emulator, key_file, default_key_file, application_default
	CredentialsFile    string `toml:"credentials_file"`    // key_file strategy
	DefaultKeyFile     string `toml:"default_key_file"`    // default_key_file strategy
	EmulatorHost       string `toml:"emulator_host"`       // host:port of the auth emulator
}

// MarketDataConfig holds Alpha Vantage client and sync settings
type MarketDataConfig struct {
	AlphaVantageAPIKey string `toml:"alpha_vantage_api_key"`
	BaseURL            string `toml:"base_url"`
	RequestsPerMinute  int    `toml:"requests_per_minute"`
	DailyRequestLimit  int    `toml:"daily_request_limit"`
	BackfillDays       int    `toml:"backfill_days"`
	SyncConcurrency    int    `toml:"sync_concurrency"`
	OpenFIGIAPIKey     string `toml:"openfigi_api_key"` // optional; raises the identifier lookup rate limit
	OpenFIGIBaseURL    string `toml:"openfigi_base_url"`
}

// IdempotencyConfig holds idempotency record lifetimes
type IdempotencyConfig struct {
	RecordTTL        time.Duration `toml:"record_ttl"`
	ReservationLease time.Duration `toml:"reservation_lease"`
}

// ValuationConfig holds enrichment defaults
type ValuationConfig struct {
	DefaultTaxRate float64       `toml:"default_tax_rate"`
	PriceFreshness time.Duration `toml:"price_freshness"`
	PriceCacheTTL  time.Duration `toml:"price_cache_ttl"`
}

// SchedulesConfig holds cron expressions (with seconds field)
type SchedulesConfig struct {
	MarketSync         string `toml:"market_sync"`
	IdempotencyCleanup string `toml:"idempotency_cleanup"`
	ClientDataCleanup  string `toml:"client_data_cleanup"`
	Backup             string `toml:"backup"`
}

// BackupConfig holds S3 backup settings. Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"` // S3-compatible endpoint, e.g. R2 or MinIO
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	RetentionDays   int    `toml:"retention_days"` // 0 keeps everything
}

// Enabled reports whether backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		Port:           8080,
		LogLevel:       "info",
		APIPrefix:      "/api/v1",
		AllowedOrigins: []string{"*"},
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		Auth: AuthConfig{
			TokenMode:          "firebase",
			ProjectID:          "sentinel-invest",
			CredentialStrategy: "application_default",
			DefaultKeyFile:     "serviceAccountKey.json",
		},
		MarketData: MarketDataConfig{
			BaseURL:           "https://www.alphavantage.co/query",
			RequestsPerMinute: 5,
			DailyRequestLimit: 25,
			BackfillDays:      200,
			SyncConcurrency:   4,
			OpenFIGIBaseURL:   "https://api.openfigi.com/v3",
		},
		Idempotency: IdempotencyConfig{
			RecordTTL:        24 * time.Hour,
			ReservationLease: time.Minute,
		},
		Valuation: ValuationConfig{
			DefaultTaxRate: 26.4,
			PriceFreshness: 96 * time.Hour,
			PriceCacheTTL:  5 * time.Minute,
		},
		Schedules: SchedulesConfig{
			MarketSync:         "0 30 22 * * MON-FRI",
			IdempotencyCleanup: "0 0 * * * *",
			ClientDataCleanup:  "0 15 3 * * *",
			Backup:             "0 45 3 * * *",
		},
		Backup: BackupConfig{
			Prefix:        "backups",
			Region:        "auto",
			RetentionDays: 30,
		},
	}
}

// Load reads configuration from an optional TOML file, the .env file and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile decodes a TOML file on top of cfg. Keys missing from the file
// keep their current values.
func LoadFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.Port = getEnvAsInt("PORT", cfg.Port)
	cfg.DevMode = getEnvAsBool("DEV_MODE", cfg.DevMode)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", cfg.LogPretty || cfg.DevMode)
	cfg.APIPrefix = getEnv("API_PREFIX", cfg.APIPrefix)
	cfg.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.RateLimitRPS = getEnvAsFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.Auth.TokenMode = getEnv("AUTH_TOKEN_MODE", cfg.Auth.TokenMode)
	cfg.Auth.ProjectID = getEnv("GCLOUD_PROJECT", cfg.Auth.ProjectID)
	cfg.Auth.HMACSecret = getEnv("AUTH_HMAC_SECRET", cfg.Auth.HMACSecret)
	cfg.Auth.CredentialStrategy = getEnv("CREDENTIAL_STRATEGY", cfg.Auth.CredentialStrategy)
	cfg.Auth.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.Auth.CredentialsFile)
	cfg.Auth.DefaultKeyFile = getEnv("DEFAULT_KEY_FILE", cfg.Auth.DefaultKeyFile)
	cfg.Auth.EmulatorHost = getEnv("FIREBASE_AUTH_EMULATOR_HOST", cfg.Auth.EmulatorHost)

	cfg.MarketData.AlphaVantageAPIKey = getEnv("ALPHA_VANTAGE_API_KEY", cfg.MarketData.AlphaVantageAPIKey)
	cfg.MarketData.BaseURL = getEnv("ALPHA_VANTAGE_BASE_URL", cfg.MarketData.BaseURL)
	cfg.MarketData.RequestsPerMinute = getEnvAsInt("ALPHA_VANTAGE_REQUESTS_PER_MINUTE", cfg.MarketData.RequestsPerMinute)
	cfg.MarketData.DailyRequestLimit = getEnvAsInt("ALPHA_VANTAGE_DAILY_LIMIT", cfg.MarketData.DailyRequestLimit)
	cfg.MarketData.BackfillDays = getEnvAsInt("MARKET_BACKFILL_DAYS", cfg.MarketData.BackfillDays)
	cfg.MarketData.SyncConcurrency = getEnvAsInt("MARKET_SYNC_CONCURRENCY", cfg.MarketData.SyncConcurrency)
	cfg.MarketData.OpenFIGIAPIKey = getEnv("OPENFIGI_API_KEY", cfg.MarketData.OpenFIGIAPIKey)
	cfg.MarketData.OpenFIGIBaseURL = getEnv("OPENFIGI_BASE_URL", cfg.MarketData.OpenFIGIBaseURL)

	cfg.Idempotency.RecordTTL = getEnvAsDuration("IDEMPOTENCY_TTL", cfg.Idempotency.RecordTTL)
	cfg.Idempotency.ReservationLease = getEnvAsDuration("IDEMPOTENCY_LEASE", cfg.Idempotency.ReservationLease)

	cfg.Valuation.DefaultTaxRate = getEnvAsFloat("DEFAULT_CAPITAL_GAIN_TAX_RATE", cfg.Valuation.DefaultTaxRate)
	cfg.Valuation.PriceFreshness = getEnvAsDuration("PRICE_FRESHNESS", cfg.Valuation.PriceFreshness)
	cfg.Valuation.PriceCacheTTL = getEnvAsDuration("PRICE_CACHE_TTL", cfg.Valuation.PriceCacheTTL)

	cfg.Schedules.MarketSync = getEnv("SCHEDULE_MARKET_SYNC", cfg.Schedules.MarketSync)
	cfg.Schedules.IdempotencyCleanup = getEnv("SCHEDULE_IDEMPOTENCY_CLEANUP", cfg.Schedules.IdempotencyCleanup)
	cfg.Schedules.ClientDataCleanup = getEnv("SCHEDULE_CLIENT_DATA_CLEANUP", cfg.Schedules.ClientDataCleanup)
	cfg.Schedules.Backup = getEnv("SCHEDULE_BACKUP", cfg.Schedules.Backup)

	cfg.Backup.Bucket = getEnv("BACKUP_S3_BUCKET", cfg.Backup.Bucket)
	cfg.Backup.Prefix = getEnv("BACKUP_S3_PREFIX", cfg.Backup.Prefix)
	cfg.Backup.Region = getEnv("BACKUP_S3_REGION", cfg.Backup.Region)
	cfg.Backup.Endpoint = getEnv("BACKUP_S3_ENDPOINT", cfg.Backup.Endpoint)
	cfg.Backup.AccessKeyID = getEnv("BACKUP_S3_ACCESS_KEY_ID", cfg.Backup.AccessKeyID)
	cfg.Backup.SecretAccessKey = getEnv("BACKUP_S3_SECRET_ACCESS_KEY", cfg.Backup.SecretAccessKey)
	cfg.Backup.RetentionDays = getEnvAsInt("BACKUP_RETENTION_DAYS", cfg.Backup.RetentionDays)
}

var (
	validTokenModes = map[string]bool{"firebase": true, "hmac": true, "emulator": true}

	validCredentialStrategies = map[string]bool{
		"emulator":            true,
		"key_file":            true,
		"default_key_file":    true,
		"application_default": true,
	}
)

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api prefix must start with '/': %q", c.APIPrefix)
	}

	if !validTokenModes[c.Auth.TokenMode] {
		return fmt.Errorf("invalid auth token mode: %q", c.Auth.TokenMode)
	}
	if c.Auth.TokenMode == "hmac" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("AUTH_HMAC_SECRET is required when token mode is hmac")
	}
	if c.Auth.TokenMode == "firebase" && c.Auth.ProjectID == "" {
		return fmt.Errorf("GCLOUD_PROJECT is required when token mode is firebase")
	}
	if !validCredentialStrategies[c.Auth.CredentialStrategy] {
		return fmt.Errorf("invalid credential strategy: %q", c.Auth.CredentialStrategy)
	}
	if c.Auth.CredentialStrategy == "key_file" && c.Auth.CredentialsFile == "" {
		return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS is required for the key_file strategy")
	}
	if (c.Auth.TokenMode == "emulator" || c.Auth.CredentialStrategy == "emulator") && c.Auth.EmulatorHost == "" {
		return fmt.Errorf("FIREBASE_AUTH_EMULATOR_HOST is required in emulator mode")
	}

	if c.MarketData.RequestsPerMinute <= 0 {
		return fmt.Errorf("market data requests per minute must be positive")
	}
	if c.MarketData.BackfillDays <= 0 {
		return fmt.Errorf("market data backfill days must be positive")
	}
	if c.Idempotency.RecordTTL <= 0 || c.Idempotency.ReservationLease <= 0 {
		return fmt.Errorf("idempotency durations must be positive")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup retention days must not be negative")
	}
	if (c.Backup.AccessKeyID == "") != (c.Backup.SecretAccessKey == "") {
		return fmt.Errorf("backup access key id and secret must be set together")
	}
	if c.Valuation.DefaultTaxRate < 0 || c.Valuation.DefaultTaxRate > 100 {
		return fmt.Errorf("default tax rate must be between 0 and 100")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
