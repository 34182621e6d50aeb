package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	LogLevel string

	// RMS (authoritative store) connection.
	RMSDatabaseURL string

	// Storefront Admin API.
	ShopDomain  string
	AccessToken string
	APIVersion  string

	// Lock backend. Empty RedisAddr selects the file-backed fallback.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockDir       string

	Sync SyncSettings
}

// SyncSettings are the reverse-sync tunables. They can be overridden per
// run by a YAML profile (see LoadProfile) or by CLI flags.
type SyncSettings struct {
	DeleteZeroStock       bool          `yaml:"delete_zero_stock"`
	PreserveSingleVariant bool          `yaml:"preserve_single_variant"`
	BatchSize             int           `yaml:"batch_size"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	LockTTL               time.Duration `yaml:"lock_ttl"`
	InterPageDelay        time.Duration `yaml:"inter_page_delay"`
}

// DefaultSyncSettings returns the production defaults.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		DeleteZeroStock:       true,
		PreserveSingleVariant: true,
		BatchSize:             50,
		MaxConcurrent:         10,
		LockTTL:               300 * time.Second,
		InterPageDelay:        500 * time.Millisecond,
	}
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("RMS_DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://rms@localhost:5432/rms?sslmode=disable"
	}

	apiVersion := os.Getenv("SHOPIFY_API_VERSION")
	if apiVersion == "" {
		apiVersion = "2024-10"
	}

	lockDir := os.Getenv("SYNC_LOCK_DIR")
	if lockDir == "" {
		lockDir = os.TempDir()
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	cfg := &Config{
		LogLevel:       logLevel,
		RMSDatabaseURL: dbURL,
		ShopDomain:     os.Getenv("SHOPIFY_SHOP_DOMAIN"),
		AccessToken:    os.Getenv("SHOPIFY_ACCESS_TOKEN"),
		APIVersion:     apiVersion,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		LockDir:        lockDir,
		Sync:           DefaultSyncSettings(),
	}

	if v := os.Getenv("SYNC_DELETE_ZERO_STOCK"); v != "" {
		cfg.Sync.DeleteZeroStock = v == "true"
	}
	if v := os.Getenv("SYNC_PRESERVE_SINGLE_VARIANT"); v != "" {
		cfg.Sync.PreserveSingleVariant = v == "true"
	}
	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("SYNC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.MaxConcurrent = n
		}
	}

	return cfg
}
