package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Cache     CacheConfig
	Firestore FirestoreConfig
	Database  DatabaseConfig
	Scraper   ScraperConfig
	Persist   PersistConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// CacheConfig controls the property cache.
type CacheConfig struct {
	Enabled    bool
	TTLDays    int
	Backend    string
	Collection string
}

// TTL returns the freshness window of a cached property.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// FirestoreConfig holds Firestore project and credential settings.
type FirestoreConfig struct {
	ProjectID   string
	CredsBase64 string
	CredsFile   string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// ScraperConfig holds property data provider settings.
type ScraperConfig struct {
	APIKey     string
	ActorID    string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// PersistConfig sizes the background persistence pool.
type PersistConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("CORS_ORIGINS", "*")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL_DAYS", 30)
	v.SetDefault("CACHE_BACKEND", BackendFirestore)
	v.SetDefault("FIRESTORE_COLLECTION", "property_tax_properties")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "proptax")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)

	v.SetDefault("APIFY_ACTOR_ID", "maxcopell/zillow-detail-scraper")
	v.SetDefault("APIFY_BASE_URL", "https://api.apify.com/v2")
	v.SetDefault("SCRAPER_TIMEOUT_MS", 60000)
	v.SetDefault("MAX_RETRIES", 3)

	v.SetDefault("PERSIST_WORKERS", 4)
	v.SetDefault("PERSIST_QUEUE_SIZE", 256)
	v.SetDefault("PERSIST_TIMEOUT_MS", 10000)

	// Bind environment variables
	v.AutomaticEnv()

	// ENABLE_CACHE is the older name of CACHE_ENABLED.
	if err := v.BindEnv("CACHE_ENABLED", "CACHE_ENABLED", "ENABLE_CACHE"); err != nil {
		return nil, fmt.Errorf("bind CACHE_ENABLED: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Cache: CacheConfig{
			Enabled:    v.GetBool("CACHE_ENABLED"),
			TTLDays:    v.GetInt("CACHE_TTL_DAYS"),
			Backend:    strings.ToLower(strings.TrimSpace(v.GetString("CACHE_BACKEND"))),
			Collection: v.GetString("FIRESTORE_COLLECTION"),
		},
		Firestore: FirestoreConfig{
			ProjectID:   strings.TrimSpace(v.GetString("GCP_PROJECT_ID")),
			CredsBase64: strings.TrimSpace(v.GetString("FIREBASE_CREDS_BASE64")),
			CredsFile:   strings.TrimSpace(v.GetString("FIREBASE_CREDS_FILE")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		Scraper: ScraperConfig{
			APIKey:     strings.TrimSpace(v.GetString("APIFY_API_KEY")),
			ActorID:    v.GetString("APIFY_ACTOR_ID"),
			BaseURL:    v.GetString("APIFY_BASE_URL"),
			Timeout:    time.Duration(v.GetInt("SCRAPER_TIMEOUT_MS")) * time.Millisecond,
			MaxRetries: v.GetInt("MAX_RETRIES"),
		},
		Persist: PersistConfig{
			Workers:   v.GetInt("PERSIST_WORKERS"),
			QueueSize: v.GetInt("PERSIST_QUEUE_SIZE"),
			Timeout:   time.Duration(v.GetInt("PERSIST_TIMEOUT_MS")) * time.Millisecond,
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
// Backend-specific sections are only checked for the selected backend.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if c.Cache.TTLDays < 1 {
		return fmt.Errorf("CACHE_TTL_DAYS must be at least 1")
	}
	if c.Cache.Collection == "" {
		return fmt.Errorf("FIRESTORE_COLLECTION is required")
	}

	switch c.Cache.Backend {
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the firestore backend")
		}
	case BackendPostgres:
		if err := c.Database.Validate(); err != nil {
			return err
		}
	case BackendMemory:
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of %s, %s, %s", BackendFirestore, BackendPostgres, BackendMemory)
	}

	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT_MS must be positive")
	}
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}

	if c.Persist.Workers < 1 {
		return fmt.Errorf("PERSIST_WORKERS must be at least 1")
	}
	if c.Persist.QueueSize < 1 {
		return fmt.Errorf("PERSIST_QUEUE_SIZE must be at least 1")
	}
	if c.Persist.Timeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT_MS must be positive")
	}

	return nil
}

// Validate checks the PostgreSQL settings.
func (d DatabaseConfig) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if d.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if d.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if d.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if d.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if d.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if d.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if d.PoolMin > d.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}
	return nil
}

// CredentialsJSON returns the service account JSON bytes and the source used.
// Both empty means Application Default Credentials (or the emulator) apply.
func (f FirestoreConfig) CredentialsJSON() ([]byte, string, error) {
	if f.CredsBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(f.CredsBase64)
		if err != nil {
			return nil, "base64", fmt.Errorf("decode FIREBASE_CREDS_BASE64: %w", err)
		}
		return decoded, "base64", nil
	}
	if f.CredsFile != "" {
		data, err := os.ReadFile(f.CredsFile)
		if err != nil {
			return nil, "file", fmt.Errorf("read FIREBASE_CREDS_FILE: %w", err)
		}
		return data, "file", nil
	}
	return nil, "default", ErrNoCredentials
}

// ErrNoCredentials signals that no explicit Firestore credentials were given.
var ErrNoCredentials = errors.New("no firestore credentials configured")

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// AllowsAllOrigins reports whether CORS is open to any origin.
func (c CORSConfig) AllowsAllOrigins() bool {
	for _, origin := range c.Origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
