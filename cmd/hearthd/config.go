package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/hearth"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Host        string
	Port        int
	Environment string
	LogLevel    string

	// Database settings
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Storage settings
	Storage hearth.StorageConfig

	// Media settings
	MaxUploadBytes       int64
	UnitMaxImages        int
	SubUnitMaxImages     int
	OfferMaxImages       int
	RenditionConcurrency int
	SignedURLMinutes     int
	SweepInterval        time.Duration
	SweepRepair          bool

	// Rate limiting of upload routes
	RateLimitEnabled bool
	RateLimitRate    float64
	RateLimitBurst   int
}

// LoadConfig loads configuration from environment variables.
func LoadConfig(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		// Server settings
		Host:        envString(getenv, "SERVER_HOST", "localhost"),
		Port:        envInt(getenv, "SERVER_PORT", 8080),
		Environment: envString(getenv, "ENVIRONMENT", "dev"),
		LogLevel:    envString(getenv, "LOG_LEVEL", "info"),

		// Database settings
		DBUser:     envString(getenv, "DB_USER", "postgres"),
		DBPassword: envString(getenv, "DB_PASSWORD", ""),
		DBHost:     envString(getenv, "DB_HOSTNAME", "localhost"),
		DBPort:     envString(getenv, "DB_PORT", "5432"),
		DBName:     envString(getenv, "DB_NAME", "postgres"),

		// Storage settings
		Storage: hearth.StorageConfig{
			Provider:       envString(getenv, "STORAGE_PROVIDER", "local"),
			CDNBaseURL:     envString(getenv, "STORAGE_CDN_BASE_URL", ""),
			LocalPath:      envString(getenv, "STORAGE_LOCAL_PATH", "./uploads"),
			LocalURL:       envString(getenv, "STORAGE_LOCAL_URL", "http://localhost:8080/uploads"),
			LocalSecret:    envString(getenv, "STORAGE_LOCAL_SECRET", ""),
			S3Bucket:       envString(getenv, "STORAGE_S3_BUCKET", ""),
			S3Region:       envString(getenv, "STORAGE_S3_REGION", "us-east-1"),
			S3Endpoint:     envString(getenv, "STORAGE_S3_ENDPOINT", ""),
			MinioEndpoint:  envString(getenv, "STORAGE_MINIO_ENDPOINT", "localhost:9000"),
			MinioAccessKey: envString(getenv, "STORAGE_MINIO_ACCESS_KEY", ""),
			MinioSecretKey: envString(getenv, "STORAGE_MINIO_SECRET_KEY", ""),
			MinioBucket:    envString(getenv, "STORAGE_MINIO_BUCKET", "hearth"),
			MinioUseSSL:    envBool(getenv, "STORAGE_MINIO_USE_SSL", false),
			GCSBucket:      envString(getenv, "STORAGE_GCS_BUCKET", ""),
		},

		// Media settings
		MaxUploadBytes:       int64(envInt(getenv, "MEDIA_MAX_UPLOAD_BYTES", hearth.MaxUploadSize)),
		UnitMaxImages:        envInt(getenv, "MEDIA_UNIT_MAX_IMAGES", 20),
		SubUnitMaxImages:     envInt(getenv, "MEDIA_SUBUNIT_MAX_IMAGES", 20),
		OfferMaxImages:       envInt(getenv, "MEDIA_OFFER_MAX_IMAGES", 10),
		RenditionConcurrency: envInt(getenv, "MEDIA_RENDITION_CONCURRENCY", 4),
		SignedURLMinutes:     envInt(getenv, "MEDIA_SIGNED_URL_MINUTES", 60),
		SweepInterval:        envDuration(getenv, "MEDIA_SWEEP_INTERVAL", 0),
		SweepRepair:          envBool(getenv, "MEDIA_SWEEP_REPAIR", false),

		// Rate limiting
		RateLimitEnabled: envBool(getenv, "RATE_LIMIT_ENABLED", true),
		RateLimitRate:    envFloat(getenv, "RATE_LIMIT_UPLOAD_RATE", 0.5),
		RateLimitBurst:   envInt(getenv, "RATE_LIMIT_UPLOAD_BURST", 10),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// Policies returns the default owner policies with the configured caps
// applied.
func (c *Config) Policies() map[hearth.OwnerKind]hearth.Policy {
	policies := hearth.DefaultPolicies()
	caps := map[hearth.OwnerKind]int{
		hearth.OwnerUnit:    c.UnitMaxImages,
		hearth.OwnerSubUnit: c.SubUnitMaxImages,
		hearth.OwnerOffer:   c.OfferMaxImages,
	}
	for kind, p := range policies {
		p.MaxCount = caps[kind]
		p.MaxBytes = c.MaxUploadBytes
		policies[kind] = p
	}
	return policies
}

// validate checks settings that have no safe default.
func (c *Config) validate() error {
	switch c.Storage.Provider {
	case "local", "s3", "minio", "gcs":
	default:
		return fmt.Errorf("unknown STORAGE_PROVIDER %q", c.Storage.Provider)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_UPLOAD_BYTES must be positive")
	}
	for key, n := range map[string]int{
		"MEDIA_UNIT_MAX_IMAGES":       c.UnitMaxImages,
		"MEDIA_SUBUNIT_MAX_IMAGES":    c.SubUnitMaxImages,
		"MEDIA_OFFER_MAX_IMAGES":      c.OfferMaxImages,
		"MEDIA_RENDITION_CONCURRENCY": c.RenditionConcurrency,
		"MEDIA_SIGNED_URL_MINUTES":    c.SignedURLMinutes,
	} {
		if n < 1 {
			return fmt.Errorf("%s must be at least 1", key)
		}
	}

	switch c.Storage.Provider {
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("STORAGE_S3_BUCKET is required for the s3 provider")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("STORAGE_GCS_BUCKET is required for the gcs provider")
		}
	case "local":
		if c.IsProduction() && c.Storage.LocalSecret == "" {
			return fmt.Errorf("STORAGE_LOCAL_SECRET must be set in production environment")
		}
		if c.Storage.LocalSecret == "" {
			c.Storage.LocalSecret = "dev-signing-secret"
		}
	}
	return nil
}

// Helper functions for loading environment variables with defaults.

func envString(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(getenv func(string) string, key string, defaultValue int) int {
	if value := getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func envFloat(getenv func(string) string, key string, defaultValue float64) float64 {
	if value := getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func envBool(getenv func(string) string, key string, defaultValue bool) bool {
	if value := getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func envDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	if value := getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
