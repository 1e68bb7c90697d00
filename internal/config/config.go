package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string // CALYX_DATABASE_URL (required unless dev mode)
	HTTPAddr    string // CALYX_HTTP_ADDR (default ":8080")
	NATSURL     string // CALYX_NATS_URL (optional, empty = no events)
	AuthToken   string // CALYX_AUTH_TOKEN (optional, empty = auth disabled)
	CatalogPath string // CALYX_CATALOG_PATH (optional, empty = built-in limits)
	Timezone    string // CALYX_TIMEZONE (default "UTC"; counting window boundaries)

	// Cooldown backend
	RedisAddr     string // CALYX_REDIS_ADDR (optional, empty = in-memory only)
	RedisPassword string // CALYX_REDIS_PASSWORD
	RedisDB       int    // CALYX_REDIS_DB (default 0)

	// Usage aggregation cache
	UsageCacheTTL time.Duration // CALYX_USAGE_CACHE_TTL (default 5m; 0 = no cache)

	// Grant sweep
	SweepInterval time.Duration // CALYX_SWEEP_INTERVAL (default 1h; 0 = disabled)

	// Archive export settings
	ArchiveInterval   time.Duration // CALYX_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveS3Bucket   string        // CALYX_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // CALYX_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // CALYX_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // CALYX_ARCHIVE_S3_PREFIX (default "calyx/usage")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("CALYX_DATABASE_URL"),
		HTTPAddr:          envOrDefault("CALYX_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("CALYX_NATS_URL"),
		AuthToken:         os.Getenv("CALYX_AUTH_TOKEN"),
		CatalogPath:       os.Getenv("CALYX_CATALOG_PATH"),
		Timezone:          envOrDefault("CALYX_TIMEZONE", "UTC"),
		RedisAddr:         os.Getenv("CALYX_REDIS_ADDR"),
		RedisPassword:     os.Getenv("CALYX_REDIS_PASSWORD"),
		ArchiveS3Bucket:   os.Getenv("CALYX_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("CALYX_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("CALYX_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("CALYX_ARCHIVE_S3_PREFIX", "calyx/usage"),
	}

	if v := os.Getenv("CALYX_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("CALYX_REDIS_DB: %w", err)
		}
		c.RedisDB = n
	}

	var err error
	if c.UsageCacheTTL, err = durationEnv("CALYX_USAGE_CACHE_TTL", "5m"); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = durationEnv("CALYX_SWEEP_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = durationEnv("CALYX_ARCHIVE_INTERVAL", "0"); err != nil {
		return nil, err
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return nil, fmt.Errorf("CALYX_TIMEZONE: %w", err)
	}

	return c, nil
}

// Location returns the configured timezone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func durationEnv(key, fallback string) (time.Duration, error) {
	v := envOrDefault(key, fallback)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
