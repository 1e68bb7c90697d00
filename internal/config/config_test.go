package config

import (
	"testing"
	"time"
)

// allEnvVars lists every env var Load reads, cleared between tests.
var allEnvVars = []string{
	"CALYX_DATABASE_URL", "CALYX_HTTP_ADDR", "CALYX_NATS_URL", "CALYX_AUTH_TOKEN",
	"CALYX_CATALOG_PATH", "CALYX_TIMEZONE",
	"CALYX_REDIS_ADDR", "CALYX_REDIS_PASSWORD", "CALYX_REDIS_DB",
	"CALYX_USAGE_CACHE_TTL", "CALYX_SWEEP_INTERVAL",
	"CALYX_ARCHIVE_INTERVAL", "CALYX_ARCHIVE_S3_BUCKET", "CALYX_ARCHIVE_S3_ENDPOINT",
	"CALYX_ARCHIVE_S3_REGION", "CALYX_ARCHIVE_S3_KEY",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name          string
		env           map[string]string
		wantErr       bool
		wantHTTPAddr  string
		wantCacheTTL  time.Duration
		wantSweep     time.Duration
		wantRedisAddr string
	}{
		{
			name:         "Defaults",
			env:          map[string]string{},
			wantHTTPAddr: ":8080",
			wantCacheTTL: 5 * time.Minute,
			wantSweep:    time.Hour,
		},
		{
			name: "Custom",
			env: map[string]string{
				"CALYX_HTTP_ADDR":       ":3000",
				"CALYX_REDIS_ADDR":      "localhost:6379",
				"CALYX_USAGE_CACHE_TTL": "90s",
				"CALYX_SWEEP_INTERVAL":  "10m",
			},
			wantHTTPAddr:  ":3000",
			wantCacheTTL:  90 * time.Second,
			wantSweep:     10 * time.Minute,
			wantRedisAddr: "localhost:6379",
		},
		{
			name:    "BadCacheTTL",
			env:     map[string]string{"CALYX_USAGE_CACHE_TTL": "soon"},
			wantErr: true,
		},
		{
			name:    "BadRedisDB",
			env:     map[string]string{"CALYX_REDIS_DB": "not-a-number"},
			wantErr: true,
		},
		{
			name:    "BadTimezone",
			env:     map[string]string{"CALYX_TIMEZONE": "Mars/Olympus"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.UsageCacheTTL != tc.wantCacheTTL {
				t.Errorf("UsageCacheTTL = %v, want %v", cfg.UsageCacheTTL, tc.wantCacheTTL)
			}
			if cfg.SweepInterval != tc.wantSweep {
				t.Errorf("SweepInterval = %v, want %v", cfg.SweepInterval, tc.wantSweep)
			}
			if cfg.RedisAddr != tc.wantRedisAddr {
				t.Errorf("RedisAddr = %q, want %q", cfg.RedisAddr, tc.wantRedisAddr)
			}
		})
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CALYX_TIMEZONE", "America/Mexico_City")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Location().String() != "America/Mexico_City" {
		t.Errorf("Location = %q, want America/Mexico_City", cfg.Location())
	}
}
