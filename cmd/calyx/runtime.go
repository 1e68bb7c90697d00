package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calyxlabs/calyx/internal/catalog"
	"github.com/calyxlabs/calyx/internal/config"
	"github.com/calyxlabs/calyx/internal/cooldown"
	"github.com/calyxlabs/calyx/internal/counter"
	"github.com/calyxlabs/calyx/internal/progression"
	"github.com/calyxlabs/calyx/internal/store"
	"github.com/calyxlabs/calyx/internal/store/memstore"
	"github.com/calyxlabs/calyx/internal/store/postgres"
	"github.com/calyxlabs/calyx/internal/tier"
	"github.com/calyxlabs/calyx/internal/usage"
)

// runtime bundles the long-lived components every command builds the same
// way: store, catalog, cooldown tracker, usage counter, tier policy, and
// the progression machine.
type runtime struct {
	store     store.Store
	catalog   *catalog.Catalog
	cooldowns *cooldown.Tracker
	counter   *usage.Counter
	tiers     *tier.Policy
	bonds     *progression.Tracker

	closers []func()
}

func buildRuntime(cfg *config.Config, logger *slog.Logger, dev bool) (*runtime, error) {
	rt := &runtime{}

	// Catalog: built-in limits unless a TOML override is configured.
	if cfg.CatalogPath != "" {
		cat, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		rt.catalog = cat
		logger.Info("limit catalog loaded", "path", cfg.CatalogPath)
	} else {
		rt.catalog = catalog.Default()
	}

	// Store.
	if dev {
		rt.store = memstore.New()
		logger.Info("using in-memory store")
	} else {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("CALYX_DATABASE_URL is required (or pass --dev)")
		}
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.store = pg
	}
	rt.closers = append(rt.closers, func() { _ = rt.store.Close() })

	// Cooldown backends: Redis primary when configured, memory fallback
	// always present.
	fallback := counter.NewMemoryBackend()
	fallback.StartSweeper(0)
	rt.closers = append(rt.closers, fallback.Stop)

	var primary counter.Backend
	if cfg.RedisAddr != "" {
		rb := counter.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		rt.closers = append(rt.closers, func() { _ = rb.Close() })
		// Redis being down at boot is the same outage the tracker handles
		// per-call, so the backend is wired either way and failover retries
		// it on every call until it answers.
		if err := rb.Ping(context.Background()); err != nil {
			logger.Warn("redis unreachable at startup, cooldowns falling back until it recovers",
				"addr", cfg.RedisAddr, "err", err)
		} else {
			logger.Info("cooldown backend ready", "redis_addr", cfg.RedisAddr)
		}
		primary = rb
	}
	rt.cooldowns = cooldown.New(primary, fallback, rt.catalog, logger)

	// Usage counter with its aggregation cache.
	opts := []usage.Option{usage.WithLocation(cfg.Location())}
	if cfg.UsageCacheTTL > 0 {
		cache := counter.NewMemoryBackend()
		cache.StartSweeper(0)
		rt.closers = append(rt.closers, cache.Stop)
		opts = append(opts, usage.WithCache(cache, cfg.UsageCacheTTL))
	}
	rt.counter = usage.NewCounter(rt.store, logger, opts...)

	rt.tiers = tier.NewPolicy(rt.store, rt.catalog, logger)
	rt.bonds = progression.NewTracker(rt.store, rt.catalog, logger)

	return rt, nil
}

// Close releases runtime resources in reverse construction order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
