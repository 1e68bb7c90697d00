package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calyxlabs/calyx/internal/archive"
	"github.com/calyxlabs/calyx/internal/config"
	"github.com/calyxlabs/calyx/internal/engine"
	"github.com/calyxlabs/calyx/internal/events"
	"github.com/calyxlabs/calyx/internal/server"
)

var serveDev bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the Calyx HTTP server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		rt, err := buildRuntime(cfg, logger, serveDev)
		if err != nil {
			return err
		}
		defer rt.Close()

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL, logger)
			if err != nil {
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = events.Discard
			logger.Info("events disabled (CALYX_NATS_URL not set)")
		}
		defer publisher.Close()

		eng := engine.New(engine.Params{
			Store:     rt.store,
			Catalog:   rt.catalog,
			Cooldowns: rt.cooldowns,
			Counter:   rt.counter,
			Tiers:     rt.tiers,
			Bonds:     rt.bonds,
			Publisher: publisher,
			Logger:    logger,
			Location:  cfg.Location(),
		})

		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: server.New(eng, logger).NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Periodic grant sweep.
		var sweepStop chan struct{}
		if cfg.SweepInterval > 0 {
			sweepStop = make(chan struct{})
			go func() {
				ticker := time.NewTicker(cfg.SweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-sweepStop:
						return
					case <-ticker.C:
						if _, err := eng.SweepGrants(context.Background()); err != nil {
							logger.Error("grant sweep failed", "err", err)
						}
					}
				}
			}()
			logger.Info("grant sweep started", "interval", cfg.SweepInterval)
		}

		// Archive exports.
		archiveCtx, archiveCancel := context.WithCancel(context.Background())
		defer archiveCancel()
		archiveDone := make(chan struct{})
		close(archiveDone)
		if cfg.ArchiveInterval > 0 && cfg.ArchiveS3Bucket != "" {
			dest, err := archive.NewS3Destination(archiveCtx, archive.S3Options{
				Bucket:   cfg.ArchiveS3Bucket,
				Prefix:   cfg.ArchiveS3Prefix,
				Region:   cfg.ArchiveS3Region,
				Endpoint: cfg.ArchiveS3Endpoint,
			})
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				sched := archive.NewScheduler(rt.store, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
				archiveDone = make(chan struct{})
				go func() {
					defer close(archiveDone)
					sched.Run(archiveCtx)
				}()
				logger.Info("archive scheduler started",
					"interval", cfg.ArchiveInterval, "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
			}
		}

		logger.Info("calyx server started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		archiveCancel()
		<-archiveDone
		if sweepStop != nil {
			close(sweepStop)
			logger.Info("grant sweep stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "run with an in-memory store (no Postgres)")
}
