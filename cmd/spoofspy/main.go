// main is the entry point of the SpoofSpy application.
// It initializes the configuration, logger, database, Redis cache and GeoIP
// provider, then runs the discovery, probing and scoring pipeline until
// interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/spoofspy/internal/aggregate"
	"github.com/woozymasta/spoofspy/internal/cache"
	"github.com/woozymasta/spoofspy/internal/coding"
	"github.com/woozymasta/spoofspy/internal/config"
	"github.com/woozymasta/spoofspy/internal/dedup"
	"github.com/woozymasta/spoofspy/internal/directory"
	"github.com/woozymasta/spoofspy/internal/discover"
	"github.com/woozymasta/spoofspy/internal/evaluator"
	"github.com/woozymasta/spoofspy/internal/fake"
	"github.com/woozymasta/spoofspy/internal/geoip"
	"github.com/woozymasta/spoofspy/internal/logger"
	"github.com/woozymasta/spoofspy/internal/protocol"
	"github.com/woozymasta/spoofspy/internal/querier"
	"github.com/woozymasta/spoofspy/internal/queue"
	"github.com/woozymasta/spoofspy/internal/scheduler"
	"github.com/woozymasta/spoofspy/internal/storage"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Msg("Starting spoofspy service...")

	// GeoIP is optional: country enrichment only
	var geoProvider *geoip.Provider
	if cfg.GeoIP.Path != "" {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		var err error
		geoProvider, err = geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
			geoProvider = nil
		} else {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Data generation or database maintenance, run and exit
	if cfg.Storage.GenerateCount > 0 {
		fake.GenerateData(store, cfg.Storage.GenerateCount)
		return
	}
	if cfg.Storage.PruneOlder > 0 {
		n, err := store.PruneSamples(time.Now().UTC().Add(-cfg.Storage.PruneOlder))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to prune state samples")
		}
		log.Info().Int64("deleted", n).Msg("State sample pruning finished")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis cache and rebuild lock
	redis, err := cache.New(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer func() {
		if err := redis.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis connection")
		}
	}()

	coder, err := coding.NewCoder()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob coder")
	}
	defer coder.Close()

	interval := cfg.Interval()

	// Queues: orchestration and probes are kept apart so a probe backlog
	// cannot starve discovery or scoring.
	mainPool := queue.NewPool("main", 10, 1000)
	probePool := queue.NewPool("probe", cfg.Probe.Workers, 4096)
	mainPool.Start(ctx)
	probePool.Start(ctx)

	client := &protocol.Client{
		Timeout:    cfg.Probe.Timeout,
		BufferSize: cfg.Probe.BufferSize,
	}
	dedupClient := &protocol.Client{
		Timeout:    cfg.Probe.DedupTimeout,
		BufferSize: cfg.Probe.BufferSize,
	}

	dir := directory.New(cfg.Directory.APIKey, cfg.Directory.URL, cfg.Directory.Timeout, cfg.Directory.Rate)

	dd := dedup.New(func(address string, queryPort uint16) bool {
		_, err := dedupClient.QueryInfo(address, queryPort)
		return err == nil
	})

	retry := protocol.RetryPolicy{
		MaxAttempts: cfg.Probe.RetryAttempts,
		Delay:       cfg.Probe.RetryDelay,
	}
	q := querier.New(store, client, probePool, retry, 2*interval)

	disc := discover.New(store, dir, dd, q, mainPool, geoProvider, interval)
	eval := evaluator.New(store)
	agg := aggregate.New(store, redis, redis, coder)

	sched := scheduler.New(mainPool, disc, eval, agg, interval)
	sched.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()
	cancel()
	mainPool.Stop()
	probePool.Stop()

	log.Info().Int64("directory_requests", dir.Requests()).Msg("Service exited")
}
