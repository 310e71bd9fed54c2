package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/jobs"
	"github.com/ternarybob/trawler/internal/queue"
	"github.com/ternarybob/trawler/internal/services/cache"
	"github.com/ternarybob/trawler/internal/services/crawler"
	dedupsvc "github.com/ternarybob/trawler/internal/services/dedup"
	"github.com/ternarybob/trawler/internal/services/retry"
	"github.com/ternarybob/trawler/internal/services/scheduler"
	badgerstore "github.com/ternarybob/trawler/internal/storage/badger"
	"github.com/ternarybob/trawler/internal/urls"
)

// configPaths allows multiple -config flags; later files override earlier
// ones.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Trawler version %s (build %s)\n", common.Version, common.Build)
		os.Exit(0)
	}

	// Auto-discover a config file next to the binary's working directory.
	if len(configFiles) == 0 {
		if _, err := os.Stat("trawler.toml"); err == nil {
			configFiles = append(configFiles, "trawler.toml")
		}
	}

	config, err := common.LoadConfig(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner()

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("Trawler exited with error")
		os.Exit(1)
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis-backed services.
	redisClient, err := cache.NewClient(config.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	canon := urls.NewCanonicalizer(urls.Options{})
	dedup := cache.NewDedupCache(redisClient, canon, config.Dedup.TTLDuration(), logger)
	cancelSignal := cache.NewCancelSignal(redisClient, logger)
	progress := cache.NewProgressService(redisClient, config.Tokens.TTLDuration(), logger)
	rateLimiter := cache.NewRateLimiter(redisClient, config.RateLimit.Requests, config.RateLimit.PeriodDuration(), logger)

	// Durable storage.
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	go db.RunGC(ctx)

	websiteStorage := badgerstore.NewWebsiteStorage(db, logger)
	scheduledStorage := badgerstore.NewScheduledJobStorage(db, logger)
	jobStorage := badgerstore.NewJobStorage(db, logger)
	pageStorage := badgerstore.NewPageStorage(db, logger)
	duplicateStorage := badgerstore.NewDuplicateStorage(db, logger)
	retryStorage := badgerstore.NewRetryStorage(db, logger)

	if err := retryStorage.SeedDefaultPolicies(ctx); err != nil {
		return fmt.Errorf("seed retry policies: %w", err)
	}

	// Job queue.
	jobQueue, err := queue.NewManager(&config.Queue, logger)
	if err != nil {
		return fmt.Errorf("open job queue: %w", err)
	}
	defer jobQueue.Close()

	// Services.
	retryHandler := retry.NewHandler(jobStorage, retryStorage, jobQueue, logger)
	detector := dedupsvc.NewDetector(pageStorage, duplicateStorage, jobStorage, logger)
	crawlerSvc := crawler.New(&config.Crawler, logger,
		crawler.WithDedupCache(dedup, config.Dedup.TTLDuration()),
		crawler.WithCancellation(cancelSignal),
		crawler.WithPageProcessor(detector),
		crawler.WithSharedLimiter(rateLimiter),
	)
	schedulerSvc := scheduler.NewProcessor(scheduledStorage, websiteStorage, jobStorage, jobQueue, &config.Scheduler, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		schedulerSvc.Run(ctx)
	}()

	concurrency := config.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	for i := 1; i <= concurrency; i++ {
		worker := jobs.NewWorker(i, jobQueue, jobStorage, websiteStorage, crawlerSvc, retryHandler, cancelSignal, progress, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	metricsServer := startMetricsServer(config.Metrics.Addr, logger)

	logger.Info().
		Str("version", common.Version).
		Str("environment", config.Environment).
		Int("workers", concurrency).
		Msg("Trawler started")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received, draining workers")

	wg.Wait()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Crawler.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	logger.Info().Msg("Trawler stopped")
	return nil
}

// startMetricsServer exposes /metrics on the configured address. An empty
// address disables the endpoint.
func startMetricsServer(addr string, logger arbor.ILogger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return server
}
