package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"artforge/internal/adapter/repo"
	"artforge/internal/infra"
	"artforge/internal/provider"
	"artforge/internal/queue"
	"artforge/internal/worker"
)

const (
	schedulerInterval = time.Second
	statsInterval     = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	prov, err := provider.NewClient(provider.Options{
		APIKey:  cfg.ProviderAPIKey,
		BaseURL: cfg.ProviderBaseURL,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider client")
	}

	tasks := repo.NewTaskRepository(dbpool)
	ledger := repo.NewLedger(dbpool)
	artifacts := repo.NewArtifactRepository(dbpool)
	settings := repo.NewSettings(dbpool)
	jobs := queue.New(rdb)

	executor := worker.NewExecutor(tasks, ledger, artifacts, settings, prov, worker.NewClock(), logger)
	pool := worker.NewPool(jobs, executor, cfg.WorkerConcurrency, logger)

	go jobs.StartScheduler(ctx, schedulerInterval, func(err error) {
		logger.Error().Err(err).Msg("worker: delayed job promotion failed")
	})
	go pool.CollectQueueMetrics(ctx, statsInterval)

	// Periodic purge of settled queue entries past retention.
	c := cron.New()
	if _, err := c.AddFunc(cfg.QueuePurgeSpec, func() {
		purgeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		for _, state := range []string{"completed", "failed"} {
			n, err := jobs.Clean(purgeCtx, cfg.QueueRetention, state)
			if err != nil {
				logger.Error().Err(err).Str("state", state).Msg("worker: queue purge failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("removed", n).Str("state", state).Msg("worker: queue purged")
			}
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.QueuePurgeSpec).Msg("invalid purge schedule")
	}
	c.Start()
	defer c.Stop()

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	// Blocks until ctx is cancelled and every in-flight job is drained.
	pool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info().Msg("worker stopped")
}
