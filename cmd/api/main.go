package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"bgremover/internal/adapter/repo"
	"bgremover/internal/domain"
	"bgremover/internal/engine"
	"bgremover/internal/fetch"
	"bgremover/internal/http/handlers"
	httpapi "bgremover/internal/http/httpapi"
	"bgremover/internal/infra"
	"bgremover/internal/infra/geoip"
	"bgremover/internal/orchestrator"
	"bgremover/internal/storage"
)

const shutdownFlushTimeout = 10 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Workspace directories and single-instance lock
	ns, err := storage.NewNamespace(cfg.WorkDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid workdir")
	}
	if err := ns.EnsureLayout(); err != nil {
		logger.Warn().Err(err).Msg("some workspace directories could not be created")
	}
	lock, err := infra.AcquireWorkspaceLock(cfg.WorkDir)
	if err != nil {
		logger.Fatal().Err(err).Str("workdir", cfg.WorkDir).Msg("failed to lock workspace")
	}
	defer func() { _ = lock.Release() }()

	if removed, err := ns.SweepStale(cfg.StaleFileAge, time.Now()); err != nil {
		logger.Warn().Err(err).Msg("stale file sweep incomplete")
	} else if removed > 0 {
		logger.Info().Int("removed", removed).Msg("removed stale files from a previous run")
	}

	// Engine
	inv, err := engine.New(engine.Config{
		Command:       cfg.EngineCommand,
		Args:          cfg.EngineArgs,
		Timeout:       cfg.EngineTimeout,
		MaxConcurrent: cfg.EngineMaxParallel,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid engine configuration")
	}
	if err := inv.Available(); err != nil {
		logger.Warn().Err(err).Msg("engine not found, requests will fail until it is installed")
	}

	// Optional job ledger
	ctx := context.Background()
	recorder := openLedger(ctx, cfg, logger)

	// Optional GeoIP enrichment
	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable")
	}
	defer func() { _ = resolver.Close() }()

	fetcher := fetch.NewHTTPFetcher(cfg.FetchTimeout, cfg.FetchMaxBytes)
	orc := orchestrator.New(ns, inv, fetcher, recorder, orchestrator.Options{
		CleanupDelay:   cfg.CleanupDelay,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	app := handlers.NewApp(orc, inv, logger)
	router := httpapi.NewRouter(app, logger, httpapi.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMin,
		CountryLookup:      resolver.Lookup(),
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("engine", inv.CommandLine("<in>", "<out>")).
			Str("workdir", cfg.WorkDir).
			Msg("Background Remover API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancelFlush()
	if err := ns.Close(flushCtx); err != nil {
		logger.Warn().Err(err).Msg("pending cleanups did not finish")
	}
	logger.Info().Msg("server stopped")
}

// openLedger connects the job ledger when DATABASE_URL is set and falls back
// to a no-op recorder otherwise.
func openLedger(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) domain.JobRecorder {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(connectCtx, cfg.DatabaseURL)
	if errors.Is(err, infra.ErrNoDatabase) {
		logger.Info().Msg("DATABASE_URL not set, job ledger disabled")
		return repo.NopLedger{}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("job ledger disabled")
		return repo.NopLedger{}
	}

	ledger := repo.NewJobLedger(infra.NewSQLRunner(pool, logger))
	if err := ledger.EnsureSchema(connectCtx); err != nil {
		logger.Warn().Err(err).Msg("job ledger disabled")
		pool.Close()
		return repo.NopLedger{}
	}
	logger.Info().Msg("job ledger enabled")
	return ledger
}
