package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/logging"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
)

// backfill-providers copies each service's bound provider onto reservations
// recorded without one. BACKFILL_INTERVAL=0 runs a single pass.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, "backfill-providers")
	if cfg.StorageDriver != "postgres" {
		logger.Fatal().Str("storage", cfg.StorageDriver).Msg("backfill requires the postgres storage driver")
	}
	logger.Info().Dur("interval", cfg.BackfillInterval).Msg("backfill-providers starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)
	mgr := booking.NewManager(repo, redisclient.NoopLocker{}, nil, booking.Options{
		Location: cfg.Location,
		Logger:   logger,
	})

	runOnce(rootCtx, mgr, logger)
	if cfg.BackfillInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.BackfillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping backfill")
			return
		case <-ticker.C:
			runOnce(rootCtx, mgr, logger)
		}
	}
}

func runOnce(ctx context.Context, mgr *booking.Manager, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	n, err := mgr.BackfillProviders(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("backfill run error")
		return
	}
	logger.Info().Int64("updated", n).Dur("took", time.Since(start)).Msg("backfill run complete")
}
