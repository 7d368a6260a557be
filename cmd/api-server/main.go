package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/fixture"
	"github.com/hackgods/slot-booking/internal/logging"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Str("timezone", cfg.Timezone).
		Bool("redis", cfg.RedisEnabled()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo booking.Repository
		deps []api.Dependency
	)

	switch cfg.StorageDriver {
	case "postgres":
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres setup error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		repo = booking.NewPgRepository(pgPool)
		deps = append(deps, api.Dependency{Name: "postgres", Pinger: pgPool})

	case "memory":
		mem := booking.NewMemoryRepository()
		catalog, err := fixture.Load(cfg.FixturePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.FixturePath).Msg("fixture load error")
		}
		if err := catalog.Apply(rootCtx, mem); err != nil {
			logger.Fatal().Err(err).Msg("fixture apply error")
		}
		logger.Warn().Int("services", len(catalog.Services)).Msg("using in-memory store; data is lost on exit")
		repo = mem
	}

	var (
		locker redisclient.Locker     = redisclient.NoopLocker{}
		feed   redisclient.ChangeFeed = redisclient.NewMemoryChangeFeed()
	)
	if cfg.RedisEnabled() {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer closeRedis(rdb, logger)
		logger.Info().Msg("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		feed = redisclient.NewRedisChangeFeed(rdb, 0)
		deps = append(deps, api.Dependency{Name: "redis", Pinger: api.RedisPinger{Client: rdb}, Optional: true})
	}

	mgr := booking.NewManager(repo, locker, feed, booking.Options{
		Location: cfg.Location,
		Logger:   logger.With().Str("component", "booking").Logger(),
	})

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Manager:        mgr,
			Auth:           api.NewAuthenticator(cfg.JWTSecret),
			Dependencies:   deps,
			Logger:         logger,
			RequestTimeout: cfg.RequestTimeout,
			Env:            cfg.Env,
			Version:        version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func closeRedis(rdb *redis.Client, logger zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing redis")
	}
}
