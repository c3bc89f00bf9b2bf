package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/schedule-seat-reservation/internal/config"
	"github.com/iliyamo/schedule-seat-reservation/internal/database"
	"github.com/iliyamo/schedule-seat-reservation/internal/handler"
	"github.com/iliyamo/schedule-seat-reservation/internal/lock"
	"github.com/iliyamo/schedule-seat-reservation/internal/logger"
	"github.com/iliyamo/schedule-seat-reservation/internal/middleware"
	"github.com/iliyamo/schedule-seat-reservation/internal/queue"
	"github.com/iliyamo/schedule-seat-reservation/internal/repository"
	"github.com/iliyamo/schedule-seat-reservation/internal/reservation"
	"github.com/iliyamo/schedule-seat-reservation/internal/router"
	"github.com/iliyamo/schedule-seat-reservation/internal/service"
	"github.com/iliyamo/schedule-seat-reservation/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// ledger is the store the manager runs on plus the seeding entry points
// shared by both backends.
type ledger interface {
	reservation.Ledger
	repository.Seeder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "schedule-seat-reservation",
		ServiceVersion: version,
		Environment:    cfg.Env,
		CollectorAddr:  cfg.OTelEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logg.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	checks := map[string]handler.Check{}
	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checks["mysql"] = db.PingContext
	}
	if cfg.SeedFile != "" {
		if err := seed(ctx, cfg.SeedFile, store, logg); err != nil {
			return err
		}
	}

	// Redis is optional: without it the schedule lock is process-local and
	// rate limiting and caching are off.
	rdb := config.NewRedisClient()
	layers := []lock.Locker{lock.NewLocal()}
	if rdb != nil {
		defer rdb.Close()
		layers = append(layers, lock.NewRedis(rdb, lock.WithTTL(cfg.Engine.LockTTL), lock.WithLogger(logg)))
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logg.Warn("redis unavailable, running with in-process schedule lock only")
	}

	opts := []reservation.Option{
		reservation.WithLogger(logg),
		reservation.WithStorageTimeout(cfg.Engine.StorageTimeout),
		reservation.WithLockWait(cfg.Engine.LockWait),
		reservation.WithMaxRetries(uint64(cfg.Engine.MaxRetries)),
	}
	if cfg.AMQPURL != "" {
		opts = append(opts, reservation.WithPublisher(service.NewPublisher(cfg.AMQPURL, logg)))
	}
	mgr := reservation.NewManager(store, lock.NewChain(logg, layers...), opts...)

	if cfg.AMQPURL != "" {
		consumer := queue.NewConsumer(cfg.AMQPURL, func(ctx context.Context, scheduleID string) error {
			_, err := mgr.Reconcile(ctx, scheduleID)
			return err
		}, logg)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error("reservation consumer stopped", zap.Error(err))
			}
		}()
	}

	e := newServer(cfg, logg, rdb, mgr, checks)
	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logg.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.Store))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logg.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}

func newServer(cfg config.Config, logg *zap.Logger, rdb *redis.Client, mgr *reservation.Manager, checks map[string]handler.Check) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover(), echomw.RequestID(), middleware.RequestLogger(logg))

	router.RegisterRoutes(e, handler.Health(checks))
	router.RegisterReservations(e, handler.NewReservationHandler(mgr), router.ReservationOptions{
		JWTSecret: cfg.JWTSecret,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logg),
		Cache:     middleware.NewRedisCache(config.LoadCacheConfig(), rdb, logg),
	})
	return e
}

func openStore(ctx context.Context, cfg config.Config) (ledger, *sql.DB, error) {
	if cfg.Store == config.StoreMemory {
		return repository.NewMemoryLedger(), nil, nil
	}
	db, err := database.Open(ctx, database.Conn{
		User: cfg.DBUser, Pass: cfg.DBPass,
		Host: cfg.DBHost, Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewLedgerRepo(db), db, nil
}

func seed(ctx context.Context, path string, s repository.Seeder, logg *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := repository.LoadFixture(ctx, f, s)
	if err != nil {
		return err
	}
	logg.Info("fixture loaded", zap.String("file", path), zap.Int("created", n))
	return nil
}
