package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduler/internal/config"
	"github.com/hackgods/clinic-appointment-scheduler/internal/db"
	"github.com/hackgods/clinic-appointment-scheduler/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduler/internal/redis"
)

// App holds the scheduling service and the connections behind it. Pool and
// Redis are nil when the configuration does not use them.
type App struct {
	Service *appointment.Service
	Pool    *pgxpool.Pool
	Redis   *redis.Client
}

// New wires the store and lock backends selected by cfg.
func New(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*App, error) {
	a := &App{}

	var repo appointment.Repository
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.Pool = pool

		if err := db.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		repo = appointment.NewPgRepository(pool)
		log.Info().Msg("connected to Postgres")
	default:
		repo = appointment.NewMemoryRepository()
		log.Warn().Msg("using in-memory store, data is lost on restart")
	}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.Redis = rdb
		locker = redisclient.NewRedisDayLocker(rdb, cfg.LockTTL, cfg.LockRetries)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	default:
		locker = redisclient.NewLocalDayLocker()
	}

	ledger := appointment.NewLedger(repo, locker)
	a.Service = appointment.NewService(repo, ledger, cfg, metrics.NewSchedulingMetrics(reg))
	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
