package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/xraph/conductor/internal/config"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/store/mongo"
	"github.com/xraph/conductor/store/postgres"
	"github.com/xraph/conductor/store/redis"
)

const connectTimeout = 10 * time.Second

// NewStore opens the configured backend. The Redis client is owned here
// and closed on stop. The other backends are closed by whoever stops the
// engine, or by CloseStore.
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	sc := cfg.Store
	logger = logger.With(slog.String("store", sc.Backend))

	switch sc.Backend {
	case config.BackendMemory:
		logger.Warn("using the in-memory store, state is lost on exit")
		return memory.New(), nil

	case config.BackendPostgres:
		return postgres.New(ctx, sc.Postgres.DSN, postgres.WithLogger(logger))

	case config.BackendMongo:
		return mongo.New(ctx, sc.Mongo.URI, sc.Mongo.Database, mongo.WithLogger(logger))

	case config.BackendRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    sc.Redis.Addrs,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("conductor/redis: ping: %w", err)
		}
		lc.Append(fx.StopHook(client.Close))
		return redis.New(client, redis.WithLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}
