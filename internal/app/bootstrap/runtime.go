// Package bootstrap builds the long-lived clients and services the API binary
// runs on from configuration.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/medicarex-booking/internal/config"
	"github.com/wolfman30/medicarex-booking/internal/http/handlers"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// Runtime holds the connections shared by every component. Pool and DB are nil
// when running on in-memory stores; Redis is nil when no address is configured.
type Runtime struct {
	Pool   *pgxpool.Pool
	DB     *sql.DB
	Redis  *redis.Client
	logger *logging.Logger
}

// Open connects to Postgres (unless the memory store is selected) and Redis.
func Open(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	rt := &Runtime{logger: logger}

	if !cfg.UseMemoryStore {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
		}
		rt.Pool = pool
		rt.DB = stdlib.OpenDBFromPool(pool)
		logger.Info("postgres connected")
	} else {
		logger.Warn("USE_MEMORY_STORE enabled; appointments will not survive a restart")
	}

	rt.Redis = BuildRedisClient(ctx, cfg, logger, true)
	return rt, nil
}

// HealthChecks returns the dependencies /health should check.
func (rt *Runtime) HealthChecks() map[string]handlers.Pinger {
	checks := make(map[string]handlers.Pinger)
	if rt.Pool != nil {
		checks["postgres"] = rt.Pool
	}
	if rt.Redis != nil {
		checks["redis"] = redisPinger{client: rt.Redis}
	}
	return checks
}

// Close releases every connection. It is safe to call on a partially opened Runtime.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	return errors.Join(errs...)
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
