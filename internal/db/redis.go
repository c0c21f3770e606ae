package db

import (
	"context"
	"fmt"
	"time"

	"game-framework/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient builds a client from cfg and pings it once.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 200
	}
	if cfg.MinIdleConns <= 0 {
		cfg.MinIdleConns = 20
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// StartHealthCheck pings client every interval until ctx is done. It only
// reports; it never closes or rebuilds the client.
func StartHealthCheck(ctx context.Context, client *redis.Client, logger *zap.Logger, interval time.Duration) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := client.Ping(checkCtx).Err()
				cancel()

				if err != nil && ctx.Err() == nil {
					logger.Warn("redis ping failed",
						zap.String("addr", client.Options().Addr),
						zap.String("reason", err.Error()),
					)
				}
			}
		}
	}()
}
