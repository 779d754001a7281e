// Package redisconn builds the shared Redis client used by the redis
// registry and the redis streams broker.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go-upload-notifier/internal/infrastructure/config"
)

// New returns a cluster client when more than one address is configured
// and a single-node client otherwise, and checks it with PING.
func New(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis: no addresses configured")
	}

	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:          cfg.Addrs,
		Password:       cfg.Password,
		DB:             cfg.DB,
		DialTimeout:    cfg.DialTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		PoolSize:       cfg.PoolSize,
		RouteByLatency: len(cfg.Addrs) > 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis: ping %v: %w", cfg.Addrs, err)
	}

	return rc, nil
}
