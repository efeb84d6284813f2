// Package redis provides the optional live-data plumbing for out-of-process
// consumers (the web UI): a signal stream and a latest-book mirror, both
// backed by go-redis/v9. The whole package is disabled when no address is
// configured; nothing in the core pipeline depends on it.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polymercado/engine/internal/config"
)

// connectTimeout bounds the startup connectivity probe.
const connectTimeout = 5 * time.Second

// Connect dials Redis from the application config and verifies connectivity.
// The raw driver client is returned directly; SignalBus and BookMirror are
// thin views over it and the caller owns Close.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
