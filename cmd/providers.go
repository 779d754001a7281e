package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"go-upload-notifier/internal/infrastructure/broker"
	"go-upload-notifier/internal/infrastructure/config"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/objectstore"
	"go-upload-notifier/internal/infrastructure/redisconn"
	"go-upload-notifier/internal/infrastructure/registry"
	"go-upload-notifier/internal/infrastructure/reporting"
)

// providers builds infrastructure drivers from configuration and
// remembers how to release them.
type providers struct {
	cfg    *config.Config
	logger logger.Logger

	redis   redis.UniversalClient
	closers []func()
}

func (p *providers) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if p.redis != nil {
		return p.redis, nil
	}
	rc, err := redisconn.New(ctx, p.cfg.Redis)
	if err != nil {
		return nil, err
	}
	p.redis = rc
	p.closers = append(p.closers, func() { _ = rc.Close() })
	return rc, nil
}

func (p *providers) registry(ctx context.Context) (registry.Registry, error) {
	rc := p.cfg.Registry
	switch rc.Driver {
	case "memory":
		return registry.NewMemory(), nil
	case "redis":
		client, err := p.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return registry.NewRedis(client, rc.Namespace, rc.PageSize), nil
	case "postgres":
		pg, err := registry.NewPostgres(ctx, p.cfg.Postgres.DSN, p.cfg.Postgres.MaxConns, rc.PageSize)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, pg.Close)
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown registry driver %q", rc.Driver)
	}
}

func (p *providers) broker(ctx context.Context, reporter reporting.Reporter) (broker.Broker, error) {
	bc := p.cfg.Broker
	opts := broker.Options{
		MaxAttempts: bc.MaxAttempts,
		BackoffBase: bc.BackoffBase,
		AckWait:     bc.AckWait,
		Logger:      p.logger.WithFields(logger.Fields{"component": "broker", "driver": bc.Driver}),
		Reporter:    reporter,
	}

	switch bc.Driver {
	case "memory":
		return broker.NewMemory(opts), nil
	case "nats":
		n, err := broker.ConnectNATS(ctx, p.cfg.NATS.URL, p.cfg.NATS.Stream, bc.Subject, opts)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "redis":
		client, err := p.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return broker.NewRedisStreams(client, bc.Subject, p.cfg.Redis.StreamMaxLen,
			p.cfg.Redis.BlockTimeout, bc.Workers, opts), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", bc.Driver)
	}
}

func (p *providers) objectStore(ctx context.Context) (objectstore.Store, error) {
	switch p.cfg.ObjectStore.Driver {
	case "memory":
		return objectstore.NewMemory(), nil
	case "s3":
		s3, err := objectstore.NewS3(ctx, p.cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown object store driver %q", p.cfg.ObjectStore.Driver)
	}
}

// close releases resources in reverse order of acquisition.
func (p *providers) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
