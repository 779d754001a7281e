package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"go-upload-notifier/internal/application/broadcast"
	"go-upload-notifier/internal/application/fanout"
	"go-upload-notifier/internal/application/lifecycle"
	"go-upload-notifier/internal/application/resize"
	"go-upload-notifier/internal/infrastructure/broker"
	"go-upload-notifier/internal/infrastructure/config"
	"go-upload-notifier/internal/infrastructure/hub"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/reporting"
	"go-upload-notifier/internal/infrastructure/server"
	"go-upload-notifier/internal/infrastructure/telemetry"
)

type Application struct {
	cfg    *config.Config
	logger logger.Logger

	httpSrv  server.Server
	hub      *hub.Hub
	broker   broker.Broker
	pipeline *fanout.Pipeline
	resizer  *resize.Worker

	providers     *providers
	flushReports  func()
	shutdownTrace telemetry.ShutdownFunc
}

func newApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *Application, err error) {
	app := &Application{
		cfg:       cfg,
		logger:    log.WithField("app", "notifier"),
		providers: &providers{cfg: cfg, logger: log},
	}
	defer func() {
		if err != nil {
			app.release(context.WithoutCancel(ctx))
		}
	}()

	reporter, flush, err := reporting.NewSentry(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	app.flushReports = flush

	app.shutdownTrace, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	reg, err := app.providers.registry(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	app.broker, err = app.providers.broker(ctx, reporter)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	store, err := app.providers.objectStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	app.hub = hub.New(log, lifecycle.NewTracker(reg, log))

	broadcastMetrics, err := telemetry.NewBroadcastMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}
	broadcaster := broadcast.New(reg, app.hub, broadcast.Options{
		Concurrency:    cfg.Broadcast.Concurrency,
		PushTimeout:    cfg.Broadcast.PushTimeout,
		MaxAttempts:    cfg.Broadcast.MaxAttempts,
		BackoffInitial: cfg.Broadcast.BackoffInitial,
		BackoffMax:     cfg.Broadcast.BackoffMax,
	}, log, broadcastMetrics)

	resizeMetrics, err := telemetry.NewResizeMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}
	app.resizer, err = resize.New(store, resize.Options{
		MaxDimension:     cfg.Resize.MaxDimension,
		MaxPixels:        cfg.Resize.MaxPixels,
		DerivedPrefix:    cfg.Resize.DerivedPrefix,
		DerivedContainer: cfg.Resize.DerivedContainer,
		DedupeTTL:        cfg.Resize.DedupeTTL,
		DedupeCacheBytes: cfg.Resize.DedupeCacheBytes,
	}, log, resizeMetrics)
	if err != nil {
		return nil, fmt.Errorf("resize worker: %w", err)
	}

	app.pipeline = fanout.NewPipeline(app.broker, app.resizer.Handle, broadcaster.Handle, log)
	publisher := fanout.NewPublisher(app.broker, log)

	router := InitRouter(app.hub, reg, publisher, log)
	app.httpSrv = server.NewHTTPServer(router, cfg.Server)

	return app, nil
}

func (app *Application) Run(ctx context.Context) error {
	// Hub and consumers outlive ctx; shutdown stops them in order.
	bg := context.WithoutCancel(ctx)

	if err := app.hub.Start(bg); err != nil {
		app.release(bg)
		return fmt.Errorf("start hub: %w", err)
	}
	if err := app.pipeline.Start(bg); err != nil {
		_ = app.hub.Stop(bg)
		app.release(bg)
		return fmt.Errorf("start pipeline: %w", err)
	}
	app.logger.Infof("listening on %s", app.cfg.Server.Addr)

	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return app.httpSrv.Start(ctx)
	})

	eg.Go(func() error {
		<-gctx.Done()

		gracefulshutdownCtx, cancel := context.WithTimeout(bg, app.cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop intake first, then drain consumers before closing connections.
		httpErr := app.httpSrv.Stop(gracefulshutdownCtx)
		app.pipeline.Stop()

		if err := app.hub.Stop(gracefulshutdownCtx); err != nil {
			app.logger.Errorf("failed to stop hub: %v", err)
		}

		app.release(gracefulshutdownCtx)
		return httpErr
	})

	return eg.Wait()
}

// release closes everything newApplication acquired. Safe on a partially
// built Application.
func (app *Application) release(ctx context.Context) {
	var errs []error

	if app.broker != nil {
		errs = append(errs, app.broker.Close())
	}
	if app.resizer != nil {
		app.resizer.Close()
	}
	app.providers.close()

	if app.flushReports != nil {
		app.flushReports()
	}
	if app.shutdownTrace != nil {
		errs = append(errs, app.shutdownTrace(ctx))
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.WithError(err).Warn("release failed")
	}
}
