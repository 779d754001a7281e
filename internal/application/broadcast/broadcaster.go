// Package broadcast pushes upload notifications to every registered
// connection and prunes the ones that turn out to be gone.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/domain/upload"
	"go-upload-notifier/internal/infrastructure/broker"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/registry"
	"go-upload-notifier/internal/infrastructure/telemetry"
)

// Pusher delivers a payload to one connection. connection.ErrGone means
// the connection will never accept anything again.
type Pusher interface {
	Push(ctx context.Context, id string, payload []byte) error
	// Evict closes a connection that is about to be pruned, so a peer that
	// is merely slow is never left open without a registry entry.
	Evict(ctx context.Context, id string) error
}

// Result counts the outcome of one broadcast.
type Result struct {
	Delivered int
	Pruned    int
	// Failed are connections neither reached nor pruned: the broadcast was
	// cancelled, or the registry could not be updated. They stay registered.
	Failed int
}

type Options struct {
	Concurrency    int
	PushTimeout    time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 64
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = 5 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 100 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	return o
}

type Broadcaster struct {
	registry registry.Registry
	pusher   Pusher
	opts     Options
	logger   logger.Logger
	metrics  *telemetry.BroadcastMetrics
}

// New builds a Broadcaster. metrics may be nil.
func New(
	reg registry.Registry,
	pusher Pusher,
	opts Options,
	log logger.Logger,
	metrics *telemetry.BroadcastMetrics,
) *Broadcaster {
	if metrics == nil {
		// The noop provider never fails.
		metrics, _ = telemetry.NewBroadcastMetrics(noop.NewMeterProvider())
	}
	return &Broadcaster{
		registry: reg,
		pusher:   pusher,
		opts:     opts.withDefaults(),
		logger:   log.WithField("component", "broadcaster"),
		metrics:  metrics,
	}
}

// Handle is the broker handler for upload events.
func (b *Broadcaster) Handle(ctx context.Context, data []byte) error {
	e, err := upload.DecodeEvent(data)
	if err != nil {
		return broker.Terminal(err)
	}

	_, err = b.Broadcast(ctx, e)
	return err
}

// Broadcast notifies every registered connection about e. It fails only
// when the registry cannot be enumerated; individual connections never
// fail it.
func (b *Broadcaster) Broadcast(ctx context.Context, e upload.Event) (Result, error) {
	start := time.Now()
	ctx, span := telemetry.StartBroadcastSpan(ctx, e.ContainerRef, e.ObjectKey)
	defer span.End()

	payload, err := upload.NewNotification(e).Encode()
	if err != nil {
		return Result{}, fmt.Errorf("encode notification: %w", err)
	}

	var delivered, pruned, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(b.opts.Concurrency)

	var listErr error
	for id, err := range b.registry.List(ctx) {
		if err != nil {
			listErr = err
			break
		}

		// Blocks while Concurrency pushes are in flight.
		g.Go(func() error {
			switch b.deliver(ctx, id, payload) {
			case outcomeDelivered:
				delivered.Add(1)
			case outcomePruned:
				pruned.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Delivered: int(delivered.Load()),
		Pruned:    int(pruned.Load()),
		Failed:    int(failed.Load()),
	}
	b.record(ctx, res, time.Since(start))

	log := b.logger.WithFields(logger.Fields{
		"container": e.ContainerRef,
		"key":       e.ObjectKey,
		"delivered": res.Delivered,
		"pruned":    res.Pruned,
		"failed":    res.Failed,
	})

	if listErr != nil {
		span.RecordError(listErr)
		span.SetStatus(codes.Error, "enumeration failed")
		log.WithError(listErr).Error("broadcast aborted, connections could not be enumerated")
		return res, fmt.Errorf("enumerate connections: %w", listErr)
	}

	log.Info("broadcast complete")
	return res, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomePruned
	outcomeFailed
)

func (b *Broadcaster) deliver(ctx context.Context, id string, payload []byte) outcome {
	err := b.push(ctx, id, payload)
	if err == nil {
		return outcomeDelivered
	}

	log := b.logger.WithField("connection_id", id)

	if ctx.Err() != nil {
		log.WithError(err).Debug("broadcast cancelled before delivery")
		return outcomeFailed
	}

	// Gone, or transient failures that outlasted every attempt. The
	// gateway drops it first; a registry entry may outlive the socket but
	// never the other way round.
	if evErr := b.pusher.Evict(ctx, id); evErr != nil {
		log.WithError(evErr).Warn("evict hook failed")
	}
	if rmErr := b.registry.Remove(ctx, id); rmErr != nil {
		log.WithError(rmErr).Warn("could not prune connection")
		return outcomeFailed
	}

	log.WithError(err).Debug("pruned connection")
	return outcomePruned
}

// push tries to deliver with a fresh deadline per attempt.
func (b *Broadcaster) push(ctx context.Context, id string, payload []byte) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.opts.BackoffInitial
	eb.MaxInterval = b.opts.BackoffMax

	op := func() (struct{}, error) {
		actx, cancel := context.WithTimeout(ctx, b.opts.PushTimeout)
		defer cancel()

		err := b.pusher.Push(actx, id, payload)
		if errors.Is(err, connection.ErrGone) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(b.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}

func (b *Broadcaster) record(ctx context.Context, res Result, elapsed time.Duration) {
	// The broadcast context may be cancelled; metrics are recorded anyway.
	ctx = context.WithoutCancel(ctx)

	b.metrics.Delivered.Add(ctx, int64(res.Delivered))
	b.metrics.Pruned.Add(ctx, int64(res.Pruned))
	b.metrics.Failed.Add(ctx, int64(res.Failed))
	b.metrics.Duration.Record(ctx, elapsed.Seconds())
}
