// Package broker delivers each published upload event to every subscriber
// independently. Delivery is at-least-once per subscriber: a handler error
// causes redelivery after a backoff, up to a maximum number of attempts,
// unless the error is marked terminal with Terminal.
package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/reporting"
)

var (
	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker is closed")

	// ErrDuplicateSubscriber is returned when a subscription name is reused.
	ErrDuplicateSubscriber = errors.New("subscriber already registered")

	// ErrRedeliveryExhausted is reported when an event is dropped after
	// its last allowed attempt.
	ErrRedeliveryExhausted = errors.New("redelivery attempts exhausted")
)

// Handler processes one event. Returning nil acknowledges it.
type Handler func(ctx context.Context, data []byte) error

// Broker is a publish/subscribe channel for upload events.
type Broker interface {
	// Publish hands data to every subscriber without waiting for any of them.
	Publish(ctx context.Context, data []byte) error

	// Subscribe registers a durable subscription. Subscriptions with
	// different names receive independent copies of every event.
	Subscribe(ctx context.Context, name string, h Handler) (stop func(), err error)

	Close() error
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying: the event is dropped.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Options controls redelivery and where dropped events are reported.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	AckWait     time.Duration
	Logger      logger.Logger
	Reporter    reporting.Reporter
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.AckWait <= 0 {
		o.AckWait = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.Reporter == nil {
		o.Reporter = reporting.Nop()
	}
	return o
}

// backoff returns the delay before the attempt following attempt:
// exponential from BackoffBase, capped, with +/-10% jitter.
func (o Options) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := o.BackoffBase << min(attempt-1, 20)
	if delay <= 0 || delay > o.BackoffMax {
		delay = o.BackoffMax
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/5 + 1))
	return delay - delay/10 + jitter
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionRetry
	dispositionDrop
)

// dispose decides what happens to an event after a handler attempt.
func (o Options) dispose(ctx context.Context, subscriber string, attempt int, err error) disposition {
	log := o.Logger.WithFields(logger.Fields{"subscriber": subscriber, "attempt": attempt})

	switch {
	case err == nil:
		return dispositionAck

	case IsTerminal(err):
		log.WithError(err).Warn("dropping event after terminal failure")
		o.Reporter.Report(ctx, err, map[string]string{"subscriber": subscriber, "reason": "terminal"})
		return dispositionDrop

	case attempt >= o.MaxAttempts:
		exhausted := fmt.Errorf("%s: %w after %d attempts: %w", subscriber, ErrRedeliveryExhausted, attempt, err)
		log.WithError(err).Error("dropping event, redelivery exhausted")
		o.Reporter.Report(ctx, exhausted, map[string]string{"subscriber": subscriber, "reason": "exhausted"})
		return dispositionDrop

	default:
		log.WithError(err).Warn("handler failed, event will be redelivered")
		return dispositionRetry
	}
}
