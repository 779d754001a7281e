// Package fanout connects upload events to their independent consumers.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-upload-notifier/internal/domain/upload"
	"go-upload-notifier/internal/infrastructure/broker"
	"go-upload-notifier/internal/infrastructure/logger"
)

// Subscriber names. Each one is a durable subscription on the broker.
const (
	SubscriberResize = "resize"
	SubscriberNotify = "notify"
)

// Publisher is the entry point for upload-completed events.
type Publisher struct {
	broker broker.Broker
	logger logger.Logger
}

func NewPublisher(b broker.Broker, log logger.Logger) *Publisher {
	return &Publisher{broker: b, logger: log.WithField("component", "publisher")}
}

// Publish validates e and hands it to the broker. It returns as soon as
// the broker has accepted the event.
func (p *Publisher) Publish(ctx context.Context, e upload.Event) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}

	if err := p.broker.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish upload %s/%s: %w", e.ContainerRef, e.ObjectKey, err)
	}

	p.logger.WithFields(logger.Fields{"container": e.ContainerRef, "key": e.ObjectKey}).Debug("upload event published")
	return nil
}

// Pipeline subscribes each consumer to the broker.
type Pipeline struct {
	broker    broker.Broker
	consumers map[string]broker.Handler
	logger    logger.Logger

	mu    sync.Mutex
	stops []func()
}

// NewPipeline wires resize and notify handlers.
func NewPipeline(b broker.Broker, resize, notify broker.Handler, log logger.Logger) *Pipeline {
	return &Pipeline{
		broker: b,
		consumers: map[string]broker.Handler{
			SubscriberResize: resize,
			SubscriberNotify: notify,
		},
		logger: log.WithField("component", "pipeline"),
	}
}

// Start subscribes every consumer. On failure the ones already started
// are stopped again.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.stops) > 0 {
		return errors.New("pipeline already started")
	}

	for name, h := range p.consumers {
		stop, err := p.broker.Subscribe(ctx, name, h)
		if err != nil {
			for _, s := range p.stops {
				s()
			}
			p.stops = nil
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		p.stops = append(p.stops, stop)
		p.logger.WithField("subscriber", name).Info("consumer subscribed")
	}
	return nil
}

// Stop unsubscribes every consumer and waits for in-flight handlers.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stops := p.stops
	p.stops = nil
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range stops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s()
		}()
	}
	wg.Wait()
}
