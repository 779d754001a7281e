package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATS is a JetStream-backed broker. Every subscription is a durable
// consumer on one interest-retention stream, so each subscriber acks its
// own copy and a message is kept until all of them have done so.
type NATS struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	subject string
	opts    Options

	mu     sync.Mutex
	closed bool
	subs   map[string]jetstream.ConsumeContext
}

var _ Broker = (*NATS)(nil)

// ConnectNATS dials url and makes sure the stream capturing subject exists.
func ConnectNATS(ctx context.Context, url, stream, subject string, opts Options) (*NATS, error) {
	opts = opts.withDefaults()

	nc, err := nats.Connect(url,
		nats.Name("upload-notifier"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				opts.Logger.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			opts.Logger.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Retention: jetstream.InterestPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	opts.Logger.WithFields(map[string]any{"url": url, "stream": stream, "subject": subject}).Info("nats broker connected")

	return &NATS{
		nc:      nc,
		js:      js,
		stream:  stream,
		subject: subject,
		opts:    opts,
		subs:    make(map[string]jetstream.ConsumeContext),
	}, nil
}

func (n *NATS) Publish(ctx context.Context, data []byte) error {
	if n.isClosed() {
		return ErrClosed
	}
	if _, err := n.js.Publish(ctx, n.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, name string, h Handler) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrClosed
	}
	if _, exists := n.subs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, name)
	}

	consumer, err := n.js.CreateOrUpdateConsumer(ctx, n.stream, jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: n.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		// A subscriber created after events were published does not see them.
		DeliverPolicy: jetstream.DeliverNewPolicy,
		MaxDeliver:    n.opts.MaxAttempts,
		AckWait:       n.opts.AckWait,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create %s: %w", name, err)
	}

	hctx, cancel := context.WithCancel(ctx)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		n.handle(hctx, name, h, msg)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("nats consume %s: %w", name, err)
	}
	n.subs[name] = cc

	var once sync.Once
	stop := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, name)
			n.mu.Unlock()
			cc.Stop()
			cancel()
		})
	}
	return stop, nil
}

func (n *NATS) handle(ctx context.Context, name string, h Handler, msg jetstream.Msg) {
	attempt := 1
	if md, err := msg.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
	}

	hctx, cancel := context.WithTimeout(ctx, n.opts.AckWait)
	err := h(hctx, msg.Data())
	cancel()

	var ackErr error
	switch n.opts.dispose(ctx, name, attempt, err) {
	case dispositionAck:
		ackErr = msg.Ack()
	case dispositionRetry:
		ackErr = msg.NakWithDelay(n.opts.backoff(attempt))
	case dispositionDrop:
		ackErr = msg.Term()
	}
	if ackErr != nil {
		n.opts.Logger.WithError(ackErr).WithField("subscriber", name).Error("nats ack failed")
	}
}

func (n *NATS) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, cc := range subs {
		cc.Stop()
	}
	return n.nc.Drain()
}
