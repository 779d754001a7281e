package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// RedisStreams is a broker on a single Redis stream. Each subscription is
// a consumer group, so every group reads every entry independently. An
// entry stays in the group's pending list until it is acknowledged or
// dropped; entries orphaned by a crashed process are adopted on startup.
type RedisStreams struct {
	rc       redis.UniversalClient
	stream   string
	maxLen   int64
	block    time.Duration
	workers  int
	consumer string
	opts     Options

	mu     sync.Mutex
	closed bool
	subs   map[string]*streamGroup
}

var _ Broker = (*RedisStreams)(nil)

// NewRedisStreams uses rc for stream name. workers is the number of
// concurrent readers per subscription.
func NewRedisStreams(rc redis.UniversalClient, stream string, maxLen int64, block time.Duration, workers int, opts Options) *RedisStreams {
	if workers < 1 {
		workers = 1
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	host, _ := os.Hostname()

	return &RedisStreams{
		rc:       rc,
		stream:   stream,
		maxLen:   maxLen,
		block:    block,
		workers:  workers,
		consumer: fmt.Sprintf("%s-%d", host, os.Getpid()),
		opts:     opts.withDefaults(),
		subs:     make(map[string]*streamGroup),
	}
}

func (r *RedisStreams) Publish(ctx context.Context, data []byte) error {
	if r.isClosed() {
		return ErrClosed
	}

	err := r.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{payloadField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis stream publish %s: %w", r.stream, err)
	}
	return nil
}

func (r *RedisStreams) Subscribe(ctx context.Context, name string, h Handler) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, exists := r.subs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, name)
	}

	// "$" so a new group starts at the tail and does not replay history.
	err := r.rc.XGroupCreateMkStream(ctx, r.stream, name, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("redis group create %s: %w", name, err)
	}

	gctx, cancel := context.WithCancel(ctx)
	g := &streamGroup{
		parent:  r,
		name:    name,
		handler: h,
		ctx:     gctx,
		cancel:  cancel,
	}
	r.subs[name] = g

	g.start()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			r.mu.Lock()
			if r.subs[name] == g {
				delete(r.subs, name)
			}
			r.mu.Unlock()
			g.stop()
		})
	}
	return stop, nil
}

func (r *RedisStreams) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops all subscriptions. The Redis client is owned by the caller.
func (r *RedisStreams) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[string]*streamGroup)
	r.mu.Unlock()

	for _, g := range subs {
		g.stop()
	}
	return nil
}

type streamGroup struct {
	parent  *RedisStreams
	name    string
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (g *streamGroup) start() {
	log := g.parent.opts.Logger.WithFields(map[string]any{
		"stream":   g.parent.stream,
		"group":    g.name,
		"consumer": g.parent.consumer,
		"workers":  g.parent.workers,
	})
	log.Info("starting redis stream consumer")

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.autoClaim()
	}()

	for i := 0; i < g.parent.workers; i++ {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.loop()
		}()
	}
}

func (g *streamGroup) stop() {
	g.cancel()
	g.wg.Wait()
}

// autoClaim adopts entries that another consumer of the group read but
// never acknowledged, typically because its process died.
func (g *streamGroup) autoClaim() {
	minIdle := max(30*time.Second, g.parent.block*6)
	next := "0-0"

	for g.ctx.Err() == nil {
		msgs, start, err := g.parent.rc.XAutoClaim(g.ctx, &redis.XAutoClaimArgs{
			Stream:   g.parent.stream,
			Group:    g.name,
			Consumer: g.parent.consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil {
			if g.ctx.Err() == nil {
				g.parent.opts.Logger.WithError(err).WithField("group", g.name).Warn("redis auto-claim failed")
			}
			return
		}
		attempts := g.deliveries(msgs)
		for _, m := range msgs {
			g.process(m, claimedAttempt(attempts, m.ID))
		}
		if start == "0-0" || len(msgs) == 0 {
			return
		}
		next = start
	}
}

// deliveries looks up how many times each claimed entry has been handed
// out, the claim itself included. A failed lookup yields an empty map.
func (g *streamGroup) deliveries(msgs []redis.XMessage) map[string]int64 {
	if len(msgs) == 0 {
		return nil
	}
	pending, err := g.parent.rc.XPendingExt(g.ctx, &redis.XPendingExtArgs{
		Stream:   g.parent.stream,
		Group:    g.name,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(msgs)),
		Consumer: g.parent.consumer,
	}).Result()
	if err != nil {
		if g.ctx.Err() == nil {
			g.parent.opts.Logger.WithError(err).WithField("group", g.name).Warn("redis pending lookup failed")
		}
		return nil
	}
	counts := make(map[string]int64, len(pending))
	for _, p := range pending {
		counts[p.ID] = p.RetryCount
	}
	return counts
}

// claimedAttempt is the attempt number a reclaimed entry resumes at. The
// delivery count is a floor: in-place retries by the previous owner are
// not counted by redis.
func claimedAttempt(deliveries map[string]int64, id string) int {
	n, ok := deliveries[id]
	if !ok || n < 1 {
		return 1
	}
	return int(n)
}

func (g *streamGroup) loop() {
	for {
		streams, err := g.parent.rc.XReadGroup(g.ctx, &redis.XReadGroupArgs{
			Group:    g.name,
			Consumer: g.parent.consumer,
			Streams:  []string{g.parent.stream, ">"},
			Count:    1,
			Block:    g.parent.block,
		}).Result()
		if g.ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				g.parent.opts.Logger.WithError(err).WithField("group", g.name).Warn("redis read failed")
				g.pause(g.parent.opts.BackoffBase)
			}
			continue
		}

		for _, s := range streams {
			for _, m := range s.Messages {
				g.process(m, 1)
			}
		}
	}
}

// process runs the handler for an entry and retries it in place with
// backoff. The entry is acknowledged once it succeeds or is dropped.
func (g *streamGroup) process(m redis.XMessage, attempt int) {
	opts := g.parent.opts

	raw, ok := m.Values[payloadField].(string)
	if !ok {
		opts.dispose(g.ctx, g.name, attempt, Terminal(fmt.Errorf("stream entry %s has no %s field", m.ID, payloadField)))
		g.ack(m.ID)
		return
	}

	for {
		hctx, cancel := context.WithTimeout(g.ctx, opts.AckWait)
		err := g.handler(hctx, []byte(raw))
		cancel()

		if g.ctx.Err() != nil {
			// Left pending; a later auto-claim picks it up.
			return
		}

		switch opts.dispose(g.ctx, g.name, attempt, err) {
		case dispositionRetry:
			if !g.pause(opts.backoff(attempt)) {
				return
			}
			attempt++
			continue
		default:
			g.ack(m.ID)
			return
		}
	}
}

func (g *streamGroup) ack(id string) {
	// A fresh context so an entry handled during shutdown is still acked.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), 5*time.Second)
	defer cancel()

	if err := g.parent.rc.XAck(ctx, g.parent.stream, g.name, id).Err(); err != nil {
		g.parent.opts.Logger.WithError(err).WithFields(map[string]any{"group": g.name, "id": id}).Error("redis ack failed")
	}
}

// pause sleeps for d unless the group is stopped first.
func (g *streamGroup) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-g.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
