package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process broker. Each subscription owns an unbounded
// queue drained by its own goroutine, so a slow or failing subscriber
// never delays the publisher or the other subscribers. Events are lost if
// the process exits.
type Memory struct {
	opts Options

	mu     sync.RWMutex
	subs   map[string]*memorySub
	closed bool
}

var _ Broker = (*Memory)(nil)

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts: opts.withDefaults(),
		subs: make(map[string]*memorySub),
	}
}

type delivery struct {
	data    []byte
	attempt int
}

type memorySub struct {
	name    string
	handler Handler
	opts    Options

	mu     sync.Mutex
	queue  []delivery
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *Memory) Publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for _, sub := range m.subs {
		// Each subscriber gets its own copy.
		sub.enqueue(delivery{data: append([]byte(nil), data...), attempt: 1})
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, name string, h Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if _, exists := m.subs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, name)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		name:    name,
		handler: h,
		opts:    m.opts,
		notify:  make(chan struct{}, 1),
		ctx:     sctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.subs[name] = sub

	go sub.run()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			if m.subs[name] == sub {
				delete(m.subs, name)
			}
			m.mu.Unlock()
			sub.stop()
		})
	}
	return stop, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[string]*memorySub)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (s *memorySub) enqueue(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) next() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return delivery{}, false
	}
	d := s.queue[0]
	s.queue[0] = delivery{}
	s.queue = s.queue[1:]
	return d, true
}

func (s *memorySub) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
		}

		for {
			d, ok := s.next()
			if !ok {
				break
			}
			s.deliver(d)
			if s.ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *memorySub) deliver(d delivery) {
	err := s.handler(s.ctx, d.data)

	if s.opts.dispose(s.ctx, s.name, d.attempt, err) != dispositionRetry {
		return
	}

	next := delivery{data: d.data, attempt: d.attempt + 1}
	time.AfterFunc(s.opts.backoff(d.attempt), func() {
		if s.ctx.Err() == nil {
			s.enqueue(next)
		}
	})
}

func (s *memorySub) stop() {
	s.cancel()
	<-s.done
}
