package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSendTimeout is returned when a connection cannot take a payload in
// time. The connection stays open; the caller may retry.
var ErrSendTimeout = errors.New("send timeout")

// lifetime tracks whether a transport is still usable. Cancelling its
// context is how a transport learns it must stop.
type lifetime struct {
	ctx    context.Context
	cancel context.CancelFunc

	once   sync.Once
	closed atomic.Bool
}

func (l *lifetime) init(parent context.Context) {
	l.ctx, l.cancel = context.WithCancel(parent)
}

// shut reports whether this call did the closing.
func (l *lifetime) shut() bool {
	first := false
	l.once.Do(func() {
		l.closed.Store(true)
		l.cancel()
		first = true
	})
	return first
}

func (l *lifetime) IsClosed() bool { return l.closed.Load() }

func (l *lifetime) Context() context.Context { return l.ctx }
