package hub

import (
	"context"

	"go-upload-notifier/internal/domain/connection"
)

// Connection represents any type of connection (SSE, WebSocket, etc.)
type Connection interface {
	ID() string
	Type() string
	// Send writes one payload. A closed connection returns connection.ErrGone.
	Send(ctx context.Context, payload []byte) error
	Close() error
	IsClosed() bool
	Context() context.Context
}

// LifecycleHooks are told about every connection the hub accepts and
// drops. OnConnect runs before the hub reports a connection as accepted;
// an error rejects it.
type LifecycleHooks interface {
	OnConnect(ctx context.Context, conn connection.Connection) error
	OnDisconnect(ctx context.Context, id string) error
}

type nopHooks struct{}

func (nopHooks) OnConnect(context.Context, connection.Connection) error { return nil }
func (nopHooks) OnDisconnect(context.Context, string) error            { return nil }
