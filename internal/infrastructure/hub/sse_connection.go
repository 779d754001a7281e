package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/infrastructure/logger"
)

const (
	sseWriteTimeout = 10 * time.Second
	sseKeepAlive    = 30 * time.Second
)

// SSEConnection streams notifications over a held-open HTTP response.
type SSEConnection struct {
	lifetime

	id     string
	writer http.ResponseWriter
	logger logger.Logger

	// Send and the keep-alive loop share the writer.
	writeMu sync.Mutex
	seq     atomic.Uint64
}

// NewSSEConnection wraps an HTTP response for streaming. It closes when
// ctx (normally the request context) ends.
func NewSSEConnection(ctx context.Context, id string, w http.ResponseWriter, log logger.Logger) *SSEConnection {
	c := &SSEConnection{
		id:     id,
		writer: w,
		logger: log.WithFields(logger.Fields{"connection_id": id, "transport": "sse"}),
	}
	c.init(ctx)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Cache-Control")

	go c.keepAlive()
	return c
}

func (c *SSEConnection) ID() string   { return c.id }
func (c *SSEConnection) Type() string { return "sse" }

// Send writes payload as a "message" event with an increasing event id.
func (c *SSEConnection) Send(ctx context.Context, payload []byte) error {
	id := strconv.FormatUint(c.seq.Add(1), 10)
	return c.write(ctx, EventMessage, id, string(payload))
}

// Hello writes the connected frame carrying the connection id.
func (c *SSEConnection) Hello(ctx context.Context) error {
	return c.write(ctx, EventConnected, "", ConnectedPayload{
		ConnectionID: c.id,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// Close ends the stream. The handler holding the request returns once
// the context is done.
func (c *SSEConnection) Close() error {
	if c.shut() {
		c.logger.Debug("sse stream closed")
	}
	return nil
}

// Detach closes the stream and waits out any write in progress. The
// response writer is not touched afterwards, so the handler may return.
func (c *SSEConnection) Detach() {
	c.Close()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
}

// write frames one event. A failed or stalled write means the peer is
// unreachable, so the stream is closed and ErrGone returned.
func (c *SSEConnection) write(ctx context.Context, event, id string, data any) error {
	if c.IsClosed() {
		return connection.ErrGone
	}

	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		if c.IsClosed() {
			done <- connection.ErrGone
			return
		}
		// Unblocks a write to a peer that stopped reading.
		_ = http.NewResponseController(c.writer).SetWriteDeadline(time.Now().Add(sseWriteTimeout))
		if err := writeSSE(c.writer, event, id, data); err != nil {
			done <- err
			return
		}
		if f, ok := c.writer.(http.Flusher); ok {
			f.Flush()
		}
		done <- nil
	}()

	timer := time.NewTimer(sseWriteTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, connection.ErrGone) {
			c.logger.WithError(err).Warn("sse write failed")
			c.Close()
			return fmt.Errorf("%w: %w", connection.ErrGone, err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return connection.ErrGone
	case <-timer.C:
		c.logger.Warn("sse write stalled")
		c.Close()
		return fmt.Errorf("%w: %w", connection.ErrGone, ErrSendTimeout)
	}
}

// keepAlive stops idle proxies from dropping the stream.
func (c *SSEConnection) keepAlive() {
	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if err := c.write(c.ctx, EventKeepAlive, "", keepAliveFrame(now)); err != nil {
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
