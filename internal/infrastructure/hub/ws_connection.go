package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/infrastructure/logger"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 54 * time.Second // under wsPongTimeout
	wsQueueLength    = 256
	wsEnqueueTimeout = 5 * time.Second
)

// WebSocketConnection pushes notifications as text frames. Outbound
// payloads go through a bounded queue drained by writePump, the only
// goroutine that writes to the socket.
type WebSocketConnection struct {
	lifetime

	id     string
	conn   *websocket.Conn
	logger logger.Logger

	queue chan []byte
}

func NewWebSocketConnection(id string, conn *websocket.Conn, log logger.Logger) *WebSocketConnection {
	c := &WebSocketConnection{
		id:     id,
		conn:   conn,
		logger: log.WithFields(logger.Fields{"connection_id": id, "transport": "websocket"}),
		queue:  make(chan []byte, wsQueueLength),
	}
	// Independent of the upgrade request, which has already returned.
	c.init(context.Background())

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	go c.writePump()
	go c.readPump()
	return c
}

func (c *WebSocketConnection) ID() string   { return c.id }
func (c *WebSocketConnection) Type() string { return "websocket" }

// Send queues payload. A full queue that does not drain within
// wsEnqueueTimeout yields ErrSendTimeout.
func (c *WebSocketConnection) Send(ctx context.Context, payload []byte) error {
	if c.IsClosed() {
		return connection.ErrGone
	}

	timer := time.NewTimer(wsEnqueueTimeout)
	defer timer.Stop()

	select {
	case c.queue <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return connection.ErrGone
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close asks writePump to send a close frame and release the socket.
func (c *WebSocketConnection) Close() error {
	if c.shut() {
		c.logger.Debug("websocket closing")
	}
	return nil
}

func (c *WebSocketConnection) writePump() {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.WithError(err).Warn("websocket write failed")
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.WithError(err).Debug("websocket ping failed")
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump keeps pong handling alive and notices when the peer leaves.
// The channel is push-only; inbound data frames are discarded.
func (c *WebSocketConnection) readPump() {
	defer c.Close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.WithError(err).Warn("websocket closed unexpectedly")
			}
			return
		}
	}
}
