package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/infrastructure/logger"
)

var (
	ErrNotRunning     = errors.New("hub is not running")
	ErrAlreadyRunning = errors.New("hub is already running")
)

const (
	defaultSweepInterval = 30 * time.Second
	hookTimeout          = 5 * time.Second
)

// Hub holds the physical connections accepted by this process and
// reports their arrival and departure through LifecycleHooks.
type Hub struct {
	connections   map[string]Connection
	connectionsMu sync.RWMutex

	running   bool
	runningMu sync.RWMutex

	hooks  LifecycleHooks
	logger logger.Logger

	sweepInterval time.Duration

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Hub instance. hooks may be nil.
func New(logger logger.Logger, hooks LifecycleHooks) *Hub {
	if hooks == nil {
		hooks = nopHooks{}
	}
	return &Hub{
		connections:   make(map[string]Connection),
		hooks:         hooks,
		logger:        logger.WithField("component", "hub"),
		sweepInterval: defaultSweepInterval,
	}
}

// Start starts the hub and begins sweeping closed connections
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return ErrAlreadyRunning
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true

	h.wg.Add(1)
	go h.run()

	h.logger.Info("Hub started successfully")
	return nil
}

// Stop closes every connection and reports each one as disconnected.
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	if !h.running {
		h.runningMu.Unlock()
		return nil
	}
	h.running = false
	h.cancel()
	h.runningMu.Unlock()

	h.wg.Wait()

	h.connectionsMu.Lock()
	conns := h.connections
	h.connections = make(map[string]Connection)
	h.connectionsMu.Unlock()

	var errs []error
	for id, conn := range conns {
		if err := conn.Close(); err != nil {
			h.logger.Errorf("Failed to close connection %s: %v", id, err)
		}
		if err := h.hooks.OnDisconnect(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", id, err))
		}
	}

	h.logger.Infof("Hub stopped, %d connections closed", len(conns))
	return errors.Join(errs...)
}

// IsRunning returns true if the hub is currently running
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

// RegisterConnection accepts conn. It returns only after OnConnect has
// succeeded; on failure the connection is not kept.
func (h *Hub) RegisterConnection(ctx context.Context, conn Connection) error {
	if !h.IsRunning() {
		return ErrNotRunning
	}

	id := conn.ID()

	// Visible locally before it is announced, so a broadcast that reads
	// the new id can already reach it.
	h.connectionsMu.Lock()
	h.connections[id] = conn
	h.connectionsMu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, hookTimeout)
	err := h.hooks.OnConnect(hctx, connection.New(id))
	cancel()
	if err != nil {
		h.connectionsMu.Lock()
		if h.connections[id] == conn {
			delete(h.connections, id)
		}
		h.connectionsMu.Unlock()
		return fmt.Errorf("register connection %s: %w", id, err)
	}

	h.runningMu.RLock()
	if !h.running {
		h.runningMu.RUnlock()
		_ = h.UnregisterConnection(ctx, id)
		return ErrNotRunning
	}
	h.wg.Add(1)
	h.runningMu.RUnlock()

	h.logger.Infof("Connection %s registered (type: %s)", id, conn.Type())

	// Monitor connection context for disconnection
	go func() {
		defer h.wg.Done()
		select {
		case <-conn.Context().Done():
			_ = h.UnregisterConnection(context.WithoutCancel(h.ctx), id)
		case <-h.ctx.Done():
		}
	}()

	return nil
}

// UnregisterConnection closes and forgets a connection. It is safe to
// call more than once for the same id.
func (h *Hub) UnregisterConnection(ctx context.Context, connID string) error {
	h.connectionsMu.Lock()
	conn, exists := h.connections[connID]
	if exists {
		delete(h.connections, connID)
	}
	h.connectionsMu.Unlock()

	if !exists {
		return nil
	}

	if err := conn.Close(); err != nil {
		h.logger.Errorf("Failed to close connection %s: %v", connID, err)
	}

	hctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	if err := h.hooks.OnDisconnect(hctx, connID); err != nil {
		h.logger.WithError(err).Errorf("Disconnect hook failed for %s", connID)
		return fmt.Errorf("unregister connection %s: %w", connID, err)
	}

	h.logger.Infof("Connection %s unregistered", connID)
	return nil
}

// Push sends payload to one locally held connection. An unknown or closed
// connection yields connection.ErrGone; anything else is worth retrying.
func (h *Hub) Push(ctx context.Context, connID string, payload []byte) error {
	conn, exists := h.GetConnection(connID)
	if !exists || conn.IsClosed() {
		return fmt.Errorf("connection %s: %w", connID, connection.ErrGone)
	}

	if err := conn.Send(ctx, payload); err != nil {
		if conn.IsClosed() && !errors.Is(err, connection.ErrGone) {
			return fmt.Errorf("connection %s: %w: %w", connID, connection.ErrGone, err)
		}
		return fmt.Errorf("connection %s: %w", connID, err)
	}
	return nil
}

// Evict drops a connection the caller has given up on. The peer sees the
// transport close and reconnects under a new id. Unknown ids are ignored.
func (h *Hub) Evict(ctx context.Context, connID string) error {
	if _, ok := h.GetConnection(connID); ok {
		h.logger.Infof("Evicting connection %s", connID)
	}
	return h.UnregisterConnection(ctx, connID)
}

// GetConnection returns a connection by ID
func (h *Hub) GetConnection(connID string) (Connection, bool) {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	conn, exists := h.connections[connID]
	return conn, exists
}

// GetConnections returns all active connections
func (h *Hub) GetConnections() []Connection {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	connections := make([]Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	return connections
}

// GetConnectionsByType returns connections of a specific type
func (h *Hub) GetConnectionsByType(connType string) []Connection {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()

	var connections []Connection
	for _, conn := range h.connections {
		if conn.Type() == connType {
			connections = append(connections, conn)
		}
	}
	return connections
}

// ConnectionCount returns the number of active connections
func (h *Hub) ConnectionCount() int {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()
	return len(h.connections)
}

func (h *Hub) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanupClosedConnections()

		case <-h.ctx.Done():
			h.logger.Info("Hub run loop stopped")
			return
		}
	}
}

// cleanupClosedConnections unregisters connections whose transport has
// closed without cancelling their context.
func (h *Hub) cleanupClosedConnections() {
	h.connectionsMu.RLock()
	var closed []string
	for id, conn := range h.connections {
		if conn.IsClosed() {
			closed = append(closed, id)
		}
	}
	h.connectionsMu.RUnlock()

	for _, id := range closed {
		if err := h.UnregisterConnection(h.ctx, id); err == nil {
			h.logger.Infof("Cleaned up closed connection %s", id)
		}
	}
}
