// Package lifecycle keeps the connection registry in step with the
// gateway's connect and disconnect callbacks.
package lifecycle

import (
	"context"
	"fmt"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/registry"
)

// Tracker implements hub.LifecycleHooks on top of a registry.
type Tracker struct {
	registry registry.Registry
	logger   logger.Logger
}

func NewTracker(r registry.Registry, log logger.Logger) *Tracker {
	return &Tracker{
		registry: r,
		logger:   log.WithField("component", "lifecycle"),
	}
}

// OnConnect records conn as CONNECTED. A registry failure is returned so
// the gateway can refuse the connection.
func (t *Tracker) OnConnect(ctx context.Context, conn connection.Connection) error {
	if err := t.registry.Insert(ctx, conn); err != nil {
		t.logger.WithError(err).WithField("connection_id", conn.ID).Error("failed to record connection")
		return fmt.Errorf("connect %s: %w", conn.ID, err)
	}

	t.logger.WithFields(logger.Fields{
		"connection_id": conn.ID,
		"state":         connection.StateConnected,
	}).Debug("connection recorded")
	return nil
}

// OnDisconnect moves id to DISCONNECTED. Unknown ids are fine: the
// broadcaster may have pruned the entry already.
func (t *Tracker) OnDisconnect(ctx context.Context, id string) error {
	if err := t.registry.Remove(ctx, id); err != nil {
		t.logger.WithError(err).WithField("connection_id", id).Error("failed to remove connection")
		return fmt.Errorf("disconnect %s: %w", id, err)
	}

	t.logger.WithFields(logger.Fields{
		"connection_id": id,
		"state":         connection.StateDisconnected,
	}).Debug("connection removed")
	return nil
}
