// Package registry implements the durable store of live duplex connections.
//
// The registry is an approximation of the transport's live connections: it
// may hold stale ids that have not been pruned yet, but an id is only ever
// removed by an explicit disconnect or by a failed delivery.
package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go-upload-notifier/internal/domain/connection"
)

// ErrUnavailable is wrapped by every error caused by the backing store
// being unreachable or failing.
var ErrUnavailable = errors.New("connection registry unavailable")

// Registry maps connection ids to connection metadata. Every operation is
// individually atomic; there are no multi-operation transactions.
type Registry interface {
	// Insert adds or replaces the entry for conn.ID.
	Insert(ctx context.Context, conn connection.Connection) error

	// Remove deletes the entry for id. Removing an absent id succeeds.
	Remove(ctx context.Context, id string) error

	// List returns a lazy sequence of connection ids. Each range over the
	// sequence restarts the enumeration and yields an id at most once.
	// Entries added or removed while ranging may or may not be observed.
	// A store failure is yielded as the last element.
	List(ctx context.Context) iter.Seq2[string, error]

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("registry %s: %w: %w", op, ErrUnavailable, err)
}

// Collect drains a List sequence into a slice.
func Collect(ctx context.Context, r Registry) ([]string, error) {
	var ids []string
	for id, err := range r.List(ctx) {
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
