// Package objectstore reads uploaded objects and writes derived ones.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotFound is returned by Get when the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrTooLarge is returned by Get when the object exceeds the store's
	// read limit. Retrying will not help.
	ErrTooLarge = errors.New("object too large")
)

// Store addresses objects by container (bucket) and key.
type Store interface {
	Get(ctx context.Context, container, key string) (data []byte, contentType string, err error)
	Put(ctx context.Context, container, key, contentType string, data []byte) error
}

// readLimited reads r fully unless it holds more than limit bytes. A limit
// of zero or less reads without bound.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
