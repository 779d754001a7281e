package lifecycle

import (
	"context"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/registry"
)

func TestTracker_ConnectsMinusDisconnects(t *testing.T) {
	reg := registry.NewMemory()
	tr := NewTracker(reg, logger.NewNop())
	ctx := context.Background()

	const connects, disconnects = 10, 4
	for i := range connects {
		require.NoError(t, tr.OnConnect(ctx, connection.New(fmt.Sprintf("c%02d", i))))
	}
	for i := range disconnects {
		require.NoError(t, tr.OnDisconnect(ctx, fmt.Sprintf("c%02d", i)))
	}

	n, err := reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, connects-disconnects, n)

	ids, err := registry.Collect(ctx, reg)
	require.NoError(t, err)
	assert.NotContains(t, ids, "c00")
	assert.Contains(t, ids, "c09")
}

func TestTracker_DisconnectUnknownIsNoop(t *testing.T) {
	tr := NewTracker(registry.NewMemory(), logger.NewNop())

	assert.NoError(t, tr.OnDisconnect(context.Background(), "never-seen"))
}

func TestTracker_ReconnectIsNewEntry(t *testing.T) {
	reg := registry.NewMemory()
	tr := NewTracker(reg, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.OnConnect(ctx, connection.New("first")))
	require.NoError(t, tr.OnDisconnect(ctx, "first"))
	require.NoError(t, tr.OnConnect(ctx, connection.New("second")))

	ids, err := registry.Collect(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, ids)
}

func TestTracker_SurfacesUnavailableRegistry(t *testing.T) {
	tr := NewTracker(downRegistry{}, logger.NewNop())
	ctx := context.Background()

	err := tr.OnConnect(ctx, connection.New("c1"))
	assert.ErrorIs(t, err, registry.ErrUnavailable)

	err = tr.OnDisconnect(ctx, "c1")
	assert.ErrorIs(t, err, registry.ErrUnavailable)
}

type downRegistry struct{}

var errDown = fmt.Errorf("%w: connection refused", registry.ErrUnavailable)

func (downRegistry) Insert(context.Context, connection.Connection) error { return errDown }
func (downRegistry) Remove(context.Context, string) error               { return errDown }
func (downRegistry) Count(context.Context) (int, error)                 { return 0, errDown }
func (downRegistry) List(context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) { yield("", errDown) }
}
