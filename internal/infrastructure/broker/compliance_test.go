package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func fastOptions(rep *recordingReporter) Options {
	return Options{
		MaxAttempts: 3,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		AckWait:     2 * time.Second,
		Reporter:    rep,
	}
}

// runComplianceTests exercises the delivery guarantees every driver must
// provide. newBroker returns a fresh broker built with the given options.
func runComplianceTests(t *testing.T, newBroker func(t *testing.T, opts Options) Broker) {
	t.Run("every subscriber receives every event", func(t *testing.T) {
		b := newBroker(t, fastOptions(&recordingReporter{}))
		ctx := context.Background()

		got := map[string]chan []byte{
			"resize-" + uuid.NewString():    make(chan []byte, 4),
			"broadcast-" + uuid.NewString(): make(chan []byte, 4),
		}
		for name, ch := range got {
			stop, err := b.Subscribe(ctx, name, func(_ context.Context, data []byte) error {
				ch <- data
				return nil
			})
			require.NoError(t, err)
			t.Cleanup(stop)
		}

		require.NoError(t, b.Publish(ctx, []byte(`{"n":1}`)))

		for name, ch := range got {
			select {
			case data := <-ch:
				assert.JSONEq(t, `{"n":1}`, string(data), name)
			case <-time.After(5 * time.Second):
				t.Fatalf("subscriber %s never received the event", name)
			}
		}
	})

	t.Run("stalled subscriber does not hold back the others", func(t *testing.T) {
		b := newBroker(t, fastOptions(&recordingReporter{}))
		ctx := context.Background()

		release := make(chan struct{})
		stopSlow, err := b.Subscribe(ctx, "slow-"+uuid.NewString(), func(ctx context.Context, _ []byte) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		})
		require.NoError(t, err)
		t.Cleanup(stopSlow)
		t.Cleanup(func() { close(release) })

		fast := make(chan struct{}, 4)
		stopFast, err := b.Subscribe(ctx, "fast-"+uuid.NewString(), func(context.Context, []byte) error {
			fast <- struct{}{}
			return nil
		})
		require.NoError(t, err)
		t.Cleanup(stopFast)

		require.NoError(t, b.Publish(ctx, []byte(`{}`)))

		select {
		case <-fast:
		case <-time.After(5 * time.Second):
			t.Fatal("fast subscriber was blocked by the slow one")
		}
	})

	t.Run("transient failure is redelivered", func(t *testing.T) {
		b := newBroker(t, fastOptions(&recordingReporter{}))
		ctx := context.Background()

		var calls atomic.Int32
		done := make(chan struct{})
		stop, err := b.Subscribe(ctx, "flaky-"+uuid.NewString(), func(context.Context, []byte) error {
			if calls.Add(1) < 2 {
				return errors.New("storage timeout")
			}
			close(done)
			return nil
		})
		require.NoError(t, err)
		t.Cleanup(stop)

		require.NoError(t, b.Publish(ctx, []byte(`{}`)))

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatalf("event was not redelivered, %d calls", calls.Load())
		}
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("terminal failure is not redelivered", func(t *testing.T) {
		rep := &recordingReporter{}
		b := newBroker(t, fastOptions(rep))
		ctx := context.Background()

		var calls atomic.Int32
		stop, err := b.Subscribe(ctx, "terminal-"+uuid.NewString(), func(context.Context, []byte) error {
			calls.Add(1)
			return Terminal(errors.New("not an image"))
		})
		require.NoError(t, err)
		t.Cleanup(stop)

		require.NoError(t, b.Publish(ctx, []byte(`{}`)))

		require.Eventually(t, func() bool { return len(rep.reported()) == 1 }, 5*time.Second, 10*time.Millisecond)
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("redelivery stops after max attempts", func(t *testing.T) {
		rep := &recordingReporter{}
		b := newBroker(t, fastOptions(rep))
		ctx := context.Background()

		var calls atomic.Int32
		stop, err := b.Subscribe(ctx, "broken-"+uuid.NewString(), func(context.Context, []byte) error {
			calls.Add(1)
			return errors.New("still down")
		})
		require.NoError(t, err)
		t.Cleanup(stop)

		require.NoError(t, b.Publish(ctx, []byte(`{}`)))

		require.Eventually(t, func() bool { return len(rep.reported()) == 1 }, 10*time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, rep.reported()[0], ErrRedeliveryExhausted)
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("duplicate subscriber name is rejected", func(t *testing.T) {
		b := newBroker(t, fastOptions(&recordingReporter{}))
		ctx := context.Background()
		name := "dup-" + uuid.NewString()

		stop, err := b.Subscribe(ctx, name, func(context.Context, []byte) error { return nil })
		require.NoError(t, err)
		t.Cleanup(stop)

		_, err = b.Subscribe(ctx, name, func(context.Context, []byte) error { return nil })
		assert.ErrorIs(t, err, ErrDuplicateSubscriber)
	})

	t.Run("closed broker rejects publish", func(t *testing.T) {
		b := newBroker(t, fastOptions(&recordingReporter{}))
		require.NoError(t, b.Close())

		assert.ErrorIs(t, b.Publish(context.Background(), []byte(`{}`)), ErrClosed)
	})
}
