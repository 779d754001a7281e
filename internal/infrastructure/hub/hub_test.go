package hub

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/infrastructure/logger"
)

func TestHub_StartStop(t *testing.T) {
	hub := New(logger.NewNop(), nil)
	ctx := context.Background()

	require.NoError(t, hub.Start(ctx))
	assert.True(t, hub.IsRunning())
	assert.ErrorIs(t, hub.Start(ctx), ErrAlreadyRunning)

	require.NoError(t, hub.Stop(ctx))
	assert.False(t, hub.IsRunning())

	// Stopping twice is harmless.
	require.NoError(t, hub.Stop(ctx))
}

func TestHub_RegisterRequiresRunningHub(t *testing.T) {
	hub := New(logger.NewNop(), nil)

	err := hub.RegisterConnection(context.Background(), newMockConnection("c1"))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestHub_ConnectionManagement(t *testing.T) {
	hooks := &recordingHooks{}
	hub := startHub(t, hooks)
	ctx := context.Background()

	assert.Equal(t, 0, hub.ConnectionCount())

	conn := newMockConnection("test-conn-1")
	require.NoError(t, hub.RegisterConnection(ctx, conn))

	// Registration is synchronous.
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.Equal(t, []string{"test-conn-1"}, hooks.connected())

	got, exists := hub.GetConnection("test-conn-1")
	require.True(t, exists)
	assert.Equal(t, "test-conn-1", got.ID())
	assert.Len(t, hub.GetConnectionsByType("mock"), 1)
	assert.Empty(t, hub.GetConnectionsByType("websocket"))

	require.NoError(t, hub.UnregisterConnection(ctx, "test-conn-1"))
	require.NoError(t, hub.UnregisterConnection(ctx, "test-conn-1"))

	assert.Equal(t, 0, hub.ConnectionCount())
	assert.True(t, conn.IsClosed())
	assert.Equal(t, []string{"test-conn-1"}, hooks.disconnected())
}

func TestHub_ConnectHookFailureRejectsConnection(t *testing.T) {
	hooks := &recordingHooks{connectErr: errors.New("registry down")}
	hub := startHub(t, hooks)

	err := hub.RegisterConnection(context.Background(), newMockConnection("c1"))
	require.Error(t, err)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestHub_ContextCancellationUnregisters(t *testing.T) {
	hooks := &recordingHooks{}
	hub := startHub(t, hooks)

	conn := newMockConnection("c1")
	require.NoError(t, hub.RegisterConnection(context.Background(), conn))

	conn.cancel()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(hooks.disconnected()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_SweepRemovesClosedConnections(t *testing.T) {
	hooks := &recordingHooks{}
	hub := New(logger.NewNop(), hooks)
	hub.sweepInterval = 10 * time.Millisecond
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })

	conn := newMockConnection("c1")
	require.NoError(t, hub.RegisterConnection(context.Background(), conn))

	// Closed without its context ending.
	conn.markClosed()

	require.Eventually(t, func() bool { return len(hooks.disconnected()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.ConnectionCount())
	assert.Equal(t, []string{"c1"}, hooks.disconnected())
}

func TestHub_Push(t *testing.T) {
	hub := startHub(t, nil)
	ctx := context.Background()

	conn := newMockConnection("c1")
	require.NoError(t, hub.RegisterConnection(ctx, conn))

	require.NoError(t, hub.Push(ctx, "c1", []byte(`{"type":"upload"}`)))
	assert.Equal(t, [][]byte{[]byte(`{"type":"upload"}`)}, conn.received())

	err := hub.Push(ctx, "unknown", []byte(`{}`))
	assert.ErrorIs(t, err, connection.ErrGone)

	conn.sendErr = errors.New("buffer full")
	err = hub.Push(ctx, "c1", []byte(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, connection.ErrGone)

	conn.markClosed()
	err = hub.Push(ctx, "c1", []byte(`{}`))
	assert.ErrorIs(t, err, connection.ErrGone)
}

func TestHub_StopReportsDisconnects(t *testing.T) {
	hooks := &recordingHooks{}
	hub := New(logger.NewNop(), hooks)
	require.NoError(t, hub.Start(context.Background()))

	c1, c2 := newMockConnection("c1"), newMockConnection("c2")
	require.NoError(t, hub.RegisterConnection(context.Background(), c1))
	require.NoError(t, hub.RegisterConnection(context.Background(), c2))

	require.NoError(t, hub.Stop(context.Background()))

	assert.True(t, c1.IsClosed())
	assert.True(t, c2.IsClosed())
	assert.ElementsMatch(t, []string{"c1", "c2"}, hooks.disconnected())
}

func TestSSEConnection_SendWritesEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	conn := NewSSEConnection(context.Background(), "c1", rec, logger.NewNop())
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Send(context.Background(), []byte(`{"type":"upload"}`)))

	body := rec.Body.String()
	assert.Contains(t, body, "event:message\n")
	assert.Contains(t, body, `data:{"type":"upload"}`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(context.Background(), []byte(`{}`)), connection.ErrGone)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event:message"))
}

func startHub(t *testing.T, hooks LifecycleHooks) *Hub {
	t.Helper()

	hub := New(logger.NewNop(), hooks)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })
	return hub
}

type recordingHooks struct {
	mu         sync.Mutex
	connects   []string
	disconns   []string
	connectErr error
}

func (r *recordingHooks) OnConnect(_ context.Context, c connection.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return r.connectErr
	}
	r.connects = append(r.connects, c.ID)
	return nil
}

func (r *recordingHooks) OnDisconnect(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconns = append(r.disconns, id)
	return nil
}

func (r *recordingHooks) connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connects...)
}

func (r *recordingHooks) disconnected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.disconns...)
}

type mockConnection struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	messages [][]byte
	sendErr  error
}

func newMockConnection(id string) *mockConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &mockConnection{id: id, ctx: ctx, cancel: cancel}
}

func (m *mockConnection) ID() string   { return m.id }
func (m *mockConnection) Type() string { return "mock" }
func (m *mockConnection) Send(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return connection.ErrGone
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, payload)
	return nil
}
func (m *mockConnection) Close() error {
	m.markClosed()
	m.cancel()
	return nil
}
func (m *mockConnection) markClosed() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
func (m *mockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
func (m *mockConnection) Context() context.Context { return m.ctx }
func (m *mockConnection) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.messages...)
}
