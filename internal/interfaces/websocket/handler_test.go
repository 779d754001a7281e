package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-upload-notifier/internal/application/broadcast"
	"go-upload-notifier/internal/application/lifecycle"
	"go-upload-notifier/internal/domain/upload"
	"go-upload-notifier/internal/infrastructure/hub"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/registry"
)

type fixture struct {
	hub      *hub.Hub
	registry *registry.Memory
	url      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.NewMemory()
	h := hub.New(logger.NewNop(), lifecycle.NewTracker(reg, logger.NewNop()))
	require.NoError(t, h.Start(context.Background()))

	router := gin.New()
	InitWebSocketRouter(logger.NewNop(), h, router.Group(""))
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		_ = h.Stop(context.Background())
		srv.Close()
	})

	return &fixture{
		hub:      h,
		registry: reg,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	before := f.hub.ConnectionCount()

	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return f.hub.ConnectionCount() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func (f *fixture) registered(t *testing.T) []string {
	t.Helper()
	ids, err := registry.Collect(context.Background(), f.registry)
	require.NoError(t, err)
	return ids
}

func TestConnect_RegistersAndDisconnects(t *testing.T) {
	f := newFixture(t)

	conn := f.dial(t)
	assert.Len(t, f.registered(t), 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()

	require.Eventually(t, func() bool { return len(f.registered(t)) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.hub.ConnectionCount())
}

func TestBroadcast_ReachesOnlyConnectedClients(t *testing.T) {
	f := newFixture(t)

	c1 := f.dial(t)
	c2 := f.dial(t)

	ids := f.registered(t)
	require.Len(t, ids, 2)

	require.NoError(t, c1.Close())
	require.Eventually(t, func() bool { return len(f.registered(t)) == 1 }, 2*time.Second, 10*time.Millisecond)

	b := broadcast.New(f.registry, f.hub, broadcast.Options{}, logger.NewNop(), nil)
	res, err := b.Broadcast(context.Background(), upload.Event{
		ContainerRef: "photos",
		ObjectKey:    "a.png",
		OccurredAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, broadcast.Result{Delivered: 1}, res)

	require.NoError(t, c2.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := c2.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"type":"upload","data":{"containerRef":"photos","objectKey":"a.png"}}`, string(msg))
}

func TestGetConnections(t *testing.T) {
	f := newFixture(t)
	f.dial(t)

	rec := httptest.NewRecorder()
	router := gin.New()
	InitWebSocketRouter(logger.NewNop(), f.hub, router.Group(""))
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/ws/connections", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_connections":1`)
}
