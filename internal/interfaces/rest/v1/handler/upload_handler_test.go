package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-upload-notifier/internal/domain/upload"
	"go-upload-notifier/internal/infrastructure/logger"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []upload.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, e upload.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func newRouter(pub EventPublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewUploadHandler(pub, logger.NewNop())
	r.POST("/api/v1/uploads/events", h.PublishEvent)
	r.POST("/api/v1/uploads/s3-notifications", h.PublishS3Notification)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestPublishEvent(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		publishErr error
		wantStatus int
		wantEvents int
	}{
		{
			name:       "accepted",
			body:       `{"containerRef":"photos","objectKey":"a.png","occurredAt":"2024-05-01T12:00:00Z"}`,
			wantStatus: http.StatusAccepted,
			wantEvents: 1,
		},
		{
			name:       "missing field",
			body:       `{"containerRef":"photos","occurredAt":"2024-05-01T12:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"containerRef":"photos","objectKey":"a.png","occurredAt":"2024-05-01T12:00:00Z","size":3}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not json",
			body:       `containerRef=photos`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "broker refuses",
			body:       `{"containerRef":"photos","objectKey":"a.png","occurredAt":"2024-05-01T12:00:00Z"}`,
			publishErr: errors.New("nats: no responders"),
			wantStatus: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{err: tt.publishErr}
			rec := post(newRouter(pub), "/api/v1/uploads/events", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Len(t, pub.events, tt.wantEvents)
		})
	}
}

func TestPublishS3Notification(t *testing.T) {
	pub := &fakePublisher{}
	body := `{"Records":[
		{"eventName":"ObjectCreated:Put","eventTime":"2024-05-01T12:00:00.000Z",
		 "s3":{"bucket":{"name":"photos"},"object":{"key":"2024/my+cat%21.png","size":1024}}},
		{"eventName":"ObjectCreated:Put","eventTime":"2024-05-01T12:00:01.000Z",
		 "s3":{"bucket":{"name":"photos"},"object":{"key":"b.jpg"}}}
	]}`

	rec := post(newRouter(pub), "/api/v1/uploads/s3-notifications", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, pub.events, 2)
	assert.Equal(t, "photos", pub.events[0].ContainerRef)
	assert.Equal(t, "2024/my cat!.png", pub.events[0].ObjectKey)
	assert.Equal(t, "b.jpg", pub.events[1].ObjectKey)
}

func TestPublishS3Notification_OnlyCreatedRecords(t *testing.T) {
	pub := &fakePublisher{}
	body := `{"Records":[
		{"eventName":"ObjectRemoved:Delete","eventTime":"2024-05-01T12:00:00.000Z",
		 "s3":{"bucket":{"name":"photos"},"object":{"key":"gone.png"}}},
		{"eventName":"s3:ObjectCreated:CompleteMultipartUpload","eventTime":"2024-05-01T12:00:01.000Z",
		 "s3":{"bucket":{"name":"photos"},"object":{"key":"big.png"}}},
		{"eventName":"ObjectRestore:Completed","eventTime":"2024-05-01T12:00:02.000Z",
		 "s3":{"bucket":{"name":"photos"},"object":{"key":"old.png"}}}
	]}`

	rec := post(newRouter(pub), "/api/v1/uploads/s3-notifications", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"accepted","events":1,"skipped":2}`, rec.Body.String())

	require.Len(t, pub.events, 1)
	assert.Equal(t, "big.png", pub.events[0].ObjectKey)
}

func TestPublishS3Notification_DeletionOnly(t *testing.T) {
	pub := &fakePublisher{}
	body := `{"Records":[{"eventName":"ObjectRemoved:Delete","eventTime":"2024-05-01T12:00:00.000Z",
		"s3":{"bucket":{"name":"photos"},"object":{"key":"gone.png"}}}]}`

	rec := post(newRouter(pub), "/api/v1/uploads/s3-notifications", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, pub.events)
}

func TestPublishS3Notification_Invalid(t *testing.T) {
	pub := &fakePublisher{}

	rec := post(newRouter(pub), "/api/v1/uploads/s3-notifications",
		`{"Records":[{"eventName":"ObjectCreated:Put","eventTime":"2024-05-01T12:00:00Z","s3":{"bucket":{"name":"photos"},"object":{}}}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.events)
}
