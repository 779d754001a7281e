package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"go-upload-notifier/internal/domain/upload"
	"go-upload-notifier/internal/infrastructure/logger"
)

// EventPublisher accepts upload events for fan-out.
type EventPublisher interface {
	Publish(ctx context.Context, e upload.Event) error
}

type UploadHandler struct {
	publisher EventPublisher
	logger    logger.Logger
}

func NewUploadHandler(publisher EventPublisher, logger logger.Logger) *UploadHandler {
	return &UploadHandler{
		publisher: publisher,
		logger:    logger.WithField("handler", "upload"),
	}
}

// PublishEvent accepts one upload-completed event.
func (h *UploadHandler) PublishEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable request body"})
		return
	}

	e, err := upload.DecodeEvent(body)
	if err != nil {
		h.logger.Warnf("Rejected upload event: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), e); err != nil {
		h.respondPublishError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":       "accepted",
		"containerRef": e.ContainerRef,
		"objectKey":    e.ObjectKey,
	})
}

// S3Notification is the subset of an S3 event notification we read.
type S3Notification struct {
	Records []S3Record `json:"Records" binding:"required,dive"`
}

type S3Record struct {
	EventName string    `json:"eventName" binding:"required"`
	EventTime time.Time `json:"eventTime" binding:"required"`
	S3        struct {
		Bucket struct {
			Name string `json:"name" binding:"required"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key" binding:"required"`
		} `json:"object"`
	} `json:"s3"`
}

// created reports whether the record announces a stored object. Removal
// and restore records are not uploads.
func (r S3Record) created() bool {
	return strings.HasPrefix(strings.TrimPrefix(r.EventName, "s3:"), "ObjectCreated:")
}

// PublishS3Notification publishes one upload event per ObjectCreated
// record and ignores the rest. Object keys arrive URL-encoded.
func (h *UploadHandler) PublishS3Notification(c *gin.Context) {
	var n S3Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid S3 notification"})
		return
	}

	events := make([]upload.Event, 0, len(n.Records))
	skipped := 0
	for _, r := range n.Records {
		if !r.created() {
			skipped++
			continue
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid object key encoding"})
			return
		}
		e := upload.Event{
			ContainerRef: r.S3.Bucket.Name,
			ObjectKey:    key,
			OccurredAt:   r.EventTime.UTC(),
		}
		if err := e.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events = append(events, e)
	}

	for _, e := range events {
		if err := h.publisher.Publish(c.Request.Context(), e); err != nil {
			h.respondPublishError(c, err)
			return
		}
	}

	h.logger.Infof("Published %d upload events from S3 notification (%d records skipped)", len(events), skipped)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "events": len(events), "skipped": skipped})
}

func (h *UploadHandler) respondPublishError(c *gin.Context, err error) {
	if errors.Is(err, upload.ErrInvalidEvent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithError(err).Error("Failed to publish upload event")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event could not be queued"})
}
