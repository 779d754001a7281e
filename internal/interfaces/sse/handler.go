package sse

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go-upload-notifier/internal/domain/connection"
	"go-upload-notifier/internal/infrastructure/hub"
	"go-upload-notifier/internal/infrastructure/logger"
)

type ServerSentEventHandler struct {
	hub    *hub.Hub
	logger logger.Logger
}

func NewServerSentEventHandler(hubInstance *hub.Hub, logger logger.Logger) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "sse"),
	}
}

// Connect streams notifications to the caller until the request ends or
// the hub drops the connection.
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	if !h.hub.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		return
	}

	conn := hub.NewSSEConnection(c.Request.Context(), uuid.NewString(), c.Writer, h.logger)
	log := h.logger.WithField("connection_id", conn.ID())
	defer conn.Detach()

	if err := h.hub.RegisterConnection(c.Request.Context(), conn); err != nil {
		log.WithError(err).Error("sse connection rejected")
		conn.Detach()
		c.Writer.Header().Del("Content-Type")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to register connection"})
		return
	}

	if err := conn.Hello(c.Request.Context()); err != nil {
		log.WithError(err).Warn("sse greeting failed")
	}
	log.Info("sse connected")

	<-conn.Context().Done()

	if err := h.hub.UnregisterConnection(context.WithoutCancel(c.Request.Context()), conn.ID()); err != nil {
		log.WithError(err).Error("sse unregister failed")
	}
	log.Info("sse disconnected")
}

// SendMessage pushes a raw JSON body to one client (for testing/admin purposes)
func (h *ServerSentEventHandler) SendMessage(c *gin.Context) {
	clientID := c.Param("clientId")

	payload, err := c.GetRawData()
	if err != nil || len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Message body is required",
		})
		return
	}

	if err := h.hub.Push(c.Request.Context(), clientID, payload); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, connection.ErrGone) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "sent",
		"client_id": clientID,
	})
}

// GetConnections returns information about connections held by this node
func (h *ServerSentEventHandler) GetConnections(c *gin.Context) {
	connections := h.hub.GetConnectionsByType("sse")
	connectionInfo := make([]gin.H, len(connections))

	for i, conn := range connections {
		connectionInfo[i] = gin.H{
			"id":     conn.ID(),
			"type":   conn.Type(),
			"closed": conn.IsClosed(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_connections": len(connections),
		"connections":       connectionInfo,
		"hub_running":       h.hub.IsRunning(),
	})
}
