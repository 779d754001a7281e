package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-upload-notifier/internal/infrastructure/hub"
	"go-upload-notifier/internal/infrastructure/logger"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub      *hub.Hub
	logger   logger.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler instance
func NewWebSocketHandler(hubInstance *hub.Hub, logger logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hubInstance,
		logger: logger.WithField("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks belong to the authenticating proxy in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades the request and registers the connection. The hub has
// recorded it by the time the client can receive anything, and the
// handler holds the request until the socket goes away.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if !h.hub.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := hub.NewWebSocketConnection(uuid.NewString(), ws, h.logger)
	log := h.logger.WithField("connection_id", conn.ID())

	if err := h.hub.RegisterConnection(c.Request.Context(), conn); err != nil {
		log.WithError(err).Error("websocket connection rejected")
		conn.Close()
		return
	}
	log.Info("websocket connected")

	<-conn.Context().Done()

	if err := h.hub.UnregisterConnection(context.WithoutCancel(c.Request.Context()), conn.ID()); err != nil {
		log.WithError(err).Error("websocket unregister failed")
	}
	log.Info("websocket disconnected")
}

// GetConnections returns information about WebSocket connections
func (h *WebSocketHandler) GetConnections(c *gin.Context) {
	connections := h.hub.GetConnectionsByType("websocket")
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
