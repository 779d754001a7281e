package sse

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"go-upload-notifier/internal/infrastructure/hub"
	"go-upload-notifier/internal/infrastructure/logger"
)

func InitSSERouter(logger logger.Logger, hubInstance *hub.Hub, rg *gin.RouterGroup) {
	sseHandler := NewServerSentEventHandler(hubInstance, logger)

	// SSE connection endpoint
	sseGroup := rg.Group("/sse")
	sseGroup.GET("", SSEHeadersMiddleware(), sseHandler.Connect)

	apiGroup := rg.Group("/api/v1/sse")
	apiGroup.GET("/connections", sseHandler.GetConnections)
	apiGroup.POST("/send/:clientId", sseHandler.SendMessage)
}

// SSEHeadersMiddleware rejects clients that cannot read an event stream.
func SSEHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accept := c.GetHeader("Accept")
		if accept != "" && accept != "*/*" && !acceptsEventStream(accept) {
			c.AbortWithStatusJSON(http.StatusNotAcceptable, gin.H{"error": "Accept must allow text/event-stream"})
			return
		}
		c.Next()
	}
}

func acceptsEventStream(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		switch strings.TrimSpace(mediaType) {
		case "text/event-stream", "text/*", "*/*":
			return true
		}
	}
	return false
}
