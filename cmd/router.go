package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"go-upload-notifier/internal/infrastructure/hub"
	"go-upload-notifier/internal/infrastructure/logger"
	"go-upload-notifier/internal/infrastructure/registry"
	"go-upload-notifier/internal/interfaces/rest/v1/handler"
	"go-upload-notifier/internal/interfaces/sse"
	"go-upload-notifier/internal/interfaces/websocket"
)

func InitRouter(hubInstance *hub.Hub, reg registry.Registry, publisher handler.EventPublisher, log logger.Logger) http.Handler {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	// Health check endpoint
	rootGroup.GET("/hub/status", func(c *gin.Context) {
		isRunning := hubInstance.IsRunning()

		status := http.StatusOK
		body := gin.H{
			"status":      "healthy",
			"hub_running": isRunning,
			"connections": hubInstance.ConnectionCount(),
		}

		registered, err := reg.Count(c.Request.Context())
		if err != nil {
			log.WithError(err).Warn("Hub status check: registry unavailable")
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		} else {
			body["registered"] = registered
		}
		if !isRunning {
			status = http.StatusServiceUnavailable
			body["status"] = "stopped"
		}

		c.JSON(status, body)
	})

	uploadHandler := handler.NewUploadHandler(publisher, log)
	apiGroup := rootGroup.Group("/api/v1/uploads")
	{
		apiGroup.POST("/events", uploadHandler.PublishEvent)
		apiGroup.POST("/s3-notifications", uploadHandler.PublishS3Notification)
	}

	sse.InitSSERouter(log, hubInstance, rootGroup)
	websocket.InitWebSocketRouter(log, hubInstance, rootGroup)

	return otelhttp.NewHandler(router, "notifier")
}
