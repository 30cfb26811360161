package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iwasamnot/campuschat/internal/auth"
	"github.com/iwasamnot/campuschat/internal/gateway"
)

// Dependencies holds all handler instances and middleware for route wiring.
type Dependencies struct {
	Messages  *MessageHandler
	Directory *DirectoryHandler
	Uploads   *UploadHandler
	Gateway   *gateway.Manager

	TokenService *auth.TokenService
}

// SetupRouter registers all API routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket gateway
	e.GET("/gateway", deps.Gateway.HandleWebSocket)

	v1 := e.Group("/api/v1")

	// Protected routes require JWT auth.
	authMw := deps.TokenService.Middleware()
	protected := v1.Group("", authMw)

	// Messages
	protected.POST("/messages", deps.Messages.SendMessage)
	protected.GET("/messages", deps.Messages.GetMessages)
	protected.GET("/messages/:id", deps.Messages.GetMessage)
	protected.PATCH("/messages/:id", deps.Messages.EditMessage)
	protected.DELETE("/messages/:id", deps.Messages.DeleteMessage)
	protected.PUT("/messages/:id/reactions", deps.Messages.ToggleReaction)
	protected.PUT("/messages/:id/pin", deps.Messages.TogglePin)
	protected.POST("/messages/:id/ack", deps.Messages.AckRead)
	protected.GET("/messages/:id/thread", deps.Messages.GetThread)

	// Pins
	protected.GET("/pins", deps.Messages.GetPinned)

	// Typing
	protected.POST("/typing", deps.Messages.Typing)
	protected.GET("/typing", deps.Directory.TypingUsers)

	// Directory
	protected.GET("/directory", deps.Directory.ListUsers)
	protected.GET("/directory/:id", deps.Directory.GetUser)

	// Attachments
	protected.POST("/attachments", deps.Uploads.Upload)
}
