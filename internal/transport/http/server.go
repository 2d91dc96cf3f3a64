package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat/internal/auth"
	"github.com/vovakirdan/roomchat/internal/config"
	"github.com/vovakirdan/roomchat/internal/core"
)

// NewServer builds the HTTP server: REST API under /api, the WebSocket
// endpoint at /ws and a health probe.
func NewServer(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, authService, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), RequestIDMiddleware(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(hub, logger)
	wsHandler := NewWSHandler(hub, WSOptions{
		MaxMessageBytes:    cfg.MaxMessageBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		ClientBuffer:       cfg.ClientBuffer,
		WriteTimeout:       cfg.WriteTimeout,
	}, logger)

	requireAuth := AuthMiddleware(authService, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)
	api.POST("/logout", apiHandlers.Logout)

	rooms := api.Group("/rooms", requireAuth)
	rooms.GET("", roomHandlers.ListRooms)
	rooms.POST("", roomHandlers.CreateRoom)
	rooms.GET("/:id/messages", roomHandlers.History)

	router.GET("/ws", requireAuth, wsHandler.Handle)

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
