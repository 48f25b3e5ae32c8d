package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mchat/internal/config"
	"github.com/vovakirdan/mchat/internal/server"
	"github.com/vovakirdan/mchat/internal/store"
)

// NewServer builds the admin HTTP server: health, room inspection, stats,
// Prometheus metrics and the /ws protocol bridge.
func NewServer(srv *server.Server, st store.MessageStore, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapH(NewWSHandler(srv, logger)))

	rooms := NewRoomHandlers(srv.Registry(), st, logger)
	api := router.Group("/api", RateLimitMiddleware(cfg.APIRateLimit))
	{
		api.GET("/stats", rooms.Stats)
		api.GET("/chats", rooms.ListRooms)
		api.GET("/chats/:name/messages", rooms.RoomMessages)
	}

	return &stdhttp.Server{
		Addr:              cfg.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	_, _ = fmt.Fprint(c.Writer, "ok")
}
