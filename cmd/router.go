package main

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/live-relay/internal/config"
	"github.com/weiawesome/wes-io-live/live-relay/internal/handler"
	pkglog "github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

func newRouter(cfg *config.Config, logger zerolog.Logger, gatherer prometheus.Gatherer, ws *handler.WSHandler, api *handler.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger, "/health", cfg.Metrics.Path))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.AllowWebSockets = true
	r.Use(cors.New(corsConfig))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"rooms":   api.RoomCount(),
			"clients": ws.ClientCount(),
		})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	ws.RegisterRoutes(r)
	api.RegisterRoutes(r)
	return r
}
