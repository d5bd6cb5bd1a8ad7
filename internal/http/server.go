package http

import (
	"context"
	"log"
	"net/http"

	"github.com/jmehdipour/event-relay/internal/config"
	"github.com/jmehdipour/event-relay/internal/http/middleware"
	"github.com/jmehdipour/event-relay/internal/logger"
	"github.com/jmehdipour/event-relay/internal/metrics"
	"github.com/jmehdipour/event-relay/internal/notify"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	notificationsRepo := repository.NewNotificationsRepository(mysqlDB)

	// repos (ClickHouse)
	archiveRepo := repository.NewArchiveRepository(clickhouseDB)

	// services
	sink := notify.NewService(notificationsRepo, rds, logger.L())

	directory := notify.NewHTTPDirectory(cfg.Directory.BaseURL, cfg.Directory.TimeoutMs)
	roles := notify.NewRoleCache(directory, cfg.Directory.CacheTTL,
		notify.WithFallback(cfg.Fallbacks),
		notify.WithLogger(logger.L()),
	)

	registry := notify.NewRegistry()
	notify.RegisterOrderHandlers(registry, roles)
	notify.RegisterUserHandlers(registry, roles)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// peer-to-peer surface
	internal := e.Group("/internal", middleware.ServiceTokenMiddleware(cfg.HTTP.ServiceToken))
	internal.POST("/events", receiveEventHandler(registry, sink))

	// notifications surface
	e.GET("/v1/notifications", listNotificationsHandler(notificationsRepo))
	e.POST("/v1/notifications/:id/read", markReadHandler(sink))

	// reporting
	e.GET("/v1/reports/events", listEventsHandler(archiveRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
