package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/config"
	"github.com/CRT-AUTO/message-gateway/internal/http/middleware"
	"github.com/CRT-AUTO/message-gateway/internal/metrics"
	"github.com/CRT-AUTO/message-gateway/internal/repository"
	"github.com/CRT-AUTO/message-gateway/internal/service/intake"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) *Server {
	// repos (MySQL)
	queueRepo := repository.NewQueueRepository(mysqlDB)
	eventsRepo := repository.NewStatusLogRepository(mysqlDB)
	dlRepo := repository.NewDeadLetterRepository(mysqlDB)
	store := repository.NewPipelineStore(mysqlDB, queueRepo, eventsRepo, dlRepo)

	// repos (ClickHouse)
	chMessagesRepo := repository.NewCHMessagesRepository(clickhouseDB)

	// services
	intakeSvc := intake.New(store)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Intake.APIKey)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:user:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/messages", enqueueHandler(intakeSvc))
	v1.GET("/messages/:id", getMessageHandler(queueRepo, eventsRepo))
	v1.GET("/dead-letters", listDeadLettersHandler(dlRepo))
	v1.POST("/dead-letters/:id/replay", replayDeadLetterHandler(store))
	v1.GET("/reports/messages", listReportsHandler(chMessagesRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
