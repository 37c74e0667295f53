package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/oob-signer/internal/config"
	"github.com/jmehdipour/oob-signer/internal/http/middleware"
	"github.com/jmehdipour/oob-signer/internal/metrics"
	"github.com/jmehdipour/oob-signer/internal/repository"
	"github.com/jmehdipour/oob-signer/internal/service/relay"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// NewServer wires the relay routes. reports and rds may be nil: reporting
// then answers 503 and rate limiting is off.
func NewServer(cfg config.Config, svc *relay.Service, reports repository.CHSessionsRepository, rds *redis.Client, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))

	bodyLimit := cfg.Relay.MaxPayloadBytes
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}
	e.Use(
		echoMid.Recover(),
		echoMid.Logger(),
		echoMid.CORS(),
		echoMid.BodyLimit(bytes.Format(bodyLimit)),
	)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Relay.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      cfg.Relay.KeyPrefix + "rl:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	g := e.Group("", rlMW)
	g.POST("/preconnect/:id", postPreconnectHandler(svc))
	g.GET("/preconnect/:id", getPreconnectHandler(svc))
	g.POST("/result/:id", postResultHandler(svc), authMW)
	g.GET("/result/:id", getResultHandler(svc))

	v1 := e.Group("/v1", authMW)
	v1.GET("/reports/sessions", listSessionsHandler(reports))

	return &Server{e: e, log: logger}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
