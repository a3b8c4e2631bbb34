// Package server exposes the health and status surface over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/guildstream/guildstream/internal/engine"
	"github.com/guildstream/guildstream/internal/gateway"
	"github.com/guildstream/guildstream/internal/healthcheck"
)

// StatusSource is the slice of the bridge the status endpoint reads.
type StatusSource interface {
	Status() gateway.Status
	Attempts() int
	BotIdentity() (id, name string)
	QueueDepth() int
	PendingInteractions() int
	ChannelStates() []engine.ChannelState
}

type Server struct {
	echo *echo.Echo
	addr string
}

type statusResponse struct {
	Connection          gateway.Status        `json:"connection"`
	Attempts            int                   `json:"attempts"`
	BotID               string                `json:"bot_id,omitempty"`
	BotName             string                `json:"bot_name,omitempty"`
	QueueDepth          int                   `json:"queue_depth"`
	PendingInteractions int                   `json:"pending_interactions"`
	Channels            []engine.ChannelState `json:"channels"`
}

type healthResponse struct {
	Status string                    `json:"status"`
	Checks []healthcheck.CheckResult `json:"checks"`
}

func NewServer(addr string, log *slog.Logger, source StatusSource, checkers ...healthcheck.Checker) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if log == nil {
		log = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		var results []healthcheck.CheckResult
		for _, checker := range checkers {
			results = append(results, checker.ListChecks(c.Request().Context())...)
		}
		resp := healthResponse{Status: healthcheck.StatusOK, Checks: results}
		code := http.StatusOK
		if !healthcheck.Healthy(results) {
			resp.Status = healthcheck.StatusError
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, resp)
	})

	e.GET("/status", func(c echo.Context) error {
		botID, botName := source.BotIdentity()
		channels := source.ChannelStates()
		if channels == nil {
			channels = []engine.ChannelState{}
		}
		return c.JSON(http.StatusOK, statusResponse{
			Connection:          source.Status(),
			Attempts:            source.Attempts(),
			BotID:               botID,
			BotName:             botName,
			QueueDepth:          source.QueueDepth(),
			PendingInteractions: source.PendingInteractions(),
			Channels:            channels,
		})
	})

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
