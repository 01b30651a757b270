package proxy

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"searchcore/pkg/client"
	"searchcore/pkg/log"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is an HTTP gateway that forwards requests to the search cluster
// through a client.Client.
type Server struct {
	client                  *client.Client
	gracefulShutdownTimeout time.Duration
	echo                    *echo.Echo
}

func NewProxyServer(searchClient *client.Client, gracefulShutdownTimeout time.Duration) *Server {
	s := &Server{
		client:                  searchClient,
		gracefulShutdownTimeout: gracefulShutdownTimeout,
		echo:                    echo.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) Start(addr string) error {
	go func() {
		log.Info().Str("addr", addr).Msg("Starting search proxy")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.gracefulShutdownTimeout)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:       true,
		LogURI:          true,
		LogStatus:       true,
		LogLatency:      true,
		LogResponseSize: true,
		LogError:        true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Debug()
			if v.Error != nil {
				event = log.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("size", humanize.Bytes(uint64(max(v.ResponseSize, 0)))).
				Msg("Request served")
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.GET("/health", s.HealthHandler)
	s.echo.GET("/nodes", s.NodesHandler)
	s.echo.GET("/collections/:collection/documents/search", s.SearchHandler)
	s.echo.POST("/multi_search", s.MultiSearchHandler)
	s.echo.Any("/*", s.PassthroughHandler)
}
