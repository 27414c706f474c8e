package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/dukerupert/hearth"
	"github.com/dukerupert/hearth/internal/metrics"
	"github.com/dukerupert/hearth/internal/middleware"
	"github.com/dukerupert/hearth/internal/validation"
	"github.com/dukerupert/hearth/media"
	"github.com/labstack/echo/v4"
)

// Server represents the HTTP server with all its dependencies.
type Server struct {
	echo   *echo.Echo
	ln     net.Listener
	logger *slog.Logger

	// Configuration
	Addr string

	// SignedURLMinutes is the default validity of signed URLs.
	SignedURLMinutes int

	// MaxUploadBytes caps each file of a multipart upload.
	MaxUploadBytes int64

	// Media pipeline
	pipeline *media.Pipeline
	resolver *media.Resolver

	// Domain services
	assetService hearth.AssetService

	// Optional collaborators
	metrics        *metrics.Metrics
	uploadLimiter  *middleware.RateLimiter
	uploadsHandler http.Handler
	ready          func(ctx context.Context) error
}

// Config holds the configuration for creating a new Server.
type Config struct {
	Addr   string
	Logger *slog.Logger

	SignedURLMinutes int
	MaxUploadBytes   int64

	// Media pipeline
	Pipeline *media.Pipeline
	Resolver *media.Resolver

	// Domain services
	AssetService hearth.AssetService

	// Metrics, when set, instruments requests and serves /metrics.
	Metrics *metrics.Metrics

	// UploadLimiter, when set, throttles upload routes per client IP.
	UploadLimiter *middleware.RateLimiter

	// UploadsHandler, when set, serves stored objects under /uploads/.
	// Used by the local disk store.
	UploadsHandler http.Handler

	// Ready reports whether dependencies are reachable for /health/ready.
	Ready func(ctx context.Context) error
}

// NewServer creates a new HTTP server with the given configuration.
func NewServer(cfg Config) *Server {
	s := &Server{
		Addr:             cfg.Addr,
		logger:           cfg.Logger,
		SignedURLMinutes: cfg.SignedURLMinutes,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		pipeline:         cfg.Pipeline,
		resolver:         cfg.Resolver,
		assetService:     cfg.AssetService,
		metrics:          cfg.Metrics,
		uploadLimiter:    cfg.UploadLimiter,
		uploadsHandler:   cfg.UploadsHandler,
		ready:            cfg.Ready,
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.SignedURLMinutes <= 0 {
		s.SignedURLMinutes = DefaultSignedURLMinutes
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = hearth.MaxUploadSize
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Validator = validation.NewValidator()

	// Register middleware and routes
	s.registerMiddleware()
	s.registerRoutes()

	return s
}

// Echo returns the underlying Echo instance.
// Use sparingly - prefer registering routes through Server methods.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Open starts the HTTP server.
func (s *Server) Open() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		if err := s.echo.Server.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("server started", slog.String("addr", s.ln.Addr().String()))
	return nil
}

// Close gracefully shuts down the HTTP server.
func (s *Server) Close(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// URL returns the URL of the server.
func (s *Server) URL() string {
	if s.ln == nil {
		return ""
	}
	return "http://" + s.ln.Addr().String()
}
