// Package api serves the detection feed over HTTP: JSON endpoints for the
// dashboard widgets and a server-sent event stream of feed changes.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/madello/paarvai/internal/camera"
	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
)

const (
	DefaultListen          = ":8080"
	DefaultSSEHeartbeat    = 15 * time.Second
	DefaultSSEBuffer       = 64
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "64K"

	apiPrefix = "/api/v1"
)

// Feed is the feed service surface the API uses. *feed.Service satisfies it.
type Feed interface {
	Snapshot(ctx context.Context) (feed.Snapshot, error)
	Records(ctx context.Context) ([]detection.Record, error)
	Select(ctx context.Context, id string) error
	SetFilter(ctx context.Context, u feed.FilterUpdate) error
	ResetFilter(ctx context.Context) error
	Subscribe(buffer int) *feed.Subscription
	Unsubscribe(id string)
	Stats() feed.ServiceStats
}

// Cameras is the camera registry surface. *camera.Registry satisfies it.
type Cameras interface {
	List() []camera.Camera
	Get(id string) (camera.Camera, error)
	SetStatus(id string, status detection.LiveStatus) error
}

// MetricsRecorder receives HTTP metrics.
type MetricsRecorder interface {
	RecordRequest(method, path string, status int, took time.Duration)
	SSEConnected() func()
	RecordSSEMessage()
}

// Config configures the HTTP server.
type Config struct {
	Listen       string
	SSEHeartbeat time.Duration
	SSEBuffer    int
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit       float64
	RateBurst       int
	ShutdownTimeout time.Duration
	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string
	// Location buckets trend data and formats dates. Nil uses time.Local.
	Location *time.Location
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the HTTP metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithCameras enables the camera endpoints.
func WithCameras(c Cameras) Option {
	return func(s *Server) {
		s.cameras = c
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server is the HTTP front end of the detection feed.
type Server struct {
	cfg            Config
	echo           *echo.Echo
	feed           Feed
	cameras        Cameras
	metrics        MetricsRecorder
	metricsHandler http.Handler
	log            logger.Logger
	now            func() time.Time
	startTime      time.Time

	// ctx ends open event streams on shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the server and registers its routes.
func New(f Feed, cfg Config, opts ...Option) (*Server, error) {
	if f == nil {
		return nil, errors.Newf("api server requires a feed").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.SSEHeartbeat <= 0 {
		cfg.SSEHeartbeat = DefaultSSEHeartbeat
	}
	if cfg.SSEBuffer <= 0 {
		cfg.SSEBuffer = DefaultSSEBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		feed:   f,
		log:    logger.Global().Module("api"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startTime = s.now()

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("http server initialized",
		logger.String("listen", cfg.Listen),
		logger.Bool("metrics", s.metricsHandler != nil),
		logger.Bool("cameras", s.cameras != nil))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: generateRequestID,
	}))
	s.echo.Use(s.requestLogger())
	if s.metrics != nil {
		s.echo.Use(s.metricsMiddleware())
	}
	s.echo.Use(newCORS(s.cfg.AllowedOrigins))
	s.echo.Use(newSecureHeaders())
	s.echo.Use(echomw.BodyLimit(DefaultBodyLimit))
	s.echo.Use(echomw.GzipWithConfig(echomw.GzipConfig{
		Skipper: isStreamRequest,
	}))
	if s.cfg.RateLimit > 0 {
		s.echo.Use(newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst))
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	g := s.echo.Group(apiPrefix)
	g.GET("/feed", s.getFeed)
	g.GET("/records", s.listRecords)
	g.GET("/records/:id", s.getRecord)

	g.GET("/selection", s.getSelection)
	g.PUT("/selection", s.putSelection)
	g.DELETE("/selection", s.deleteSelection)

	g.GET("/filter", s.getFilter)
	g.PATCH("/filter", s.patchFilter)
	g.DELETE("/filter", s.deleteFilter)

	g.GET("/locations", s.listLocations)
	g.GET("/stats", s.getStats)
	g.GET("/trend", s.getTrend)
	g.GET("/alerts", s.listAlerts)

	if s.cameras != nil {
		g.GET("/cameras", s.listCameras)
		g.GET("/cameras/:id", s.getCamera)
		g.PUT("/cameras/:id/status", s.putCameraStatus)
	}

	g.GET("/stream", s.streamFeed)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting http server", logger.String("listen", s.cfg.Listen))
		if err := s.echo.Start(s.cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.New(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("listen", s.cfg.Listen).
				Build()
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown ends event streams and stops the listener.
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryTimeout).
			Timing("shutdown", s.cfg.ShutdownTimeout).
			Build()
	}
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := s.now().Sub(s.startTime)
	stats := s.feed.Stats()

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"revision":       stats.Revision,
		"subscribers":    stats.Subscribers,
		"timestamp":      s.now().Format(time.RFC3339),
	})
}
