package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/capture"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/health"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/service"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/state"
)

// LoopView is the read side of the capture loop the server needs
type LoopView interface {
	Status() capture.Status
	LatestFrame() (string, time.Time, bool)
}

// FrameLister lists indexed frames
type FrameLister interface {
	ListFrames(ctx context.Context, limit int, detectedOnly bool) ([]state.FrameRecord, error)
	CountFrames(ctx context.Context) (int, error)
}

// Server represents the status web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	router     *gin.Engine
	httpServer *http.Server
	health     *health.Manager
	loop       LoopView
	frames     FrameLister // optional
	version    string
	startTime  time.Time

	routesOnce sync.Once
	mu         sync.Mutex
	addr       net.Addr
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies sets the health manager and the capture loop
func (s *Server) SetDependencies(hm *health.Manager, loop LoopView) {
	s.health = hm
	s.loop = loop
}

// SetFrameLister enables the frame listing endpoint
func (s *Server) SetFrameLister(frames FrameLister) {
	s.frames = frames
}

// Handler returns the router with all routes registered
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start binds the listen address and serves in a goroutine. A bind failure
// is returned, so a busy port fails startup.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/health/ready", s.handleReadiness)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)

		frames := api.Group("/frames")
		{
			frames.GET("", s.handleListFrames)
			frames.GET("/latest", s.handleLatestFrame)
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
