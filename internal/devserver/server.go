// Package devserver runs the development proxy in front of the
// application server and the dashboard next to it.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/mediapack/internal/adminui"
	"github.com/fluxbase-eu/mediapack/internal/livereload"
	"github.com/fluxbase-eu/mediapack/internal/middleware"
	"github.com/fluxbase-eu/mediapack/internal/observability"
	"github.com/fluxbase-eu/mediapack/internal/pipeline"
	"github.com/fluxbase-eu/mediapack/internal/watch"
)

// Routes owned by the proxy; everything else goes upstream.
const (
	ClientScriptPath = "/__mediapack/client.js"
	LiveReloadPath   = "/__mediapack/livereload"
)

// ShutdownTimeout bounds graceful shutdown of both apps.
const ShutdownTimeout = 5 * time.Second

// BuildStatus describes the most recent build.
type BuildStatus struct {
	Time       time.Time `json:"time"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	Bundles    int       `json:"bundles"`
	DurationMS int64     `json:"duration_ms"`
}

// Status is returned by GET /api/status.
type Status struct {
	Mode          string       `json:"mode"`
	Upstream      string       `json:"upstream"`
	ProxyURL      string       `json:"proxy_url"`
	Clients       int          `json:"clients"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	LastBuild     *BuildStatus `json:"last_build,omitempty"`
	Watch         *watch.Stats `json:"watch,omitempty"`
}

// Server is the development server: a proxy app and a UI app.
type Server struct {
	cfg        pipeline.ServerConfig
	mode       string
	outputRoot string
	upstream   string

	hub      *livereload.Hub
	reloader *livereload.Reloader
	metrics  *observability.Metrics
	tracing  bool
	opener   func(url string) error

	proxyApp *fiber.App
	uiApp    *fiber.App

	started   time.Time
	mu         sync.RWMutex
	lastBuild  *BuildStatus
	watchStats func() watch.Stats
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records HTTP and reload metrics and serves them on the UI app.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracing adds request spans to the proxy app.
func WithTracing(enabled bool) Option {
	return func(s *Server) { s.tracing = enabled }
}

// WithOpener replaces the function that opens the browser.
func WithOpener(open func(url string) error) Option {
	return func(s *Server) { s.opener = open }
}

// New creates a server for the assembled pipeline config.
func New(cfg *pipeline.Config, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg.Server,
		mode:       string(cfg.Mode),
		outputRoot: cfg.Output.Root,
		upstream:   normalizeUpstream(cfg.Server.ProxyURL),
		hub:        livereload.NewHub(),
		opener:     openBrowser,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics != nil {
		s.hub.SetMetrics(s.metrics)
	}
	s.reloader = livereload.NewReloader(s.hub, s.cfg.ReloadDebounce, s.cfg.ReloadDelay, s.cfg.Notify)
	s.proxyApp = s.newProxyApp()
	s.uiApp = s.newUIApp()
	return s
}

func newApp(name string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	// Recover middleware - catch panics
	app.Use(recover.New(recover.Config{
		EnableStackTrace: zerolog.GlobalLevel() <= zerolog.DebugLevel,
	}))
	return app
}

func (s *Server) newProxyApp() *fiber.App {
	app := newApp("mediapack proxy")

	logCfg := middleware.DefaultStructuredLoggerConfig()
	logCfg.Name = "proxy"
	logCfg.SkipPrefixes = []string{s.cfg.StaticRoute + "/"}
	app.Use(middleware.StructuredLogger(logCfg))
	if s.metrics != nil {
		app.Use(s.metrics.MetricsMiddleware())
	}
	if s.tracing {
		app.Use(middleware.TracingMiddleware(middleware.DefaultTracingConfig()))
	}

	lr := livereload.NewHandler(s.hub)
	app.Get(ClientScriptPath, lr.HandleClientScript)
	app.Get(LiveReloadPath, lr.HandleWebSocket)

	app.Use(s.cfg.StaticRoute, filesystem.New(filesystem.Config{
		Root:   http.Dir(s.outputRoot),
		Browse: false,
	}))

	app.All("/*", s.handleProxy)
	return app
}

func (s *Server) newUIApp() *fiber.App {
	app := newApp("mediapack ui")

	logCfg := middleware.DefaultStructuredLoggerConfig()
	logCfg.Name = "ui"
	logCfg.SkipSuccessfulRequests = true
	app.Use(middleware.StructuredLogger(logCfg))

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/clients", s.handleClients)
	api.Post("/reload", s.handleReload)
	if s.metrics != nil {
		app.Get("/metrics", s.metrics.Handler())
	}

	adminui.New("/").RegisterRoutes(app)
	return app
}

// ProxyApp returns the app served on the proxy port.
func (s *Server) ProxyApp() *fiber.App { return s.proxyApp }

// UIApp returns the app served on the UI port.
func (s *Server) UIApp() *fiber.App { return s.uiApp }

// Hub returns the live reload hub.
func (s *Server) Hub() *livereload.Hub { return s.hub }

// LocalURL is the address browsers should open.
func (s *Server) LocalURL() string {
	return fmt.Sprintf("http://localhost:%d", s.cfg.Port)
}

// UIURL is the dashboard address.
func (s *Server) UIURL() string {
	return fmt.Sprintf("http://localhost:%d", s.cfg.UIPort)
}

// RecordBuild stores the outcome of a build for the dashboard.
func (s *Server) RecordBuild(result *pipeline.Result, err error) {
	status := &BuildStatus{Time: time.Now().UTC(), OK: err == nil}
	if err != nil {
		status.Error = err.Error()
	}
	if result != nil {
		status.Bundles = len(result.Bundles)
		status.DurationMS = result.Duration.Milliseconds()
	}

	s.mu.Lock()
	s.lastBuild = status
	s.mu.Unlock()
}

// SetWatchStats reports the file watcher's activity in the status.
func (s *Server) SetWatchStats(stats func() watch.Stats) {
	s.mu.Lock()
	s.watchStats = stats
	s.mu.Unlock()
}

// Rebuilt records a watch-triggered build and schedules a browser reload
// when it succeeded. Only style sources changed means a stylesheet swap.
func (s *Server) Rebuilt(changed []string, result *pipeline.Result, err error) {
	s.RecordBuild(result, err)
	if err != nil {
		return
	}
	s.reloader.Trigger(livereload.KindFor(changed), changed...)
}

// Reload schedules a reload of the given type.
func (s *Server) Reload(kind livereload.MessageType) {
	s.reloader.Trigger(kind)
}

// Status reports the server state.
func (s *Server) Status() Status {
	s.mu.RLock()
	last := s.lastBuild
	watchStats := s.watchStats
	s.mu.RUnlock()

	status := Status{
		Mode:          s.mode,
		Upstream:      s.upstream,
		ProxyURL:      s.LocalURL(),
		Clients:       s.hub.Count(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		LastBuild:     last,
	}
	if watchStats != nil {
		stats := watchStats()
		status.Watch = &stats
	}
	return status
}

// Start listens on both ports and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	proxyLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("proxy port %d: %w", s.cfg.Port, err)
	}
	uiLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.UIPort))
	if err != nil {
		_ = proxyLn.Close()
		return fmt.Errorf("ui port %d: %w", s.cfg.UIPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.proxyApp.Listener(proxyLn) })
	g.Go(func() error { return s.uiApp.Listener(uiLn) })
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	if s.metrics != nil {
		go s.reportUptime(gctx)
	}

	log.Info().
		Str("local", s.LocalURL()).
		Str("ui", s.UIURL()).
		Str("upstream", s.upstream).
		Msg("Dev server started")

	if s.cfg.OpenBrowser {
		if err := s.opener(s.LocalURL()); err != nil {
			log.Warn().Err(err).Str("url", s.LocalURL()).Msg("Failed to open browser")
		}
	}

	return g.Wait()
}

func (s *Server) shutdown() error {
	log.Info().Msg("Shutting down dev server")
	s.reloader.Stop()
	s.hub.Shutdown()

	var errs []error
	if err := s.proxyApp.ShutdownWithTimeout(ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("proxy: %w", err))
	}
	if err := s.uiApp.ShutdownWithTimeout(ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("ui: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) reportUptime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.UpdateUptime(s.started)
		}
	}
}

// normalizeUpstream turns "localhost:8080" into "http://localhost:8080".
func normalizeUpstream(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	return raw
}

// errorHandler handles errors for both apps
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
