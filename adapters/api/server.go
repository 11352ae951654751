package api

import (
	"net/http"

	"patchcert/adapters/bounds"
	"patchcert/domain/grid"
	"patchcert/internal"
	"patchcert/internal/metrics"
	"patchcert/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Defaults are the defense settings used when a request does not override them.
type Defaults struct {
	Params bounds.Params
	Window grid.WindowShape
}

// Server exposes certification and prediction over HTTP.
type Server struct {
	router   *gin.Engine
	defaults Defaults
	repo     ports.ResultRepository // optional
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *internal.Logger
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithRepository enables the /v1/runs endpoints.
func WithRepository(repo ports.ResultRepository) Option {
	return func(s *Server) { s.repo = repo }
}

// WithMetrics records verdicts and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithLogger overrides the LOG_LEVEL logger.
func WithLogger(logger *internal.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server and registers its routes.
func NewServer(defaults Defaults, opts ...Option) *Server {
	s := &Server{
		router:   gin.New(),
		defaults: defaults,
		logger:   internal.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("api")
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/v1")
	v1.POST("/certify", s.handleCertify)
	v1.POST("/predict", s.handlePredict)
	v1.POST("/window", s.handleWindow)
	if s.repo != nil {
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/results", s.handleListResults)
	}
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening on %s (model=%s window=%s)", addr, s.defaults.Params.Model, s.defaults.Window)
	return s.router.Run(addr)
}
