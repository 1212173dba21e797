// Package server provides the HTTP REST API of the paper parser: submission,
// task status and streaming, literature reads, graph reads, and the upload
// presign surface.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/objectstore"
	"github.com/tyqqj0/paper-parser/internal/observability"
	"github.com/tyqqj0/paper-parser/internal/tasks"
)

// TaskStore is the task state surface the server reads and mutates.
type TaskStore interface {
	SaveTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	RequestCancel(ctx context.Context, taskID string) error
	Subscribe(ctx context.Context, taskID string) (<-chan *domain.TaskEvent, func())
}

// Queue enqueues accepted submissions for the workers.
type Queue interface {
	Enqueue(ctx context.Context, msg *tasks.QueueMessage) error
}

// GraphReader is the read-side graph surface plus the phase-1 alias lookup
// used by submission fast-pathing.
type GraphReader interface {
	ResolveAlias(ctx context.Context, aliasType domain.AliasType, value string) (string, error)
	GetLiterature(ctx context.Context, lid string) (*domain.Literature, error)
	BatchGet(ctx context.Context, lids []string) ([]*domain.Literature, error)
	Neighborhood(ctx context.Context, seeds []string, depth int) (*domain.Graph, error)
}

// Uploader issues presigned upload URLs.
type Uploader interface {
	PresignUpload(ctx context.Context, req objectstore.UploadRequest) (*objectstore.PresignedUpload, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      TaskStore
	queue      Queue
	graph      GraphReader
	uploader   Uploader
	metrics    *observability.Metrics
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewServer creates an HTTP server with all dependencies. uploader may be
// nil, in which case the presign endpoint reports unavailable.
func NewServer(
	cfg Config,
	store TaskStore,
	queue Queue,
	graph GraphReader,
	uploader Uploader,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		store:    store,
		queue:    queue,
		graph:    graph,
		uploader: uploader,
		metrics:  metrics,
		validate: validator.New(),
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter(cfg.MetricsPath)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter(metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogMiddleware(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Handle(metricsPath, promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/resolve", s.submitHandler)

		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", s.getTaskHandler)
			r.Delete("/", s.cancelTaskHandler)
			r.Get("/stream", s.streamTaskHandler)
		})

		r.Get("/literatures/by-identifier", s.byIdentifierHandler)
		r.Post("/literatures/batch", s.batchGetHandler)
		r.Route("/literatures/{lid}", func(r chi.Router) {
			r.Get("/", s.getLiteratureHandler)
			r.Get("/fulltext", s.getFulltextHandler)
		})

		r.Get("/graphs", s.graphHandler)

		r.Post("/uploads/presign", s.presignHandler)
	})

	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler verifies the graph store answers reads.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.graph.ResolveAlias(ctx, domain.AliasDOI, "10.0000/readiness-probe"); err != nil && domain.KindOf(err) != domain.KindNotFound {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestLogMiddleware logs one line per request.
func requestLogMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(started)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request handled")
		})
	}
}
