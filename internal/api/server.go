package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/transcriptd/internal/events"
	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/summary"
)

// JobRunner defines the interface for submitting and cancelling transcription work
type JobRunner interface {
	Submit(ctx context.Context, jobID, inputPath string)
	Cancel(jobID string) bool
}

// SummaryService defines the interface for summary generation
type SummaryService interface {
	Summarize(ctx context.Context, req summary.Request) (json.RawMessage, bool, error)
}

// DeviceProbe reports whether an accelerated device is usable.
type DeviceProbe interface {
	HasAcceleratedDevice() bool
}

// AssetProbe reports whether the VAD assets are on disk.
type AssetProbe interface {
	Detect() (bool, []string)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token. Empty disables auth (local single-user
	// deployments).
	APIKey          string
	MaxUploadBytes  int64
	DefaultModel    string
	DefaultDevice   string
	DefaultBeamSize int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	store     *jobs.Store
	runner    JobRunner
	summaries SummaryService
	hub       *events.Hub
	device    DeviceProbe
	assets    AssetProbe
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, store *jobs.Store, runner JobRunner, summaries SummaryService, hub *events.Hub, device DeviceProbe, assets AssetProbe, logger *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 512 << 20
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "medium"
	}
	if config.DefaultDevice == "" {
		config.DefaultDevice = "auto"
	}
	if config.DefaultBeamSize <= 0 {
		config.DefaultBeamSize = 5
	}
	return &Server{
		config:    config,
		store:     store,
		runner:    runner,
		summaries: summaries,
		hub:       hub,
		device:    device,
		assets:    assets,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // uploads can be large and slow
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/transcribe", s.handleTranscribe)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Get("/files/{jobID}/{artifact}", s.handleDownload)
		r.Post("/summarize", s.handleSummarize)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
