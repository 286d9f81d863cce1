package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agleyzer/trackprobe/internal/catalog"
	"github.com/agleyzer/trackprobe/internal/cluster"
	"github.com/agleyzer/trackprobe/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// ClusterInfo reports cluster membership for the health endpoint.
type ClusterInfo interface {
	Stats() map[string]interface{}
}

// Server serves the track catalog over HTTP
type Server struct {
	catalog    *catalog.Catalog
	prober     catalog.Fetcher
	metrics    *metrics.Metrics
	cluster    ClusterInfo
	port       int
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new HTTP server. prober is used by /probe, which inspects a
// playlist without registering it.
func New(cat *catalog.Catalog, prober catalog.Fetcher, met *metrics.Metrics, port int, logger *slog.Logger) *Server {
	return &Server{
		catalog: cat,
		prober:  prober,
		metrics: met,
		port:    port,
		logger:  logger,
	}
}

// WithCluster adds cluster state to health responses.
func (s *Server) WithCluster(info ClusterInfo) *Server {
	s.cluster = info
	return s
}

// Handler returns the router with all endpoints and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler(func() {
		s.metrics.SetSources(len(s.catalog.List()))
	}).ServeHTTP)
	r.Get("/probe", s.handleProbe)

	r.Route("/sources", func(r chi.Router) {
		r.Post("/", s.handleCreateSource)
		r.Get("/", s.handleListSources)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSource)
			r.Delete("/", s.handleDeleteSource)
			r.Post("/refresh", s.handleRefreshSource)
			r.Post("/access-log", s.handleAccessLog)
		})
	})

	return r
}

// Start starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"stats":  s.catalog.GetStats(),
	}
	if s.cluster != nil {
		health["cluster"] = s.cluster.Stats()
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	playlistURL := r.URL.Query().Get("url")
	if playlistURL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url query parameter is required"))
		return
	}
	if err := catalog.ValidateURL(playlistURL); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	m, err := s.prober.Fetch(r.Context(), playlistURL)
	s.metrics.ObserveProbe(m, err)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

type createSourceRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	src, err := s.catalog.Register(r.Context(), req.URL)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadGateway), err)
		return
	}

	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": s.catalog.List(),
	})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.catalog.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadGateway), err)
		return
	}

	writeJSON(w, http.StatusOK, src)
}

type accessLogRequest struct {
	URI string `json:"uri"`
}

func (s *Server) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	var req accessLogRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, errors.New("uri is required"))
		return
	}

	t, err := s.catalog.ObserveAccessLog(chi.URLParam(r, "id"), req.URI)
	if err != nil {
		writeError(w, statusFor(err, http.StatusInternalServerError), err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// statusFor maps catalog and cluster errors to HTTP status codes.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, catalog.ErrSourceNotFound), errors.Is(err, catalog.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, cluster.ErrNotLeader), errors.Is(err, cluster.ErrNotStarted), errors.Is(err, cluster.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return fallback
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// loggingMiddleware logs HTTP requests and records request metrics
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.metrics.ObserveRequest(r.Method, wrapped.statusCode, duration.Seconds())

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", duration,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
