package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/lightning-tracker/internal/coverage"
	"github.com/couchcryptid/lightning-tracker/internal/domain"
	"github.com/couchcryptid/lightning-tracker/internal/service"
)

// StatusReporter provides the tracker state served on /api/v1/status.
type StatusReporter interface {
	Status() service.Status
}

// Server exposes health, readiness, metrics and status HTTP endpoints.
type Server struct {
	httpServer *http.Server
	topics     domain.Topics
	budget     int
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /api/v1/status and /api/v1/coverage routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, status StatusReporter, topics domain.Topics, budget int, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		topics: topics,
		budget: budget,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		sharedobs.WriteJSON(w, http.StatusOK, status.Status())
	})
	mux.HandleFunc("GET /api/v1/coverage", s.handleCoverage)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type coverageResponse struct {
	Center    domain.GeoPoint `json:"center"`
	RadiusKm  float64         `json:"radius_km"`
	Precision int             `json:"precision"`
	Tiles     []string        `json:"tiles"`
	Filters   []string        `json:"filters"`
}

// handleCoverage previews the tiles a point and radius would subscribe.
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	radius, errRadius := strconv.ParseFloat(q.Get("radius_km"), 64)
	if err := errors.Join(errLat, errLon, errRadius); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "lat, lon and radius_km must be numbers"})
		return
	}

	center := domain.GeoPoint{Lat: lat, Lon: lon}
	cov, err := coverage.Solve(center, radius, s.budget)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	filters := make([]string, len(cov.Tiles))
	for i, tile := range cov.Tiles {
		filters[i] = s.topics.Filter(tile)
	}
	sharedobs.WriteJSON(w, http.StatusOK, coverageResponse{
		Center:    center,
		RadiusKm:  radius,
		Precision: cov.Precision,
		Tiles:     cov.Tiles,
		Filters:   filters,
	})
}
