package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"migration_dash/internal/cache"
	"migration_dash/internal/domain"
)

const (
	statsCacheKey = "api:stats"

	defaultReloadInterval = 10 * time.Minute
)

// StatsProvider is the part of the stats service the dashboard depends on.
type StatsProvider interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
	Refresh(ctx context.Context) (*domain.Snapshot, error)
	CacheStatus() cache.Lookup
}

type Options struct {
	ResponseCache        ResponseCache
	RefreshRatePerMinute float64
	MetricsEnabled       bool
	// ReloadInterval is how often the dashboard page reloads itself. Defaults to 10m.
	ReloadInterval time.Duration
}

type Server struct {
	stats     StatsProvider
	responses ResponseCache
	limiter   *rate.Limiter
	metrics   bool
	reload    time.Duration
	logger    *slog.Logger
}

func NewServer(stats StatsProvider, opts Options, logger *slog.Logger) *Server {
	responses := opts.ResponseCache
	if responses == nil {
		responses = noopResponseCache{}
	}
	reload := opts.ReloadInterval
	if reload <= 0 {
		reload = defaultReloadInterval
	}
	perMinute := opts.RefreshRatePerMinute
	if perMinute <= 0 {
		perMinute = 2
	}

	return &Server{
		stats:     stats,
		responses: responses,
		limiter:   rate.NewLimiter(rate.Limit(perMinute/60), max(int(perMinute), 1)),
		metrics:   opts.MetricsEnabled,
		reload:    reload,
		logger:    logger.With("component", "http"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return withRequestID(withMetrics(s.logger, mux))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	snapshot, err := s.stats.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("dashboard unavailable", "error", err, "request_id", RequestID(r.Context()))
		w.WriteHeader(http.StatusServiceUnavailable)
		if err := renderPage(w, nil, errorMessage(err), s.reloadSeconds()); err != nil {
			s.logger.Error("failed to render error page", "error", err)
		}
		return
	}

	if err := renderPage(w, snapshot, "", s.reloadSeconds()); err != nil {
		s.logger.Error("failed to render dashboard", "error", err)
	}
}

func (s *Server) reloadSeconds() int {
	return max(int(s.reload.Seconds()), 1)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if body, ok := s.responses.Get(statsCacheKey); ok {
		writeJSONBody(w, http.StatusOK, body)
		return
	}

	snapshot, err := s.stats.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("stats unavailable", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errorMessage(err)})
		return
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "encode snapshot"})
		return
	}
	s.responses.Set(statsCacheKey, body)
	writeJSONBody(w, http.StatusOK, body)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "refresh rate limit exceeded"})
		return
	}

	snapshot, err := s.stats.Refresh(r.Context())
	if err != nil {
		s.logger.Error("forced refresh failed", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errorMessage(err)})
		return
	}

	s.responses.Del(statsCacheKey)
	writeJSON(w, http.StatusOK, snapshot)
}

type healthResponse struct {
	Status          string  `json:"status"`
	Cache           string  `json:"cache"`
	CacheAgeSeconds float64 `json:"cache_age_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	lookup := s.stats.CacheStatus()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Cache:           lookup.Status.String(),
		CacheAgeSeconds: lookup.Age.Round(time.Second).Seconds(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorMessage(err error) string {
	var repoErr *domain.RepositoryError
	if errors.As(err, &repoErr) {
		return "database unavailable: " + repoErr.Op
	}
	return "statistics could not be computed"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	writeJSONBody(w, status, body)
}

func writeJSONBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
