package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/fastzet/metastream/internal/health"
	"github.com/fastzet/metastream/internal/querycache"
)

// Pager serves result pages.
type Pager interface {
	GetPage(ctx context.Context, query string, page int) querycache.Page
}

// StatusFunc lists the providers with their last health status.
type StatusFunc func() []health.Status

// ProvidersResponse is the body of GET /api/providers.
type ProvidersResponse struct {
	Providers []health.Status `json:"providers"`
}

// Option adds routes to a Server.
type Option func(*Server)

// WithSearch serves GET /api/search?q=&page= from p.
func WithSearch(p Pager) Option {
	return func(s *Server) {
		s.Handle("/api/search", searchHandler(p), http.MethodGet)
	}
}

// WithProviders serves GET /api/providers from fn.
func WithProviders(fn StatusFunc) Option {
	return func(s *Server) {
		s.Handle("/api/providers", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, ProvidersResponse{Providers: fn()})
		}), http.MethodGet)
	}
}

// WithMetrics serves h, typically promhttp, on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.Handle("/metrics", h, http.MethodGet)
	}
}

func searchHandler(p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			respondError(w, http.StatusBadRequest, "missing query parameter: q")
			return
		}

		page := 1
		if raw := r.URL.Query().Get("page"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				respondError(w, http.StatusBadRequest, "page must be a positive integer")
				return
			}
			page = n
		}

		respondJSON(w, http.StatusOK, p.GetPage(r.Context(), query, page))
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
