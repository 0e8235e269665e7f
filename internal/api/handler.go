// Package api provides the HTTP handlers for the metrics gateway REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"metricgate/internal/domain"
	"metricgate/internal/gateway"
	"metricgate/internal/history"
	"metricgate/internal/middleware"
)

// HistoryLister reads back recorded queries. Nil disables /v1/history.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Handler serves the gateway's REST surface.
type Handler struct {
	gw        *gateway.Service
	history   HistoryLister
	logger    *slog.Logger
	startTime time.Time
}

// NewHandler creates a Handler. history may be nil.
func NewHandler(gw *gateway.Service, hist HistoryLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gw:        gw,
		history:   hist,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RouterConfig holds the HTTP-level knobs the router needs.
type RouterConfig struct {
	Auth        middleware.AuthConfig
	CORSOrigins []string
}

// NewRouter assembles the chi router. Health and catalog stay open; query
// operations go through the bearer-token gate when auth is configured.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		}))
	}

	r.Get("/health", h.Health)
	r.Get("/v1/catalog", h.Catalog)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth))
		r.Post("/v1/query", h.Query)
		r.Post("/v1/ask", h.Ask)
		r.Get("/v1/history", h.History)
	})

	return r
}

// Health reports readiness and catalog size.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"catalog_size":   h.gw.Catalog().Size(),
	})
}

// Catalog lists the allow-listed metrics and dimensions.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	cat := h.gw.Catalog()
	metrics := make([]domain.CatalogEntry, 0)
	dimensions := make([]domain.CatalogEntry, 0)
	for _, e := range cat.Entries() {
		switch e.Kind {
		case domain.KindMetric:
			metrics = append(metrics, e)
		case domain.KindDimension:
			dimensions = append(dimensions, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":    metrics,
		"dimensions": dimensions,
	})
}

type askRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit,omitempty"`
}

// Ask handles the natural-language operation: question in, plan + rows +
// explanation out.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if req.Question == "" {
		writeError(w, r, domain.ErrValidation("question is required"))
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	resp, err := h.gw.Ask(r.Context(), principal, req.Question, req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Query handles the structured-query operation: explicit plan in, rows +
// explanation out.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawPlan
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	resp, err := h.gw.Query(r.Context(), principal, raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// History lists recent recorded queries, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": []history.Entry{}})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("history list failed", "error", err)
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders a domain error as JSON. Validation problems are listed
// individually; rate-limit rejections carry Retry-After.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)

	body := map[string]interface{}{
		"code":       status,
		"message":    err.Error(),
		"request_id": middleware.RequestIDFromContext(r.Context()),
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		body["problems"] = validation.Problems
	}

	var rateLimit *domain.RateLimitError
	if errors.As(err, &rateLimit) {
		retryAfter := int(time.Until(rateLimit.ResetAt).Seconds()) + 1
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		body["reset_at"] = rateLimit.ResetAt.UTC().Format(time.RFC3339)
	}

	var execution *domain.ExecutionError
	if errors.As(err, &execution) && execution.Detail != "" {
		body["detail"] = execution.Detail
	}

	writeJSON(w, status, body)
}
