package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/crospyder/ocr-core/internal/config"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

// Services are the inbound ports the router dispatches to. Nil services
// answer 503 on their routes.
type Services struct {
	Ingestor    ports.DocumentIngestor
	Reader      ports.DocumentReader
	Editor      ports.AnnotationEditor
	Reprocessor ports.DocumentReprocessor
	Scheduler   ports.ReprocessScheduler
	Exporter    ports.DocumentExporter
}

type Router struct {
	services Services
	logger   *slog.Logger

	requestIDHeader  string
	rateLimitRPS     float64
	rateLimitBurst   int
	maxInFlight      int
	backpressureWait time.Duration

	metricsHandler    http.Handler
	metricsMiddleware func(http.Handler) http.Handler
}

type RouterOption func(*Router)

// WithMetrics serves /metrics and records every request.
func WithMetrics(handler http.Handler, middleware func(http.Handler) http.Handler) RouterOption {
	return func(rt *Router) {
		rt.metricsHandler = handler
		rt.metricsMiddleware = middleware
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(cfg config.Config, services Services, opts ...RouterOption) *Router {
	rt := &Router{
		services:         services,
		logger:           slog.Default(),
		requestIDHeader:  cfg.APIRequestIDHeader,
		rateLimitRPS:     cfg.APIRateLimitRPS,
		rateLimitBurst:   cfg.APIRateLimitBurst,
		maxInFlight:      cfg.APIBackpressureMaxIn,
		backpressureWait: time.Duration(cfg.APIBackpressureWaitMS) * time.Millisecond,
	}
	if rt.requestIDHeader == "" {
		rt.requestIDHeader = defaultRequestIDHeader
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metricsHandler != nil {
		mux.Handle("GET /metrics", rt.metricsHandler)
	}

	mux.HandleFunc("POST /v1/documents", rt.uploadDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)
	mux.HandleFunc("PUT /v1/documents/{id}/annotation", rt.updateAnnotation)
	mux.HandleFunc("POST /v1/documents/{id}/reprocess", rt.reprocessDocument)
	mux.HandleFunc("POST /v1/reprocess", rt.reprocessAll)
	mux.HandleFunc("GET /v1/export.xlsx", rt.exportXLSX)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.backpressureWait)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metricsMiddleware != nil {
		handler = rt.metricsMiddleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(rt.requestIDHeader, handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
