// Package api exposes the HTTP surface of the routing engine: the
// carrier-facing voice webhooks, operational invalidation hooks, and
// the health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trunkline/trunkline/internal/cache"
	"github.com/trunkline/trunkline/internal/database/models"
	"github.com/trunkline/trunkline/internal/protocol"
)

// fallbackDocument is served when rendering a response fails. It must
// stay valid without going through the encoder.
const fallbackDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Hangup></Hangup>
</Response>`

// CallRouter is the routing engine surface the HTTP layer drives.
type CallRouter interface {
	HandleInbound(ctx context.Context, event models.InboundCallEvent) *protocol.Response
	HandleIVRTurn(ctx context.Context, event models.InboundCallEvent, menuID int64) *protocol.Response
	InvalidateExtension(ctx context.Context, tenantID int64, number string)
	InvalidateBusinessHours(ctx context.Context, tenantID int64)
}

// CacheStatus reports the cache layer's health for the health endpoint.
type CacheStatus interface {
	Status() cache.Status
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	routing CallRouter
	cache   CacheStatus
	limiter *TenantRateLimiter
	logger  *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(routing CallRouter, cacheStatus CacheStatus, limiter *TenantRateLimiter, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		routing: routing,
		cache:   cacheStatus,
		limiter: limiter,
		logger:  logger.With("subsystem", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Carrier-facing voice webhooks.
	r.Route("/webhook/{tenant}", func(r chi.Router) {
		r.Post("/voice", s.handleVoice)
		r.Post("/voice/ivr/{menuID}", s.handleIVRTurn)
	})

	// Operational hooks for the provisioning layer.
	r.Route("/internal/invalidate", func(r chi.Router) {
		r.Post("/extension", s.handleInvalidateExtension)
		r.Post("/business-hours", s.handleInvalidateBusinessHours)
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// handleVoice resolves one inbound call. The carrier always receives a
// 200 with a routing document; failures degrade inside the resolver.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	event, ok := s.parseCallEvent(w, r)
	if !ok {
		return
	}

	if !s.limiter.Allow(event.TenantID) {
		s.logger.Warn("webhook rate limit exceeded", "tenant_id", event.TenantID)
		s.writeDocument(w, protocol.New().Busy("All circuits are busy. Please try again later."))
		return
	}

	s.writeDocument(w, s.routing.HandleInbound(r.Context(), event))
}

// handleIVRTurn processes gathered digits for an in-progress menu.
func (s *Server) handleIVRTurn(w http.ResponseWriter, r *http.Request) {
	event, ok := s.parseCallEvent(w, r)
	if !ok {
		return
	}

	menuID, err := strconv.ParseInt(chi.URLParam(r, "menuID"), 10, 64)
	if err != nil {
		s.logger.Warn("invalid menu id in webhook path", "raw", chi.URLParam(r, "menuID"))
		s.writeDocument(w, protocol.New().Hangup())
		return
	}

	if !s.limiter.Allow(event.TenantID) {
		s.logger.Warn("webhook rate limit exceeded", "tenant_id", event.TenantID)
		s.writeDocument(w, protocol.New().Busy("All circuits are busy. Please try again later."))
		return
	}

	s.writeDocument(w, s.routing.HandleIVRTurn(r.Context(), event, menuID))
}

// parseCallEvent extracts the call event from the webhook form body.
// A malformed request still gets a valid hangup document.
func (s *Server) parseCallEvent(w http.ResponseWriter, r *http.Request) (models.InboundCallEvent, bool) {
	tenantID, err := strconv.ParseInt(chi.URLParam(r, "tenant"), 10, 64)
	if err != nil {
		s.logger.Warn("invalid tenant id in webhook path", "raw", chi.URLParam(r, "tenant"))
		s.writeDocument(w, protocol.New().Hangup())
		return models.InboundCallEvent{}, false
	}

	if err := r.ParseForm(); err != nil {
		s.logger.Warn("malformed webhook form", "tenant_id", tenantID, "error", err)
		s.writeDocument(w, protocol.New().Hangup())
		return models.InboundCallEvent{}, false
	}

	event := models.InboundCallEvent{
		TenantID: tenantID,
		To:       r.PostFormValue("to"),
		From:     r.PostFormValue("from"),
		CallID:   r.PostFormValue("call_id"),
		Digits:   r.PostFormValue("digits"),
	}
	if event.To == "" || event.CallID == "" {
		s.logger.Warn("webhook missing required fields",
			"tenant_id", tenantID,
			"call_id", event.CallID,
		)
		s.writeDocument(w, protocol.New().Hangup())
		return models.InboundCallEvent{}, false
	}
	return event, true
}

// handleInvalidateExtension drops a cached extension lookup after a
// provisioning write.
func (s *Server) handleInvalidateExtension(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID int64  `json:"tenant_id"`
		Number   string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == 0 || req.Number == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and number are required")
		return
	}

	s.routing.InvalidateExtension(r.Context(), req.TenantID, req.Number)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// handleInvalidateBusinessHours drops a tenant's cached schedule.
func (s *Server) handleInvalidateBusinessHours(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID int64 `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == 0 {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	s.routing.InvalidateBusinessHours(r.Context(), req.TenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// handleHealth reports process liveness and cache degradation state.
// The process is healthy even in fallback mode; the payload lets
// operators see degradation without scraping metrics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.cache.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"primary_available": status.PrimaryAvailable,
		"using_fallback":    status.UsingFallback,
	})
}

// writeDocument renders and writes a routing document. Webhook replies
// are always 200; carriers treat other statuses as dead air.
func (s *Server) writeDocument(w http.ResponseWriter, resp *protocol.Response) {
	body, err := resp.Render()
	if err != nil {
		s.logger.Error("rendering routing document failed", "error", err)
		body = fallbackDocument
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("writing routing document failed", "error", err)
	}
}
