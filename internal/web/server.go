// Package web serves a JSON API over the object collection and streams
// access events to websocket clients.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"cosem-go/internal/access"
	"cosem-go/internal/automation"
	"cosem-go/internal/cosem"
	"cosem-go/internal/store"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed origin patterns for CORS and websockets.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithStore persists objects after every successful write or method call.
func WithStore(db store.Store) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithVersion sets the version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithAutomation exposes the automation scripts under /api/automations.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// Server is the HTTP API server.
type Server struct {
	objects        *cosem.Collection
	service        *access.Service
	db             store.Store
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the server. events may be nil, in which case the
// websocket endpoint accepts clients but never sends anything.
func NewServer(objects *cosem.Collection, service *access.Service, events *access.EventBus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		objects: objects,
		service: service,
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	if events != nil {
		s.unsubEvents = events.OnAll(func(event access.Event) {
			s.wsHub.Broadcast(newEventMessage(event))
		})
	}

	s.routes()
	return s
}

// Stop shuts down the websocket hub and waits for it.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /api/objects", s.handleAPIListObjects)
	s.mux.HandleFunc("GET /api/objects/{class}/{ln}", s.handleAPIGetObject)
	s.mux.HandleFunc("POST /api/objects/{class}/{ln}/read", s.handleAPIReadObject)
	s.mux.HandleFunc("PUT /api/objects/{class}/{ln}/attributes/{index}", s.handleAPIWriteAttribute)
	s.mux.HandleFunc("POST /api/objects/{class}/{ln}/methods/{index}", s.handleAPIInvokeMethod)

	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)
	s.mux.HandleFunc("POST /api/automations/run", s.handleAPIRunInline)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS checks.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(w, r) {
		return
	}
	// Browsers cannot set headers on a websocket upgrade, so only /api/ is keyed.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// checkOrigin answers preflights and rejects state-changing requests from
// origins outside the allowlist. It reports whether the request should
// continue. Without an allowlist every origin passes.
func (s *Server) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(s.allowedOrigins) == 0 || origin == "" {
		return true
	}
	allowed := slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)

	switch {
	case r.Method == http.MethodOptions && allowed:
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		h.Set("Access-Control-Max-Age", "3600")
		w.WriteHeader(http.StatusNoContent)
		return false
	case r.Method == http.MethodGet:
		return true
	case !allowed:
		s.writeError(w, http.StatusForbidden, "origin not allowed")
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	return true
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
