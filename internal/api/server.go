// Package api serves the relay's HTTP JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"canvasrelay/internal/hub"
	"canvasrelay/internal/logging"
	"canvasrelay/pkg/interfaces"
	"canvasrelay/pkg/types"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 100
	healthCheckTimeout  = 5 * time.Second
)

// StatsProvider reports the live canvas counters
type StatsProvider interface {
	Stats() hub.Stats
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	stats   StatsProvider
	store   interfaces.SessionStore // nil when the audit log is disabled
	version string
	router  *http.ServeMux
	logger  *slog.Logger
}

// NewServer wires the routes. store may be nil.
func NewServer(stats StatsProvider, store interfaces.SessionStore, version string) *Server {
	s := &Server{
		stats:   stats,
		store:   store,
		version: version,
		router:  http.NewServeMux(),
		logger:  slog.Default().With(logging.Component("api")),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/api/canvas/info", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.canvasInfo))))
	s.router.Handle("/api/canvas/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.listSessions))))
}

// Handle mounts an extra handler on the same mux, e.g. the WebSocket endpoint.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.router.Handle(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Envelope is the response shape of the canvas endpoints
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
	History     int       `json:"history"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /api/canvas/info - live user count and replayable history size
func (s *Server) canvasInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: s.stats.Stats()})
}

// FUNCTIONAL DISCOVERY: GET /api/canvas/sessions?limit=N - recent connection audit rows, newest first
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, Envelope{Error: "session audit log is disabled"})
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, Envelope{Error: err.Error()})
		return
	}

	sessions, err := s.store.ListRecentSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list sessions", logging.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, Envelope{Error: "Failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []*types.SessionRecord{}
	}
	s.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: sessions})
}

// parseLimit applies the default and clamps to the maximum
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultSessionLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxSessionLimit {
		n = maxSessionLimit
	}
	return n, nil
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"

	if s.store != nil {
		dbStatus = "healthy"
		if err := s.store.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	stats := s.stats.Stats()
	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Service:     "canvasrelay",
		Version:     s.version,
		Database:    dbStatus,
		Connections: stats.ActiveUsers,
		History:     stats.HistoryCount,
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", logging.Error(err))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables browser clients served from another origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
