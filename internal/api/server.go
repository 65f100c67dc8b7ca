package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"classchat/internal/metrics"
	"classchat/pkg/types"
)

// ConnectionStatus is the part of the connection manager the status server reads
type ConnectionStatus interface {
	State() types.ConnectionState
	Attempts() int
}

// PresenceStatus is the part of the router the status server reads
type PresenceStatus interface {
	OnlineUsers() []int64
	TypingUsers() []int64
}

// Server serves the chat client's local status endpoints
// ARCHITECTURAL DISCOVERY: Read-only view over the running client, no chat
// actions are reachable through HTTP
type Server struct {
	conn     ConnectionStatus
	presence PresenceStatus
	router   chi.Router
	now      func() time.Time
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status            string    `json:"status"`
	ConnectionState   string    `json:"connection_state"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	Timestamp         time.Time `json:"timestamp"`
}

// PresenceResponse is the body of GET /presence
type PresenceResponse struct {
	OnlineUsers []int64 `json:"online_users"`
	TypingUsers []int64 `json:"typing_users"`
}

// ErrorResponse is the body of every error answer
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewServer wires /health, /presence and /metrics
func NewServer(conn ConnectionStatus, presence PresenceStatus) *Server {
	s := &Server{
		conn:     conn,
		presence: presence,
		router:   chi.NewRouter(),
		now:      time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware)
	s.router.With(jsonMiddleware).Get("/health", s.healthCheck)
	s.router.With(jsonMiddleware).Get("/presence", s.presenceSnapshot)
	s.router.Handle("/metrics", metrics.Handler())
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		sendError(w, "Not found", http.StatusNotFound)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// healthCheck answers 200 while the socket is open or recovering and 503 once
// the client has stopped trying
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	state := s.conn.State()

	status := "healthy"
	code := http.StatusOK
	switch state {
	case types.StateConnecting, types.StateReconnecting:
		status = "degraded"
	case types.StateIdle, types.StateClosed:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:            status,
		ConnectionState:   state.String(),
		ReconnectAttempts: s.conn.Attempts(),
		Timestamp:         s.now().UTC(),
	})
}

func (s *Server) presenceSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		sendError(w, "Presence not available", http.StatusServiceUnavailable)
		return
	}
	_ = json.NewEncoder(w).Encode(PresenceResponse{
		OnlineUsers: s.presence.OnlineUsers(),
		TypingUsers: s.presence.TypingUsers(),
	})
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware lets a browser dashboard poll the status endpoints
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
