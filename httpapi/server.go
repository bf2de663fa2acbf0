package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"pkt.systems/agentmux/core"
	"pkt.systems/agentmux/internal/depcheck"
	"pkt.systems/agentmux/internal/persist"
)

// Server serves the websocket transport, the generic call surface, and the
// status-hook callback endpoint.
type Server struct {
	cfg     Config
	service core.Service
	store   *persist.Store
	hub     *Hub
	checker *depcheck.Checker
	hooks   http.Handler
	calls   map[string]callFunc
}

// NewServer constructs an HTTP server. hookHandler is mounted at /api/hooks.
func NewServer(cfg Config, service core.Service, store *persist.Store, hub *Hub, checker *depcheck.Checker, hookHandler http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		store:   store,
		hub:     hub,
		checker: checker,
		hooks:   hookHandler,
	}
	s.calls = s.callTable()
	return s
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/api/call", s.handleCall)
	if s.hooks != nil {
		mux.Handle("/api/hooks", s.hooks)
	}
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return withRequestLogging(mux)
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	return r.RemoteAddr
}
