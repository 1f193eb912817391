package api

import (
	"net/http"
	"time"

	"github.com/rmaffei/crmlink/internal/realtime"
	"github.com/rmaffei/crmlink/internal/status"
)

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Session           string `json:"session"`
	State             string `json:"state"`
	Connected         bool   `json:"connected"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	LastError         string `json:"last_error,omitempty"`
	UptimeMS          int64  `json:"uptime_ms"`
}

// SessionService exposes connection status and session-level operations.
type SessionService struct {
	sessionName string
	rt          *realtime.Client
	startedAt   time.Time
	onLogout    func()
}

// NewSessionService creates the session service. onLogout tears the
// session down: disconnect, clear caches, drop the stored token.
func NewSessionService(sessionName string, rt *realtime.Client, onLogout func()) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		rt:          rt,
		startedAt:   time.Now(),
		onLogout:    onLogout,
	}
}

// Register mounts the service routes.
func (s *SessionService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/connect", s.handleConnect)
	mux.HandleFunc("POST /v1/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /v1/logout", s.handleLogout)
}

func (s *SessionService) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.rt.State()
	resp := StatusResponse{
		Session:           s.sessionName,
		State:             string(st),
		Connected:         st == status.Open,
		ReconnectAttempts: s.rt.Attempts(),
		UptimeMS:          time.Since(s.startedAt).Milliseconds(),
	}
	if err := s.rt.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *SessionService) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Connect(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.rt.State())})
}

func (s *SessionService) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.rt.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.rt.State())})
}

func (s *SessionService) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.onLogout != nil {
		s.onLogout()
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.rt.State())})
}
