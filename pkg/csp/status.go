package csp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// APIResponse is the envelope of every status reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusServer exposes read-only provider state over HTTP.
type StatusServer struct {
	service *Service
	server  *http.Server
	router  *http.ServeMux

	mu      sync.Mutex
	started bool
}

func NewStatusServer(service *Service, port int) *StatusServer {
	s := &StatusServer{
		service: service,
		router:  http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *StatusServer) registerRoutes() {
	s.router.HandleFunc("GET /api/health", s.handleHealth)
	s.router.HandleFunc("GET /api/v1/file", s.handleCurrentFile)
	s.router.HandleFunc("GET /api/v1/owners/{id}", s.handleOwner)
}

// Handler returns the routes, mainly for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *StatusServer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return xerrors.New("status server already started")
	}
	s.started = true
	s.mu.Unlock()

	logrus.Infof("Status API listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return xerrors.Errorf("status server error: %w", err)
	}
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.server.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.Warnf("Write status reply failed: %v", err)
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, APIResponse{Error: message})
}

func respondSuccess(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, map[string]any{
		"status": "ok",
		"owners": s.service.Sessions().Owners(),
	})
}

func (s *StatusServer) handleCurrentFile(w http.ResponseWriter, _ *http.Request) {
	current := s.service.Current()
	if current == nil {
		respondError(w, http.StatusNotFound, "no file stored")
		return
	}
	respondSuccess(w, current)
}

func (s *StatusServer) handleOwner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats := s.service.Sessions().Stats(id)
	_, registered := s.service.OwnerKey(id)
	if stats == nil && !registered {
		respondError(w, http.StatusNotFound, "unknown owner")
		return
	}
	respondSuccess(w, map[string]any{
		"dataOwnerId": id,
		"registered":  registered,
		"stats":       stats,
	})
}
