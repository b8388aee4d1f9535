package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/callwatch/internal/processor"
)

// StatusProvider reports the poll loop state. Nil when the pipeline is not configured.
type StatusProvider interface {
	Status() processor.Status
}

type Server struct {
	router   *chi.Mux
	port     int
	status   StatusProvider
	problems []string
	logger   *slog.Logger
	srv      *http.Server
}

// NewServer builds the health server. problems are configuration issues that keep the
// pipeline from running; they are surfaced on the status endpoint.
func NewServer(port int, status StatusProvider, problems []string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		status:   status,
		problems: problems,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.statusHandler)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.srv = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Agent    string            `json:"agent"`
	Ready    bool              `json:"ready"`
	Problems []string          `json:"problems,omitempty"`
	Loop     *processor.Status `json:"loop,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Agent:    "callwatch",
		Ready:    len(s.problems) == 0 && s.status != nil,
		Problems: s.problems,
	}
	if s.status != nil {
		st := s.status.Status()
		resp.Loop = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
