// Package web serves a read-only JSON API over run state and the event log.
// It never mutates anything: run control stays on the CLI.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/db"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
)

// Server exposes run status over HTTP.
type Server struct {
	store  *pipeline.Store
	db     *db.DB
	port   int
	logger *slog.Logger
}

// NewServer creates a Server.
func NewServer(store *pipeline.Store, database *db.DB, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, db: database, port: port, logger: logger}
}

// Handler returns the route table. Split from Start so tests can drive it
// with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.routeRun)
	mux.HandleFunc("/api/analytics", s.handleAnalytics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start begins listening. Blocks until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("Status API listening", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) routeRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleRunDetail(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "events":
		s.handleRunEvents(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "stages":
		s.handleStageDetail(w, r, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}
