package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"calshift/internal/config"
	appLog "calshift/internal/log"
	"calshift/internal/pipeline"
	"calshift/internal/schedule"
	"calshift/internal/state"
	"calshift/internal/summary"
)

// StatusSource reports the daemon's jobs. *schedule.Scheduler satisfies it.
type StatusSource interface {
	Statuses(now time.Time) []schedule.JobStatus
}

// Server exposes read-only daemon status over HTTP: /health, /api/status,
// /api/seen and /api/periods.
type Server struct {
	cfg   *config.Config
	jobs  StatusSource
	store state.Store
	mux   *http.ServeMux
	now   func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, jobs StatusSource) *Server {
	s := &Server{
		cfg:   cfg,
		jobs:  jobs,
		store: state.Store{Path: cfg.StatePath},
		mux:   http.NewServeMux(),
		now:   time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	// An empty user or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calshift", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/seen", s.handleSeen)
	s.mux.HandleFunc("/api/periods", s.handlePeriods)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Now  time.Time            `json:"now"`
	Jobs []schedule.JobStatus `json:"jobs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	now := s.now()
	resp := statusResponse{Now: now, Jobs: []schedule.JobStatus{}}
	if s.jobs != nil {
		resp.Jobs = s.jobs.Statuses(now)
	}
	writeJSON(w, http.StatusOK, resp)
}

type seenResponse struct {
	Path  string   `json:"path"`
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// handleSeen reports the persisted seen-set. A missing file is an empty set;
// a corrupt one is reported rather than hidden.
func (s *Server) handleSeen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	set, err := s.store.Read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		set = state.NewSeenSet()
	case err != nil:
		appLog.Error("seen-set unreadable", err, "path", s.store.Path)
		writeError(w, http.StatusInternalServerError, "seen-set unreadable")
		return
	}

	writeJSON(w, http.StatusOK, seenResponse{
		Path:  s.store.Path,
		Count: set.Len(),
		IDs:   set.IDs(),
	})
}

type periodResponse struct {
	Index int    `json:"index"`
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label"`
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count := parseIntDefault(r.URL.Query().Get("count"), 2)
	if count < 1 || count > 52 {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 52")
		return
	}

	periods, err := pipeline.Periods(s.cfg, s.now(), count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]periodResponse, 0, len(periods))
	for _, p := range periods {
		resp = append(resp, periodResponse{
			Index: p.Index,
			Start: p.Start.Format("2006-01-02"),
			End:   p.End.Format("2006-01-02"),
			Label: summary.FormatPeriod(p),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
