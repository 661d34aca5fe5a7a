// Package api provides the HTTP API for observing and driving a session.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/goal-arbiter/internal/arbiter"
	"github.com/talgya/goal-arbiter/internal/engine"
	"github.com/talgya/goal-arbiter/internal/persistence"
)

// Server serves a session over HTTP.
type Server struct {
	Session  *engine.Session
	DB       *persistence.DB // Optional; run history endpoints need it
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	MaxSteps uint64 // Step cap for POST /api/v1/run

	stepLimiter *RateLimiter
	httpServer  *http.Server
}

// Handler builds the routing table. Callers that embed the API elsewhere
// must call Close to stop the rate limiter.
func (s *Server) Handler() http.Handler {
	if s.stepLimiter == nil {
		s.stepLimiter = NewRateLimiter(120, time.Minute)
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/actions", s.handleActions)
	mux.HandleFunc("/api/v1/decision", s.handleDecision)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunDetail)

	// GET reads, POST changes (admin).
	mux.HandleFunc("/api/v1/policy", s.adminOnly(s.handlePolicy))

	// Admin endpoints.
	mux.HandleFunc("/api/v1/step", s.adminOnly(RateLimitMiddleware(s.stepLimiter, s.handleStep)))
	mux.HandleFunc("/api/v1/reset", s.adminOnly(s.handleReset))
	mux.HandleFunc("/api/v1/run", s.adminOnly(s.handleRun))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server (if started) and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Close releases background resources.
func (s *Server) Close() {
	if s.stepLimiter != nil {
		s.stepLimiter.Close()
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no ARBITER_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, map[string]any{
		"session":   s.Session.Name,
		"goals":     s.Session.Goals(),
		"satisfied": s.Session.IsSatisfied(),
		"steps":     s.Session.StepCount(),
		"policy":    s.Session.Policy().String(),
	})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	type actionEntry struct {
		Name    string             `json:"name"`
		Effects map[string]float64 `json:"effects"`
	}
	actions := s.Session.Actions()
	out := make([]actionEntry, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionEntry{Name: a.Name, Effects: a.Effects})
	}
	writeJSON(w, out)
}

// handleDecision previews the next decision without applying it.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	choice, err := s.Session.Preview()
	if err != nil {
		writeDecisionError(w, err)
		return
	}
	writeJSON(w, choice)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, s.Session.History(queryLimit(r, 50)))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.DB == nil {
		http.Error(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.RecentRuns(queryLimit(r, 20))
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

// handleRunDetail returns one stored run: GET /api/v1/runs/:id.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.DB == nil {
		http.Error(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}
	run, err := s.DB.LoadRun(id)
	if errors.Is(err, persistence.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("load run failed", "run", id, "error", err)
		http.Error(w, "load run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Policy string `json:"policy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		p, err := arbiter.ParsePolicy(req.Policy)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.Session.SetPolicy(p)
		slog.Info("policy changed", "policy", p)
	}

	writeJSON(w, map[string]string{"policy": s.Session.Policy().String()})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	st, err := s.Session.Step()
	if err != nil {
		writeDecisionError(w, err)
		return
	}
	slog.Info("step applied", "step", st.Number, "goal", st.Goal, "action", st.Action)
	writeJSON(w, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.Session.Reset()
	slog.Info("session reset", "session", s.Session.Name)
	writeJSON(w, map[string]any{"goals": s.Session.Goals()})
}

// handleRun drives the session to completion and stores the run.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	eng := engine.NewEngine()
	if s.MaxSteps > 0 {
		eng.MaxSteps = s.MaxSteps
	}

	run, err := eng.Run(r.Context(), s.Session)
	if err != nil {
		slog.Warn("run ended with error", "run", run.ID, "error", err)
	}
	if s.DB != nil {
		if err := s.DB.SaveRun(run); err != nil {
			slog.Error("save run failed", "run", run.ID, "error", err)
		}
	}

	status := http.StatusOK
	if run.Status != engine.StatusSatisfied {
		status = http.StatusUnprocessableEntity
	}
	writeJSONStatus(w, status, run)
}

// writeDecisionError maps decision errors onto HTTP status codes.
func writeDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, arbiter.ErrSatisfied):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, arbiter.ErrNoGoalsDefined), errors.Is(err, arbiter.ErrNoApplicableAction):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		slog.Error("decision failed", "error", err)
		http.Error(w, "decision failed", http.StatusInternalServerError)
	}
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
