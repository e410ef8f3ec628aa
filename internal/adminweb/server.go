// Package adminweb serves the administrative HTTP endpoints:
// health, a manual test-notify, portfolio initialization, emergency-stop
// reset, and an on-demand tick trigger. It follows a struct-held-
// *http.Server/JSON-handler/CORS-middleware shape, with bearer-token
// auth on /admin/* and /test/notify via
// github.com/golang-jwt/jwt/v5.
package adminweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"signalengine/internal/gate"
	"signalengine/internal/logx"
	"signalengine/internal/orchestrator"
	"signalengine/internal/store"
	"signalengine/pkg/model"
)

// Server holds the collaborators the admin endpoints act on.
type Server struct {
	orch      *orchestrator.Orchestrator
	gate      *gate.Gate
	tabular   store.TabularStore
	jwtSecret string
	log       logx.Logger
	srv       *http.Server
}

// New builds a Server. jwtSecret gates every /admin/* route and
// /test/notify (only /health is always open); an empty
// secret disables auth entirely (intended for local development only).
func New(orch *orchestrator.Orchestrator, g *gate.Gate, tabular store.TabularStore, jwtSecret string, log logx.Logger) *Server {
	if log == nil {
		log = logx.New()
	}
	return &Server{orch: orch, gate: g, tabular: tabular, jwtSecret: jwtSecret, log: log}
}

// Start binds addr and serves until the process exits or Shutdown is called.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/test/notify", s.withAuth(s.handleTestNotify))
	mux.HandleFunc("/admin/initialize", s.withAuth(s.handleInitialize))
	mux.HandleFunc("/admin/reset-stop", s.withAuth(s.handleResetStop))
	mux.HandleFunc("/admin/trigger", s.withAuth(s.handleTrigger))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("admin server listening on %s", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTestNotify(w http.ResponseWriter, r *http.Request) {
	ok, err := s.gate.SendRaw(r.Context(), "test notification from admin endpoint")
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": ok})
}

type initializeRequest struct {
	Instruments []model.Instrument `json:"instruments"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, in := range req.Instruments {
		if err := s.tabular.UpsertInstrument(r.Context(), in); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"seeded": len(req.Instruments)})
}

func (s *Server) handleResetStop(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.ResetEmergencyStop(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": false})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.RunMonitoringTick(r.Context(), time.Now()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
