package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/utils"
)

// SyncEngine is the slice of the engine the operator API exposes.
type SyncEngine interface {
	TriggerSync(ctx context.Context, table string) (*models.SyncResult, error)
	Status(ctx context.Context, table string) (*models.SyncStatus, error)
	Resync(ctx context.Context, table string, mode models.ResyncMode) error
}

type Server struct {
	engine      SyncEngine
	tokenSecret string
	log         *zap.Logger
}

func NewServer(engine SyncEngine, tokenSecret string, log *zap.Logger) *Server {
	return &Server{engine: engine, tokenSecret: tokenSecret, log: log}
}

func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/sync/{table}", func(r chi.Router) {
		r.Use(s.requireOperatorToken)
		r.Post("/trigger", s.handleTrigger)
		r.Get("/status", s.handleStatus)
		r.Post("/resync", s.handleResync)
	})

	return router
}

// requireOperatorToken enforces the bearer token when a secret is
// configured; without one the API is open, for local use.
func (s *Server) requireOperatorToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || utils.VerifyOperatorToken(s.tokenSecret, token) != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing operator token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	result, err := s.engine.TriggerSync(r.Context(), table)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	status, err := s.engine.Status(r.Context(), table)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")

	mode := models.ResyncMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = models.ResyncIncremental
	}
	if mode != models.ResyncIncremental && mode != models.ResyncFull {
		writeError(w, http.StatusBadRequest, "mode must be incremental or full")
		return
	}

	if err := s.engine.Resync(r.Context(), table, mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"table": table, "mode": string(mode)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
