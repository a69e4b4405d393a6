package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kbpulse/internal/audit"
	"kbpulse/internal/fetch"
	"kbpulse/internal/model"
	"kbpulse/internal/registry"
	"kbpulse/internal/rules"
	"kbpulse/internal/store"
	"kbpulse/internal/syncer"
)

// Server exposes the sync and audit operations as a JSON API.
type Server struct {
	registry *registry.Registry
	syncer   *syncer.Orchestrator
	engine   *audit.Engine
	catalog  *rules.Catalog
	articles store.ArticleStore
	logger   *zap.Logger
	router   *mux.Router
	server   *http.Server
}

func NewServer(reg *registry.Registry, orch *syncer.Orchestrator, engine *audit.Engine, catalog *rules.Catalog, articles store.ArticleStore, logger *zap.Logger) *Server {
	s := &Server{
		registry: reg,
		syncer:   orch,
		engine:   engine,
		catalog:  catalog,
		articles: articles,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/sync", s.handleSyncAll).Methods("POST")
	api.HandleFunc("/sources", s.handleListSources).Methods("GET")
	api.HandleFunc("/sources/{id}", s.handlePatchSource).Methods("PATCH")
	api.HandleFunc("/sources/{id}/sync", s.handleSyncOne).Methods("POST")
	api.HandleFunc("/sources/{id}/articles", s.handleListArticles).Methods("GET")

	api.HandleFunc("/articles/{id}", s.handleGetArticle).Methods("GET")
	api.HandleFunc("/articles/{id}/audit", s.handleAudit).Methods("POST")

	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules/{id}", s.handlePatchRule).Methods("PATCH")
}

// Start launches the HTTP server
func (s *Server) Start(port string) error {
	s.server = &http.Server{
		Addr:    ":" + port,
		Handler: s.router,
		// Sync requests can legitimately run for minutes.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute,
	}

	s.logger.Info("API server listening", zap.String("addr", port))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type syncRequest struct {
	MaxArticlesPerCategory int  `json:"max_articles_per_category"`
	ForceRefresh           bool `json:"force_refresh"`
}

func (r syncRequest) options() fetch.Options {
	return fetch.Options{
		MaxArticlesPerCategory: r.MaxArticlesPerCategory,
		ForceRefresh:           r.ForceRefresh,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	s.decodeOptional(r, &req)

	results := s.syncer.SyncAll(r.Context(), req.options())
	s.respond(w, http.StatusOK, results)
}

func (s *Server) handleSyncOne(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	s.decodeOptional(r, &req)

	result, err := s.syncer.SyncOne(r.Context(), mux.Vars(r)["id"], req.options())
	switch {
	case errors.Is(err, registry.ErrUnknownSource):
		s.respondError(w, http.StatusNotFound, "unknown source")
	case errors.Is(err, registry.ErrAlreadySyncing):
		s.respondError(w, http.StatusConflict, "source is already syncing")
	case err != nil:
		s.logger.Error("sync failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "sync failed")
	default:
		s.respond(w, http.StatusOK, result)
	}
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.registry.List())
}

func (s *Server) handlePatchSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.respondError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.registry.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, registry.ErrUnknownSource) {
			s.respondError(w, http.StatusNotFound, "unknown source")
			return
		}
		s.logger.Error("failed to update source", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	src, _ := s.registry.Get(id)
	s.respond(w, http.StatusOK, src)
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.Get(id); err != nil {
		s.respondError(w, http.StatusNotFound, "unknown source")
		return
	}

	articles, err := s.articles.ListBySource(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list articles", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	s.respond(w, http.StatusOK, articles)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid article id")
		return
	}

	article, err := s.articles.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "unknown article")
		return
	} else if err != nil {
		s.logger.Error("failed to load article", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "load failed")
		return
	}
	s.respond(w, http.StatusOK, article)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid article id")
		return
	}

	result, err := s.engine.Audit(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "unknown article")
		return
	} else if err != nil {
		s.logger.Error("audit failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "audit failed")
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"rules":             s.catalog.List(),
		"count_by_category": s.catalog.CategoryCounts(),
	})
}

func (s *Server) handlePatchRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.respondError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}

	if err := s.catalog.SetEnabled(mux.Vars(r)["id"], *req.Enabled); err != nil {
		s.respondError(w, http.StatusNotFound, "unknown rule")
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

// decodeOptional parses an optional JSON body; an empty body means defaults.
func (s *Server) decodeOptional(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	defer r.Body.Close()
	_ = json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}
