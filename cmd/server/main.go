package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prospectiq/cortex/engine"
	"github.com/prospectiq/cortex/internal/logger"
	"github.com/prospectiq/cortex/internal/metrics"
	"github.com/prospectiq/cortex/rollout"
)

type Server struct {
	db      *sql.DB
	store   engine.DocumentStore
	manager *rollout.Manager
	router  *chi.Mux
}

// NewServer wires the document store, the version manager, and the
// routes. With a database URL the store is Postgres; without one, a
// rules file is loaded into an in-memory store so the engine can run
// standalone.
func NewServer(databaseURL, rulesFile string) (*Server, error) {
	var db *sql.DB
	var store engine.DocumentStore

	if databaseURL != "" {
		var err error
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store = engine.NewPostgresDocumentStore(db)
	} else {
		if rulesFile == "" {
			return nil, fmt.Errorf("either DATABASE_URL or RULES_FILE is required")
		}
		doc, err := engine.LoadDocumentFile(rulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules file: %w", err)
		}
		mem := engine.NewInMemoryDocumentStore()
		if err := mem.Save(doc); err != nil {
			return nil, err
		}
		if err := mem.Activate(doc.Version); err != nil {
			return nil, err
		}
		store = mem
	}

	manager := rollout.NewManager(store, logger.Logger)
	if err := manager.LoadActive(); err != nil {
		return nil, err
	}

	logger.Logger.Info("active rule document loaded",
		"version", manager.ActiveVersion())

	s := &Server{
		db:      db,
		store:   store,
		manager: manager,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/execute", s.handleExecute)

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/", s.handleCreateDocument)
		r.Get("/{version}", s.handleGetDocument)
		r.Post("/{version}/activate", s.handleActivateDocument)
	})

	r.Route("/api/v1/experiment", func(r chi.Router) {
		r.Get("/", s.handleGetExperiment)
		r.Put("/", s.handleSetExperiment)
		r.Delete("/", s.handleClearExperiment)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"activeVersion": s.manager.ActiveVersion(),
		"loaded":        s.manager.Versions(),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Rule == "" {
		respondError(w, http.StatusBadRequest, "rule is required", nil)
		return
	}
	if req.Input == nil {
		respondError(w, http.StatusBadRequest, "input is required", nil)
		return
	}

	en, err := s.manager.EngineFor(req.EntityID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "no engine available", err)
		return
	}

	start := time.Now()
	result, err := en.Execute(req.Rule, req.Input)
	metrics.ExecutionDuration.WithLabelValues(req.Rule).Observe(time.Since(start).Seconds())

	if err != nil {
		// Unknown rule name: a caller bug, not an evaluation failure.
		metrics.ExecutionsTotal.WithLabelValues(req.Rule, "not_found").Inc()
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	if result.Failed() {
		metrics.ExecutionsTotal.WithLabelValues(req.Rule, "error").Inc()
		metrics.EvaluationErrors.WithLabelValues(req.Rule).Inc()
	} else {
		metrics.ExecutionsTotal.WithLabelValues(req.Rule, "ok").Inc()
	}

	respondJSON(w, http.StatusOK, ExecuteResponse{
		ExecutionID: uuid.NewString(),
		Result:      result,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.ListVersions()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list documents", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": infos})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	body := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := body.Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	doc, err := engine.ParseDocumentJSON(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule document", err)
		return
	}
	if err := rollout.ValidateDocument(doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule document", err)
		return
	}

	if err := s.store.Save(doc); err != nil {
		respondError(w, http.StatusConflict, "failed to save document", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"version": doc.Version,
		"rules":   len(doc.Rules),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	doc, err := s.store.Get(version)
	if err != nil {
		respondError(w, http.StatusNotFound, "document not found", err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleActivateDocument(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	if err := s.store.Activate(version); err != nil {
		respondError(w, http.StatusNotFound, "failed to activate document", err)
		return
	}

	s.manager.Invalidate()
	if err := s.manager.LoadActive(); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to swap engine", err)
		return
	}
	metrics.DocumentSwaps.Inc()

	respondJSON(w, http.StatusOK, map[string]string{
		"activeVersion": s.manager.ActiveVersion(),
	})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp := s.manager.Experiment()
	if exp == nil {
		respondJSON(w, http.StatusOK, map[string]any{"experiment": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"experiment": exp})
}

func (s *Server) handleSetExperiment(w http.ResponseWriter, r *http.Request) {
	var exp rollout.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.manager.SetExperiment(&exp); err != nil {
		respondError(w, http.StatusBadRequest, "failed to install experiment", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"experiment": exp})
}

func (s *Server) handleClearExperiment(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.SetExperiment(nil); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear experiment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	rulesFile := os.Getenv("RULES_FILE")

	server, err := NewServer(databaseURL, rulesFile)
	if err != nil {
		logger.Logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// In file mode, hot-swap the engine when the rules file changes.
	if databaseURL == "" && rulesFile != "" {
		watcher := rollout.NewFileWatcher(rulesFile, server.manager, logger.Logger)
		go func() {
			if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
				logger.Logger.Error("file watcher stopped", "error", err)
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("server shutdown error", "error", err)
	}
	logger.Logger.Info("server stopped")
}
