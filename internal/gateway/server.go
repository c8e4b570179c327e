// Package gateway serves the OpenAI Assistants REST surface: entity CRUD
// against the store, run operations against the engine, and SSE streaming
// for runs created with stream:true.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/relay/internal/engine"
	"github.com/haasonsaas/relay/internal/store"
)

// Config carries the HTTP listener settings.
type Config struct {
	Addr string
	// APIKeys enables bearer authentication when non-empty.
	APIKeys []string
	// MaxUploadBytes bounds multipart file uploads. Default 512 MiB.
	MaxUploadBytes int64
}

// Server routes validated requests to the store and the engine.
type Server struct {
	store   store.Store
	engine  *engine.Engine
	logger  *slog.Logger
	apiKeys map[string]struct{}

	maxUploadBytes int64
	httpServer     *http.Server
}

// New builds the server. The engine and store must outlive it.
func New(cfg Config, st store.Store, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 512 << 20
	}
	s := &Server{
		store:          st,
		engine:         eng,
		logger:         logger,
		apiKeys:        keys,
		maxUploadBytes: maxUpload,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler assembles the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("GET /v1/models", s.handleListModels)

	mux.HandleFunc("POST /v1/assistants", s.handleCreateAssistant)
	mux.HandleFunc("GET /v1/assistants", s.handleListAssistants)
	mux.HandleFunc("GET /v1/assistants/{id}", s.handleGetAssistant)
	mux.HandleFunc("POST /v1/assistants/{id}", s.handleModifyAssistant)
	mux.HandleFunc("DELETE /v1/assistants/{id}", s.handleDeleteAssistant)

	mux.HandleFunc("POST /v1/threads", s.handleCreateThread)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleGetThread)
	mux.HandleFunc("POST /v1/threads/{id}", s.handleModifyThread)
	mux.HandleFunc("DELETE /v1/threads/{id}", s.handleDeleteThread)

	mux.HandleFunc("POST /v1/threads/{tid}/messages", s.handleCreateMessage)
	mux.HandleFunc("GET /v1/threads/{tid}/messages", s.handleListMessages)
	mux.HandleFunc("GET /v1/threads/{tid}/messages/{mid}", s.handleGetMessage)
	mux.HandleFunc("POST /v1/threads/{tid}/messages/{mid}", s.handleModifyMessage)

	// The literal segment wins over POST /v1/threads/{id}.
	mux.HandleFunc("POST /v1/threads/runs", s.handleCreateThreadAndRun)
	mux.HandleFunc("POST /v1/threads/{tid}/runs", s.handleCreateRun)
	mux.HandleFunc("GET /v1/threads/{tid}/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/threads/{tid}/runs/{rid}", s.handleGetRun)
	mux.HandleFunc("POST /v1/threads/{tid}/runs/{rid}/cancel", s.handleCancelRun)
	mux.HandleFunc("POST /v1/threads/{tid}/runs/{rid}/submit_tool_outputs", s.handleSubmitToolOutputs)

	mux.HandleFunc("POST /v1/files", s.handleUploadFile)
	mux.HandleFunc("GET /v1/files", s.handleListFiles)
	mux.HandleFunc("GET /v1/files/{id}", s.handleGetFile)
	mux.HandleFunc("DELETE /v1/files/{id}", s.handleDeleteFile)
	mux.HandleFunc("GET /v1/files/{id}/content", s.handleFileContent)

	return s.withAuth(s.withLogging(mux))
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// parsePage reads the standard pagination query parameters. The explicit
// limit=0 case is handled by the list helpers, not the store.
func parsePage(r *http.Request) (store.Page, bool, error) {
	q := r.URL.Query()
	page := store.Page{
		Order:  q.Get("order"),
		After:  q.Get("after"),
		Before: q.Get("before"),
	}
	zero := false
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return page, false, errors.New("limit must be a non-negative integer")
		}
		if limit == 0 {
			zero = true
		}
		page.Limit = limit
	}
	return page, zero, nil
}
