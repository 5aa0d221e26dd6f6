// Package api exposes workflow triggers and run state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/orchestrator"
	"github.com/sells-group/news-pipeline/internal/store"
)

// Queue accepts tasks and reports worker state.
type Queue interface {
	Enqueue(t orchestrator.Task) (string, error)
	Pending() int
	Running() string
}

// Reader is the read side of the store the API serves from.
type Reader interface {
	GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.WorkflowRun, error)
	GetLinkAnalysis(ctx context.Context, linkID string) (*model.LinkAnalysis, error)
	GetContent(ctx context.Context, linkID string) (*model.ContentRecord, error)
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies.
type Server struct {
	queue   Queue
	store   Reader
	origins []string
}

// New creates a Server. origins lists the allowed CORS origins; empty
// allows any.
func New(queue Queue, st Reader, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{queue: queue, store: st, origins: origins}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/discover", s.handleWorkflow(orchestrator.TaskDiscover))
		r.Post("/classify", s.handleClassify)
		r.Post("/classify/latest", s.handleClassifyLatest)
		r.Post("/extract", s.handleExtract)
		r.Post("/workflow/full", s.handleWorkflow(orchestrator.TaskFullChain))
		r.Post("/workflow/extended", s.handleWorkflow(orchestrator.TaskExtendedChain))
		r.Post("/reanalyze", s.handleReanalyze)

		r.Get("/workflow/{id}", s.handleGetRun)
		r.Get("/workflows", s.handleListRuns)
		r.Get("/link/{id}", s.handleGetLink)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
