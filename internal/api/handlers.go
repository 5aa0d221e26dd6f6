package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/news-pipeline/internal/model"
	"github.com/sells-group/news-pipeline/internal/orchestrator"
	"github.com/sells-group/news-pipeline/internal/store"
)

const maxBodyBytes = 1 << 20

// taskRequest is the body every trigger endpoint accepts. Fields a task does
// not use are ignored.
type taskRequest struct {
	WorkflowID string   `json:"workflow_id"`
	Links      []string `json:"links"`
	MaxLinks   int      `json:"max_links"`
	Limit      int      `json:"limit"`
}

type acceptedResponse struct {
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id"`
}

type linkResponse struct {
	LinkID   string               `json:"link_id"`
	Analysis *model.LinkAnalysis  `json:"analysis,omitempty"`
	Content  *model.ContentRecord `json:"content,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
	Running string `json:"running,omitempty"`
}

// decodeTask reads an optional JSON body; an empty body is a zero request.
func decodeTask(w http.ResponseWriter, r *http.Request) (taskRequest, bool) {
	var req taskRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.MaxLinks < 0 || req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "max_links and limit must be >= 0")
		return req, false
	}
	return req, true
}

func (s *Server) enqueue(w http.ResponseWriter, t orchestrator.Task) {
	id, err := s.queue.Enqueue(t)
	switch {
	case errors.Is(err, orchestrator.ErrQueueFull), errors.Is(err, orchestrator.ErrQueueClosed),
		errors.Is(err, orchestrator.ErrRunLookup):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, orchestrator.ErrRunExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", WorkflowID: id})
}

func (s *Server) handleWorkflow(kind orchestrator.TaskKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeTask(w, r)
		if !ok {
			return
		}
		s.enqueue(w, orchestrator.Task{Kind: kind, RunID: req.WorkflowID})
	}
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}
	links := cleanLinks(req.Links)
	if len(links) == 0 {
		writeError(w, http.StatusBadRequest, "links is required")
		return
	}
	s.enqueue(w, orchestrator.Task{Kind: orchestrator.TaskClassify, RunID: req.WorkflowID, Links: links})
}

func (s *Server) handleClassifyLatest(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}
	s.enqueue(w, orchestrator.Task{Kind: orchestrator.TaskClassifyLatest, RunID: req.WorkflowID, MaxLinks: req.MaxLinks})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}
	s.enqueue(w, orchestrator.Task{
		Kind:     orchestrator.TaskExtract,
		RunID:    req.WorkflowID,
		Links:    cleanLinks(req.Links),
		MaxLinks: req.MaxLinks,
	})
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTask(w, r)
	if !ok {
		return
	}
	s.enqueue(w, orchestrator.Task{Kind: orchestrator.TaskReanalyze, RunID: req.WorkflowID, MaxLinks: req.Limit})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := model.TruncateID(chi.URLParam(r, "id"))
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get run", zap.String("workflow_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var filter store.RunFilter
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = st
	}
	filter.Limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if runs == nil {
		runs = []model.WorkflowRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	analysis, err := s.store.GetLinkAnalysis(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get link analysis", zap.String("link_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	content, err := s.store.GetContent(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get content", zap.String("link_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if analysis == nil && content == nil {
		writeError(w, http.StatusNotFound, "link not found")
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{LinkID: id, Analysis: analysis, Content: content})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Pending: s.queue.Pending(), Running: s.queue.Running()}
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health ping", zap.Error(err))
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func cleanLinks(links []string) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
