package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"exportstudio/internal/jobs"
	"exportstudio/internal/store"
)

// apiError is the JSON shape of an error response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the API error taxonomy.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Code: "not_found", Message: err.Error()})
	case errors.Is(err, jobs.ErrUnknownPattern):
		writeJSON(w, http.StatusBadRequest, apiError{Code: "invalid_input", Message: err.Error()})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Code: "store_error", Message: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apiError{Code: "invalid_input", Message: msg})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	convs, err := s.store.ListConversations(r.Context(), store.ListOptions{
		Limit:       limit,
		Offset:      offset,
		TitleSearch: r.URL.Query().Get("search"),
		GizmoID:     r.URL.Query().Get("gizmo_id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// conversationDetail is a conversation joined with its project, when any.
type conversationDetail struct {
	store.Conversation
	Project *store.Project `json:"project,omitempty"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	detail := conversationDetail{Conversation: *conv}
	if conv.GizmoID != "" {
		if p, err := s.store.GetProject(r.Context(), conv.GizmoID); err == nil {
			detail.Project = p
		} else if !errors.Is(err, store.ErrNotFound) {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.store.GetMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		badRequest(w, "q required")
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	hits, err := s.store.Search(r.Context(), q, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleExportMarkdown(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		badRequest(w, "id required")
		return
	}
	redacted := r.URL.Query().Get("redact") == "true"

	doc, err := s.exporter.Markdown(r.Context(), id, redacted)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	io.WriteString(w, doc)
}

// exportRequest is the body of the bulk export endpoints.
type exportRequest struct {
	Redact bool `json:"redact"`
}

func decodeExportRequest(r *http.Request) (exportRequest, error) {
	var req exportRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

func (s *Server) handleExportJSONL(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExportRequest(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="messages.jsonl"`)
	if _, err := s.exporter.WriteJSONL(r.Context(), w, req.Redact); err != nil {
		// Headers are already out; the truncated body is all we can signal.
		s.logger.Error("jsonl export failed", "error", err)
	}
}

func (s *Server) handleExportPairs(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExportRequest(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="pairs.jsonl"`)
	if _, err := s.exporter.WritePairs(r.Context(), w, req.Redact); err != nil {
		s.logger.Error("pairs export failed", "error", err)
	}
}

func (s *Server) handleExportObsidian(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExportRequest(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	dir := filepath.Join(s.home.GeneratedDir(), "vault")
	files, err := s.exporter.WriteVault(r.Context(), dir, req.Redact)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": dir, "files": files})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.TargetID == "" {
		badRequest(w, "target_id required")
		return
	}

	job, err := s.coord.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	list, err := s.coord.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleCheckJob(w http.ResponseWriter, r *http.Request) {
	targetID := r.URL.Query().Get("target_id")
	pattern := r.URL.Query().Get("pattern")
	if targetID == "" || pattern == "" {
		badRequest(w, "target_id and pattern required")
		return
	}

	job, err := s.coord.Check(r.Context(), targetID, pattern)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coord.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError,
			apiError{Code: "store_error", Message: "streaming unsupported"})
		return
	}

	events, err := s.coord.Stream(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev.Job)
		if err != nil {
			s.logger.Error("marshal stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

func (s *Server) handleDownloadJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coord.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job.Status != store.JobDone || job.ResultPath == "" {
		writeJSON(w, http.StatusNotFound,
			apiError{Code: "not_found", Message: "job has no result artifact"})
		return
	}

	path := s.coord.ArtifactPath(job.ResultPath)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
