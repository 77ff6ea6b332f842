package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reva/internal/analysis"
	"reva/internal/fileset"
	"reva/internal/progress"
	"reva/internal/store"
	"reva/internal/version"
)

// startRunRequest is the POST /api/v1/runs payload.
type startRunRequest struct {
	ProjectRef string `json:"projectRef"`
	Files      []struct {
		Path     string `json:"path"`
		Language string `json:"language,omitempty"`
		Content  string `json:"content"`
	} `json:"files"`
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "ok"
	code := http.StatusOK
	if _, err := s.store.ListRuns(store.ListOptions{Limit: 1}); err != nil {
		status = "store unavailable"
		code = http.StatusServiceUnavailable
	}

	WriteJSON(w, map[string]interface{}{
		"status":  status,
		"version": version.Version,
	}, code)
}

// handleRuns handles GET (list) and POST (start) on /api/v1/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRuns(w, r)
	case http.MethodPost:
		s.handleStartRun(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "request body is not valid JSON")
		return
	}

	files := make([]analysis.SourceFile, 0, len(req.Files))
	for _, f := range req.Files {
		if f.Path == "" {
			BadRequest(w, "every file needs a path")
			return
		}
		language := f.Language
		if language == "" {
			language = fileset.DetectLanguage(f.Path)
		}
		files = append(files, analysis.SourceFile{
			Path:      f.Path,
			Language:  language,
			Content:   f.Content,
			SizeBytes: len(f.Content),
		})
	}

	run, err := s.orch.StartRun(req.ProjectRef, files)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, progress.Snap(run, time.Now().UTC()), http.StatusAccepted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)
	runs, err := s.store.ListRuns(opts)
	if err != nil {
		WriteError(w, err)
		return
	}

	now := time.Now().UTC()
	snapshots := make([]progress.Snapshot, 0, len(runs))
	for _, run := range runs {
		snapshots = append(snapshots, progress.Snap(run, now))
	}

	WriteJSON(w, map[string]interface{}{
		"runs":  snapshots,
		"count": len(snapshots),
	}, http.StatusOK)
}

// handleRunByID handles /api/v1/runs/:id routes
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.SplitN(path, "/", 2)
	runID := parts[0]

	if runID == "" {
		BadRequest(w, "missing run ID")
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "", "status":
		s.handleRunStatus(w, r, runID)
	case "results":
		s.handleRunResults(w, r, runID)
	case "cancel":
		s.handleCancelRun(w, r, runID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleRunStatus handles GET /api/v1/runs/:id and /:id/status
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := s.orch.Status(runID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, snap, http.StatusOK)
}

// handleRunResults handles GET /api/v1/runs/:id/results
func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := s.orch.Status(runID)
	if err != nil {
		WriteError(w, err)
		return
	}

	findings, err := s.store.GetFindings(runID)
	if err != nil {
		WriteError(w, err)
		return
	}
	fixes, err := s.store.GetFixes(runID)
	if err != nil {
		WriteError(w, err)
		return
	}
	fixedFiles, err := s.store.GetFixedFiles(runID)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, map[string]interface{}{
		"run":        snap,
		"findings":   findings,
		"fixes":      fixes,
		"fixedFiles": fixedFiles,
	}, http.StatusOK)
}

// handleCancelRun handles POST /api/v1/runs/:id/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.orch.Cancel(runID); err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, map[string]interface{}{
		"runId":  runID,
		"status": "cancelling",
	}, http.StatusAccepted)
}

func listOptionsFromQuery(r *http.Request) store.ListOptions {
	opts := store.ListOptions{}
	if statuses := r.URL.Query().Get("status"); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			opts.Status = append(opts.Status, analysis.RunStatus(strings.TrimSpace(status)))
		}
	}
	opts.ProjectRef = r.URL.Query().Get("project")
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	return opts
}
