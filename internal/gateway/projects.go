package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/codestep/stepd/internal/analysis"
	"github.com/codestep/stepd/internal/errors"
)

type projectRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// handleProjects serves the collection: list and create
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.store.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)

	case http.MethodPost:
		var req projectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.InvalidMessage(err.Error()))
			return
		}
		if req.Name == "" {
			writeError(w, errors.MissingParameter("name", "Projects require a non-empty name."))
			return
		}
		p, err := s.store.Create(r.Context(), req.Name, req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProjectByID serves one project: fetch, update, delete
func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/projects/")
	if rest, ok := strings.CutSuffix(id, "/code"); ok {
		s.handleProjectCode(w, r, rest)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := s.store.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodPut:
		var req projectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.InvalidMessage(err.Error()))
			return
		}
		p, err := s.store.Update(r.Context(), id, req.Name, req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodDelete:
		if err := s.store.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProjectCode returns a project's code together with its function
// and class ranges, which editors use for folding and navigation.
func (s *Server) handleProjectCode(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	functions := analysis.FunctionRanges(p.Code)
	if functions == nil {
		functions = []analysis.FunctionRange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content":   p.Code,
		"functions": functions,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	debugErr := errors.FromError(err)
	status := http.StatusInternalServerError
	switch debugErr.Code {
	case errors.CodeProjectNotFound, errors.CodeSessionNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidMessage, errors.CodeMissingParameter:
		status = http.StatusBadRequest
	case errors.CodeSessionLimitReached:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": debugErr.Message})
}
