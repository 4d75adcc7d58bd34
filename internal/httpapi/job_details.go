package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MimeLyc/image-translator/internal/jobs"
)

// handleJobByID serves /api/jobs/{id}.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.jobs.Get(r.Context(), id)
		if err != nil {
			if jobs.IsKind(err, jobs.KindNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		// Deleting stops local tracking only; the remote job keeps running.
		if err := s.jobs.Remove(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
