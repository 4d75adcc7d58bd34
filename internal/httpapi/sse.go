package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/image-translator/internal/jobs"
)

// handleJobStream pushes the job projection every interval and any notice as
// soon as it is raised.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var notices <-chan jobs.Notice
	if s.notices != nil {
		ch, unsubscribe := s.notices.Subscribe()
		defer unsubscribe()
		notices = ch
	}

	send := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if event != "" {
			if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
				return false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send("", s.jobs.Snapshot()) {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			if !send("notice", n) {
				return
			}
		case <-ticker.C:
			if !send("", s.jobs.Snapshot()) {
				return
			}
		}
	}
}
