package httpapi

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/image-translator/internal/config"
	"github.com/MimeLyc/image-translator/internal/jobs"
	"github.com/MimeLyc/image-translator/pkg/langs"
)

type submitResult struct {
	Filename string          `json:"filename"`
	Job      *jobs.JobRecord `json:"job,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type submitResponse struct {
	Results []submitResult `json:"results"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleSubmitJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}
	recs, err := s.jobs.Refresh(r.Context(), offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSubmitJobs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	opts, err := s.translateOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uploads := make([]jobs.Upload, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, jobs.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}

	results := s.jobs.SubmitBatch(r.Context(), uploads, opts)
	resp := submitResponse{Results: make([]submitResult, 0, len(results))}
	for _, res := range results {
		item := submitResult{Filename: res.Filename}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else {
			rec := res.Record
			item.Job = &rec
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) translateOptions(r *http.Request) (jobs.TranslateOptions, error) {
	target := strings.TrimSpace(r.FormValue("target_lang"))
	if target == "" {
		target = s.defaultTargetLang()
	}
	t, ok := langs.LookupTarget(target)
	if !ok {
		return jobs.TranslateOptions{}, errors.New("unsupported target_lang " + strconv.Quote(target))
	}

	direction := jobs.TextDirection(strings.ToLower(strings.TrimSpace(r.FormValue("text_direction"))))
	switch direction {
	case "":
		direction = jobs.DirectionAuto
	case jobs.DirectionAuto, jobs.DirectionRow, jobs.DirectionColumn:
	default:
		return jobs.TranslateOptions{}, errors.New("text_direction must be auto, row or column")
	}

	locale := r.FormValue("locale")
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
		if i := strings.IndexAny(locale, ",;"); i >= 0 {
			locale = locale[:i]
		}
	}

	return jobs.TranslateOptions{
		TargetLang: t.Code,
		Locale:     langs.DetectLocale(locale),
		Direction:  direction,
	}, nil
}

func (s *Server) defaultTargetLang() string {
	if s.settings != nil {
		if settings, err := s.settings.GetRuntimeSettings(); err == nil && settings.DefaultTargetLang != "" {
			return settings.DefaultTargetLang
		}
	}
	return langs.DefaultTarget
}

type languageResponse struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	targets := langs.Targets()
	ret := make([]languageResponse, 0, len(targets))
	for _, t := range targets {
		ret = append(ret, languageResponse{Code: t.Code, Name: t.Name, Tag: t.Tag.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default":   s.defaultTargetLang(),
		"languages": ret,
	})
}

type statusResponse struct {
	InFlight    int        `json:"in_flight"`
	InFlightIDs []int64    `json:"in_flight_ids"`
	SweepCron   string     `json:"sweep_cron,omitempty"`
	NextSweep   *time.Time `json:"next_sweep,omitempty"`
	LastSweep   *time.Time `json:"last_sweep,omitempty"`
	LastSweepN  int        `json:"last_sweep_polled"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	registry := s.jobs.Registry()
	resp := statusResponse{
		InFlight:    registry.Len(),
		InFlightIDs: registry.IDs(),
	}
	if s.sweep != nil {
		resp.SweepCron = s.sweep.Expression()
		if next := s.sweep.NextRun(); !next.IsZero() {
			resp.NextSweep = &next
		}
		if last, n := s.sweep.LastRun(); !last.IsZero() {
			resp.LastSweep = &last
			resp.LastSweepN = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.Masked())
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, saved.Masked())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
