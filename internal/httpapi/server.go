package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/image-translator/internal/config"
	"github.com/MimeLyc/image-translator/internal/jobs"
)

type jobController interface {
	SubmitBatch(ctx context.Context, files []jobs.Upload, opts jobs.TranslateOptions) []jobs.BatchResult
	Refresh(ctx context.Context, offset int) ([]jobs.JobRecord, error)
	Get(ctx context.Context, id int64) (jobs.JobRecord, error)
	Remove(ctx context.Context, id int64) error
	Snapshot() []jobs.JobRecord
	Registry() *jobs.Registry
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type sweepStatus interface {
	Expression() string
	NextRun() time.Time
	LastRun() (time.Time, int)
}

type Server struct {
	jobs     jobController
	settings runtimeSettingsStore
	notices  *NoticeHub
	sweep    sweepStatus
	metrics  http.Handler

	maxUploadBytes int64
	streamInterval time.Duration

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

// WithNotices forwards controller notices to job stream subscribers.
func WithNotices(hub *NoticeHub) Option {
	return func(s *Server) {
		s.notices = hub
	}
}

func WithSweepStatus(sweep sweepStatus) Option {
	return func(s *Server) {
		s.sweep = sweep
	}
}

func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = d
	}
}

func NewServer(controller jobController, opts ...Option) *Server {
	s := &Server{
		jobs:           controller,
		maxUploadBytes: 64 << 20,
		streamInterval: time.Second,
		uiEnabled:      false,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/api/languages", s.handleLanguages)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
