package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MimeLyc/image-translator/internal/remote"
	"github.com/MimeLyc/image-translator/pkg/icron"
	"github.com/MimeLyc/image-translator/pkg/langs"
	"github.com/MimeLyc/image-translator/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - UI_ENABLED: serve the static UI (default: true)
// - UI_STATIC_DIR: static UI directory (default: /app/web)
//
// Job service:
// - JOB_SERVICE_URL: base url of the translation job service (required)
// - JOB_SERVICE_API_KEY: api key sent with every submission (required)
// - JOB_SERVICE_MODEL: model name (default: gpt-4o-2024-08-06)
// - JOB_SERVICE_TIMEOUT: request timeout in seconds, 0 for none (default: 0)
//
// Upload:
// - UPLOAD_BACKEND: http or s3 (default: http)
// - IMAGE_UPLOAD_URL: multipart upload endpoint (required for http)
// - S3_ENDPOINT, S3_REGION, S3_ACCESS_KEY, S3_SECRET_KEY, S3_BUCKET, S3_PUBLIC_URL
// - UPLOAD_CONCURRENCY: parallel uploads per batch (default: 4)
//
// Reconciliation:
// - RECONCILE_CRON: sweep schedule (default: @every 1m)
// - REATTACH_LIMIT: stream re-attachments per job before leaving it to the sweep (default: 3)
//
// System:
// - DATA_DIR: directory holding the job database (default: /app/data)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - DEFAULT_TARGET_LANG: target language code (default: CHS)
type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	JobService JobServiceConfig `json:"job_service"`
	Upload     UploadConfig     `json:"upload"`
	Reconcile  ReconcileConfig  `json:"reconcile"`
	Translate  TranslateConfig  `json:"translate"`
	System     SystemConfig     `json:"system"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

type JobServiceConfig struct {
	URL     string `json:"url"`
	APIKey  string `json:"-"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

func (c JobServiceConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

const (
	UploadBackendHTTP = "http"
	UploadBackendS3   = "s3"
)

type UploadConfig struct {
	Backend     string   `json:"backend"`
	URL         string   `json:"url"`
	S3          S3Config `json:"s3"`
	Concurrency int      `json:"concurrency"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
	Bucket    string `json:"bucket"`
	PublicURL string `json:"public_url"`
}

type ReconcileConfig struct {
	CronExpr      string `json:"cron_expr"`
	ReattachLimit int    `json:"reattach_limit"`
}

type TranslateConfig struct {
	DefaultTargetLang string `json:"default_target_lang"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "imgtrans.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// LoadDotEnv merges a .env file into the process environment. A missing file
// is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			UIEnabled:   getEnvBool("UI_ENABLED", true),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
		},
		JobService: JobServiceConfig{
			URL:     getEnvString("JOB_SERVICE_URL", ""),
			APIKey:  getEnvString("JOB_SERVICE_API_KEY", ""),
			Model:   getEnvString("JOB_SERVICE_MODEL", remote.DefaultModel),
			Timeout: getEnvInt("JOB_SERVICE_TIMEOUT", 0),
		},
		Upload: UploadConfig{
			Backend: strings.ToLower(getEnvString("UPLOAD_BACKEND", UploadBackendHTTP)),
			URL:     getEnvString("IMAGE_UPLOAD_URL", ""),
			S3: S3Config{
				Endpoint:  getEnvString("S3_ENDPOINT", ""),
				Region:    getEnvString("S3_REGION", ""),
				AccessKey: getEnvString("S3_ACCESS_KEY", ""),
				SecretKey: getEnvString("S3_SECRET_KEY", ""),
				Bucket:    getEnvString("S3_BUCKET", ""),
				PublicURL: getEnvString("S3_PUBLIC_URL", ""),
			},
			Concurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		},
		Reconcile: ReconcileConfig{
			CronExpr:      getEnvString("RECONCILE_CRON", "@every 1m"),
			ReattachLimit: getEnvInt("REATTACH_LIMIT", 3),
		},
		Translate: TranslateConfig{
			DefaultTargetLang: getEnvString("DEFAULT_TARGET_LANG", langs.DefaultTarget),
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", config)
	return config, nil
}

// Validate checks if all required configuration is properly set
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JobService.URL) == "" {
		return fmt.Errorf("JOB_SERVICE_URL is required")
	}
	if strings.TrimSpace(c.JobService.APIKey) == "" {
		return fmt.Errorf("JOB_SERVICE_API_KEY is required")
	}
	if c.JobService.Timeout < 0 {
		return fmt.Errorf("JOB_SERVICE_TIMEOUT must not be negative")
	}
	switch c.Upload.Backend {
	case UploadBackendHTTP:
		if strings.TrimSpace(c.Upload.URL) == "" {
			return fmt.Errorf("IMAGE_UPLOAD_URL is required for the http upload backend")
		}
	case UploadBackendS3:
		if c.Upload.S3.Endpoint == "" || c.Upload.S3.Bucket == "" {
			return fmt.Errorf("S3_ENDPOINT and S3_BUCKET are required for the s3 upload backend")
		}
	default:
		return fmt.Errorf("unknown UPLOAD_BACKEND %q", c.Upload.Backend)
	}
	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1")
	}
	if c.Reconcile.ReattachLimit < 0 {
		return fmt.Errorf("REATTACH_LIMIT must not be negative")
	}
	if _, err := icron.Parse(c.Reconcile.CronExpr); err != nil {
		return fmt.Errorf("RECONCILE_CRON: %w", err)
	}
	if _, ok := langs.LookupTarget(c.Translate.DefaultTargetLang); !ok {
		return fmt.Errorf("unknown DEFAULT_TARGET_LANG %q", c.Translate.DefaultTargetLang)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
