package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JOB_SERVICE_URL", "https://jobs.example.test")
	t.Setenv("JOB_SERVICE_API_KEY", "test-key")
	t.Setenv("IMAGE_UPLOAD_URL", "https://upload.example.test/api/upload")
}

func TestNewFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATA_DIR", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.UIEnabled)
	assert.Equal(t, "/app/web", cfg.HTTP.UIStaticDir)
	assert.Equal(t, "gpt-4o-2024-08-06", cfg.JobService.Model)
	assert.Equal(t, time.Duration(0), cfg.JobService.TimeoutDuration())
	assert.Equal(t, UploadBackendHTTP, cfg.Upload.Backend)
	assert.Equal(t, 4, cfg.Upload.Concurrency)
	assert.Equal(t, "@every 1m", cfg.Reconcile.CronExpr)
	assert.Equal(t, 3, cfg.Reconcile.ReattachLimit)
	assert.Equal(t, "CHS", cfg.Translate.DefaultTargetLang)
	assert.Equal(t, filepath.Join("/app/data", "imgtrans.db"), cfg.DBPath())

	assert.Equal(t, "test-key", cfg.JobService.APIKey)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATA_DIR", "/tmp/img-data")
	t.Setenv("JOB_SERVICE_TIMEOUT", "45")
	t.Setenv("UI_ENABLED", "false")
	t.Setenv("UPLOAD_BACKEND", "S3")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_BUCKET", "images")
	t.Setenv("RECONCILE_CRON", "*/5 * * * *")
	t.Setenv("UPLOAD_CONCURRENCY", "not-a-number")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/tmp/img-data", "imgtrans.db"), cfg.DBPath())
	assert.Equal(t, 45*time.Second, cfg.JobService.TimeoutDuration())
	assert.False(t, cfg.HTTP.UIEnabled)
	assert.Equal(t, UploadBackendS3, cfg.Upload.Backend)
	assert.Equal(t, "images", cfg.Upload.S3.Bucket)
	assert.Equal(t, "*/5 * * * *", cfg.Reconcile.CronExpr)
	assert.Equal(t, 4, cfg.Upload.Concurrency)
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing service url", env: map[string]string{"JOB_SERVICE_URL": ""}, wantErr: "JOB_SERVICE_URL"},
		{name: "missing api key", env: map[string]string{"JOB_SERVICE_API_KEY": ""}, wantErr: "JOB_SERVICE_API_KEY"},
		{name: "missing upload url", env: map[string]string{"IMAGE_UPLOAD_URL": ""}, wantErr: "IMAGE_UPLOAD_URL"},
		{name: "s3 without bucket", env: map[string]string{"UPLOAD_BACKEND": "s3", "S3_ENDPOINT": "http://minio:9000"}, wantErr: "S3_BUCKET"},
		{name: "unknown backend", env: map[string]string{"UPLOAD_BACKEND": "ftp"}, wantErr: "UPLOAD_BACKEND"},
		{name: "bad cron", env: map[string]string{"RECONCILE_CRON": "sometimes"}, wantErr: "RECONCILE_CRON"},
		{name: "bad language", env: map[string]string{"DEFAULT_TARGET_LANG": "XXX"}, wantErr: "DEFAULT_TARGET_LANG"},
		{name: "zero concurrency", env: map[string]string{"UPLOAD_CONCURRENCY": "0"}, wantErr: "UPLOAD_CONCURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IMGTRANS_DOTENV_PROBE=from-file\n"), 0o600))
	t.Setenv("IMGTRANS_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("IMGTRANS_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("IMGTRANS_DOTENV_PROBE"))
}
