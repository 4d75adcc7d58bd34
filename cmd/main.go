package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/image-translator/internal/config"
	"github.com/MimeLyc/image-translator/internal/httpapi"
	"github.com/MimeLyc/image-translator/internal/jobs"
	"github.com/MimeLyc/image-translator/internal/metrics"
	"github.com/MimeLyc/image-translator/internal/persistence"
	"github.com/MimeLyc/image-translator/internal/remote"
	"github.com/MimeLyc/image-translator/internal/sweep"
	"github.com/MimeLyc/image-translator/internal/upload"
	"github.com/MimeLyc/image-translator/pkg/icron"
	"github.com/MimeLyc/image-translator/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
	RunOnce(ctx context.Context) (int, error)
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal("Failed to load .env: %v", err)
	}

	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if settings, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(settings))
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Ignoring settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, settingsPath); err != nil {
		log.Fatal("%v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, settingsPath string) error {
	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	settings, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		return fmt.Errorf("runtime settings: %w", err)
	}

	client, err := remote.NewClient(cfg.JobService.URL, settings, remote.WithTimeout(cfg.JobService.TimeoutDuration()))
	if err != nil {
		return fmt.Errorf("job service client: %w", err)
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return err
	}

	registry := jobs.NewRegistry()
	collectors := metrics.New(registry.Len)
	notices := httpapi.NewNoticeHub()

	controller := jobs.NewController(store, uploader, client, registry,
		jobs.WithNotifier(notices),
		jobs.WithMetrics(collectors),
		jobs.WithReattachLimit(cfg.Reconcile.ReattachLimit),
		jobs.WithUploadConcurrency(cfg.Upload.Concurrency),
	)
	defer controller.Close()

	engine := cron.New(cron.WithParser(icron.Parser()))
	sweeper, err := sweep.New(engine, cfg.Reconcile.CronExpr, controller, sweep.WithObserver(collectors))
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(controller,
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithNotices(notices),
		httpapi.WithSweepStatus(sweeper),
		httpapi.WithMetricsHandler(collectors.Handler()),
	)

	return runWithComponents(ctx, cfg, sweeper, engine, srv)
}

func newUploader(ctx context.Context, cfg *config.Config) (jobs.Uploader, error) {
	switch cfg.Upload.Backend {
	case config.UploadBackendS3:
		u, err := upload.NewS3Uploader(ctx, upload.S3Config{
			Endpoint:  cfg.Upload.S3.Endpoint,
			Region:    cfg.Upload.S3.Region,
			AccessKey: cfg.Upload.S3.AccessKey,
			SecretKey: cfg.Upload.S3.SecretKey,
			Bucket:    cfg.Upload.S3.Bucket,
			PublicURL: cfg.Upload.S3.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 uploader: %w", err)
		}
		return u, nil
	default:
		u, err := upload.NewHTTPUploader(cfg.Upload.URL)
		if err != nil {
			return nil, fmt.Errorf("http uploader: %w", err)
		}
		return u, nil
	}
}

// runWithComponents schedules the sweep, runs it once for jobs left over from
// a previous process, and serves HTTP until ctx is cancelled.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, engine cronEngine, srv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	engine.Start()
	defer engine.Stop()

	go func() {
		if _, err := sched.RunOnce(ctx); err != nil {
			log.Error("Startup sweep failed: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("Shut down")
	return nil
}
