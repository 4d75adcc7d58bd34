package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/image-translator/internal/remote"
	"github.com/MimeLyc/image-translator/pkg/log"
)

const (
	msgUploading       = "uploading image"
	msgQueued          = "queued for translation"
	msgNoTranslatedURL = "translation finished without an image"

	defaultReattachLimit     = 3
	defaultUploadConcurrency = 4
)

// Controller drives every job record through its lifecycle. It is the only
// writer of the Store and keeps the Projection in step with it.
type Controller struct {
	store      Store
	uploader   Uploader
	reconciler Reconciler
	registry   *Registry
	projection *Projection

	notifier          Notifier
	metrics           Metrics
	logger            *log.Logger
	now               clock
	reattachLimit     int
	uploadConcurrency int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	followers map[int64]*follower
	removed   map[int64]struct{}

	// admitMu keeps Refresh from purging a record between its creation and
	// its registration as in flight.
	admitMu sync.RWMutex

	// finalizeMu makes the terminal read-check-write atomic across goroutines.
	finalizeMu sync.Mutex
	polls      singleflight.Group
}

type follower struct {
	cancel context.CancelFunc
}

type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReattachLimit bounds how often a poll answering IN_PROGRESS may send
// the controller back to the stream before the job is left to the sweep.
func WithReattachLimit(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.reattachLimit = n
		}
	}
}

func WithUploadConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.uploadConcurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func NewController(store Store, uploader Uploader, reconciler Reconciler, registry *Registry, opts ...Option) *Controller {
	if registry == nil {
		registry = NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:             store,
		uploader:          uploader,
		reconciler:        reconciler,
		registry:          registry,
		projection:        NewProjection(),
		notifier:          noopNotifier{},
		metrics:           noopMetrics{},
		logger:            log.GetLogger().Named("jobs"),
		now:               time.Now,
		reattachLimit:     defaultReattachLimit,
		uploadConcurrency: defaultUploadConcurrency,
		baseCtx:           ctx,
		cancel:            cancel,
		followers:         make(map[int64]*follower),
		removed:           make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the in-flight set for status reporting.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Snapshot returns the current projection, newest first.
func (c *Controller) Snapshot() []JobRecord {
	return c.projection.List()
}

// Close stops local reconciliation and waits for background work to return.
// Remote jobs keep running; the next process picks them up through the sweep.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// SubmitUpload creates a record, uploads the image, and hands the job to the
// remote service in the background. It returns the Queued record, or an
// UploadError after the record has been deleted.
func (c *Controller) SubmitUpload(ctx context.Context, file Upload, opts TranslateOptions) (JobRecord, error) {
	rec, err := c.admit(ctx)
	if err != nil {
		return JobRecord{}, err
	}
	c.metrics.ObserveTransition(StatusUploading)

	url, err := c.uploader.Upload(ctx, file)
	if err == nil && url == "" {
		err = errors.New("upload response carried no url")
	}
	if err != nil {
		c.discard(ctx, rec.ID)
		c.metrics.ObserveUploadFailure()
		return JobRecord{}, WrapError(err, KindUpload, "upload image").
			WithContext("id", rec.ID).
			WithContext("file", file.Filename)
	}

	patch := Patch{
		Status:    ptr(StatusQueued),
		SourceURL: ptr(url),
		Message:   ptr(msgQueued),
	}
	if err := c.store.Update(ctx, rec.ID, patch); err != nil {
		c.registry.Remove(rec.ID)
		c.projection.Delete(rec.ID)
		return JobRecord{}, err
	}
	rec = patch.Apply(rec)
	c.projection.Patch(rec.ID, patch)
	c.metrics.ObserveTransition(StatusQueued)

	queued := rec
	if !c.spawn(rec.ID, func(jobCtx context.Context) {
		c.submitTranslation(jobCtx, queued, opts)
	}) && c.isRemoved(rec.ID) {
		c.registry.Remove(rec.ID)
		return JobRecord{}, NotFoundError(rec.ID)
	}
	return rec, nil
}

// admit creates an Uploading record and registers it as in flight.
func (c *Controller) admit(ctx context.Context) (JobRecord, error) {
	c.admitMu.RLock()
	defer c.admitMu.RUnlock()

	rec, err := c.store.Create(ctx, JobRecord{
		Status:    StatusUploading,
		Message:   msgUploading,
		CreatedAt: c.now().Format(CreatedAtLayout),
	})
	if err != nil {
		return JobRecord{}, err
	}
	c.registry.Add(rec.ID)
	c.projection.Put(rec)
	if c.isRemoved(rec.ID) {
		c.projection.Delete(rec.ID)
	}
	return rec, nil
}

type BatchResult struct {
	Filename string
	Record   JobRecord
	Err      error
}

// SubmitBatch uploads files concurrently. A failed file never cancels the others.
func (c *Controller) SubmitBatch(ctx context.Context, files []Upload, opts TranslateOptions) []BatchResult {
	results := make([]BatchResult, len(files))
	var g errgroup.Group
	g.SetLimit(c.uploadConcurrency)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			rec, err := c.SubmitUpload(ctx, file, opts)
			results[i] = BatchResult{Filename: file.Filename, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// discard drops a record whose upload never completed.
func (c *Controller) discard(ctx context.Context, id int64) {
	c.registry.Remove(id)
	c.projection.Delete(id)
	if err := c.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		c.logger.Error("Failed to delete job %d after upload failure: %v", id, err)
	}
}

func (c *Controller) submitTranslation(ctx context.Context, rec JobRecord, opts TranslateOptions) {
	if ctx.Err() != nil {
		return
	}
	horizontal, vertical := opts.Direction.Flags()
	remoteID, err := c.reconciler.Submit(ctx, remote.SubmitRequest{
		ImageURL:   rec.SourceURL,
		TargetLang: opts.TargetLang,
		Locale:     opts.Locale,
		Vertical:   vertical,
		Horizontal: horizontal,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.rejectSubmission(ctx, rec.ID, err)
		return
	}

	patch := Patch{RemoteJobID: ptr(remoteID)}
	if err := c.store.Update(ctx, rec.ID, patch); err != nil {
		if IsKind(err, KindNotFound) {
			c.logger.Info("Job %d was removed before remote job %s could be recorded", rec.ID, remoteID)
		} else {
			c.logger.Error("Failed to store remote job id %s for job %d: %v", remoteID, rec.ID, err)
		}
		c.registry.Remove(rec.ID)
		return
	}
	c.projection.Patch(rec.ID, patch)
	c.logger.Info("Job %d submitted as remote job %s", rec.ID, remoteID)

	c.follow(ctx, rec.ID, remoteID)
}

func (c *Controller) rejectSubmission(ctx context.Context, id int64, err error) {
	kind := remote.RejectUnclassified
	code := 0
	var subErr *remote.SubmitError
	if errors.As(err, &subErr) {
		kind = subErr.Kind
		code = subErr.Code
	}
	rejected := WrapError(err, KindSubmitRejected, "submit translation").WithContext("id", id)
	c.logger.Warn("%v", rejected)
	c.metrics.ObserveSubmitRejected(kind.String())

	applied, ferr := c.finalize(ctx, id, remote.Outcome{Kind: remote.OutcomeFailed, Message: err.Error()})
	if ferr != nil {
		c.logger.Error("Failed to mark job %d as failed: %v", id, ferr)
	}
	if applied {
		c.notifier.Notify(Notice{
			JobID:   id,
			Kind:    KindSubmitRejected.String(),
			Code:    code,
			Message: kind.String(),
		})
	}
}

// follow streams a remote job to its end, falling back to a poll whenever the
// stream breaks. A poll answering IN_PROGRESS re-attaches to the stream.
func (c *Controller) follow(ctx context.Context, id int64, remoteID string) {
	for attempt := 0; ; attempt++ {
		out, err := c.reconciler.Stream(ctx, remoteID, func(msg string) {
			c.progress(ctx, id, msg)
		})
		if err == nil {
			if _, ferr := c.finalize(ctx, id, out); ferr != nil {
				c.logger.Error("Failed to finalize job %d: %v", id, ferr)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.metrics.ObserveStreamFallback()
		c.logger.Warn("%v", WrapError(err, KindStreamInterrupted, "stream remote job").
			WithContext("id", id).
			WithContext("remote_job_id", remoteID))

		reattach := c.poll(ctx, id, remoteID)
		if !reattach {
			return
		}
		if attempt >= c.reattachLimit {
			c.logger.Warn("Job %d still in progress after %d re-attaches, leaving it to the sweep", id, attempt)
			c.registry.Remove(id)
			return
		}
	}
}

// poll reconciles one point-in-time status. It returns true when the caller
// should re-attach to the stream.
func (c *Controller) poll(ctx context.Context, id int64, remoteID string) bool {
	res, err := c.reconciler.Poll(ctx, remoteID)
	if err != nil {
		if ctx.Err() == nil {
			c.metrics.ObservePollFailure()
			c.logger.Warn("%v", WrapError(err, KindPollFailure, "poll remote job").
				WithContext("id", id).
				WithContext("remote_job_id", remoteID))
		}
		c.registry.Remove(id)
		return false
	}
	switch {
	case res.InProgress:
		return true
	case res.Outcome != nil:
		if _, ferr := c.finalize(ctx, id, *res.Outcome); ferr != nil {
			c.logger.Error("Failed to finalize job %d: %v", id, ferr)
		}
	default:
		c.registry.Remove(id)
	}
	return false
}

func (c *Controller) progress(ctx context.Context, id int64, msg string) {
	patch := Patch{Message: ptr(msg)}
	if err := c.store.Update(ctx, id, patch); err != nil {
		if !IsKind(err, KindNotFound) && ctx.Err() == nil {
			c.logger.Warn("Failed to record progress for job %d: %v", id, err)
		}
		return
	}
	c.projection.Patch(id, patch)
}

// finalize applies a terminal outcome exactly once. A record that is already
// terminal, or that no longer exists, is left alone and false is returned.
func (c *Controller) finalize(ctx context.Context, id int64, out remote.Outcome) (bool, error) {
	c.finalizeMu.Lock()
	defer c.finalizeMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	defer c.registry.Remove(id)

	rec, err := c.store.Get(ctx, id)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return false, nil
		}
		return false, err
	}
	if rec.Status.IsTerminal() {
		return false, nil
	}

	var patch Patch
	if out.Kind == remote.OutcomeFinished && out.URL != "" {
		patch = Patch{
			Status:        ptr(StatusTranslated),
			TranslatedURL: ptr(out.URL),
			Message:       ptr(""),
		}
	} else {
		msg := out.Message
		if out.Kind == remote.OutcomeFinished {
			msg = msgNoTranslatedURL
		}
		patch = Patch{
			Status:        ptr(StatusTranslationFailed),
			TranslatedURL: ptr(""),
			Message:       ptr(msg),
		}
	}
	if err := c.store.Update(ctx, id, patch); err != nil {
		if IsKind(err, KindNotFound) {
			return false, nil
		}
		return false, err
	}
	c.projection.Patch(id, patch)
	c.metrics.ObserveTransition(*patch.Status)
	c.logger.Info("Job %d reached %s", id, *patch.Status)
	return true, nil
}

// Refresh reloads a page into the projection. Records still Uploading that
// this process is not working on were abandoned by an earlier session and
// are deleted.
func (c *Controller) Refresh(ctx context.Context, offset int) ([]JobRecord, error) {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	recs, err := c.store.Page(ctx, offset)
	if err != nil {
		return nil, err
	}

	kept := make([]JobRecord, 0, len(recs))
	for _, rec := range recs {
		if c.isRemoved(rec.ID) {
			continue
		}
		if rec.Status == StatusUploading && !c.registry.Contains(rec.ID) {
			if err := c.store.Delete(ctx, rec.ID); err != nil {
				return nil, err
			}
			c.logger.Info("Purged abandoned job %d", rec.ID)
			continue
		}
		kept = append(kept, rec)
	}
	c.projection.Replace(kept)
	return kept, nil
}

func (c *Controller) Get(ctx context.Context, id int64) (JobRecord, error) {
	return c.store.Get(ctx, id)
}

// Remove deletes a record and stops reconciling it locally. The remote job
// is not cancelled.
func (c *Controller) Remove(ctx context.Context, id int64) error {
	c.mu.Lock()
	c.removed[id] = struct{}{}
	c.mu.Unlock()

	c.stopFollowing(id)
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.registry.Remove(id)
	c.projection.Delete(id)
	return nil
}

// ReconcilePending polls every submitted, non-terminal record that no
// goroutine of this process is following. It returns how many were polled.
func (c *Controller) ReconcilePending(ctx context.Context) (int, error) {
	recs, err := c.store.ListReconcilable(ctx)
	if err != nil {
		return 0, err
	}

	polled := 0
	for _, rec := range recs {
		if rec.Status.IsTerminal() || rec.RemoteJobID == "" || c.registry.Contains(rec.ID) {
			continue
		}
		polled++
		_, _, _ = c.polls.Do(strconv.FormatInt(rec.ID, 10), func() (any, error) {
			c.reconcileRecord(ctx, rec)
			return nil, nil
		})
	}
	return polled, nil
}

func (c *Controller) reconcileRecord(ctx context.Context, rec JobRecord) {
	if !c.poll(ctx, rec.ID, rec.RemoteJobID) {
		return
	}
	c.registry.Add(rec.ID)
	remoteID := rec.RemoteJobID
	if !c.spawn(rec.ID, func(jobCtx context.Context) {
		c.follow(jobCtx, rec.ID, remoteID)
	}) {
		c.registry.Remove(rec.ID)
	}
}

// spawn runs fn in a goroutine whose context is cancelled by Remove or Close.
// It reports false when the controller is closed or id was removed.
func (c *Controller) spawn(id int64, fn func(ctx context.Context)) bool {
	c.mu.Lock()
	if _, gone := c.removed[id]; c.closed || gone {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	f := &follower{cancel: cancel}
	if prev, ok := c.followers[id]; ok {
		prev.cancel()
	}
	c.followers[id] = f
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			if c.followers[id] == f {
				delete(c.followers, id)
			}
			c.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return true
}

func (c *Controller) isRemoved(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.removed[id]
	return ok
}

func (c *Controller) stopFollowing(id int64) {
	c.mu.Lock()
	f, ok := c.followers[id]
	delete(c.followers, id)
	c.mu.Unlock()
	if ok {
		f.cancel()
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(Notice) {}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(Status)     {}
func (noopMetrics) ObserveUploadFailure()        {}
func (noopMetrics) ObserveSubmitRejected(string) {}
func (noopMetrics) ObserveStreamFallback()       {}
func (noopMetrics) ObservePollFailure()          {}
