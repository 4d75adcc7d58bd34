package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/image-translator/pkg/icron"
	"github.com/MimeLyc/image-translator/pkg/log"
)

// Reconciler is the part of the job controller the sweep drives.
type Reconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

type Observer interface {
	ObserveSweep(err error)
}

// Sweeper periodically re-checks submitted jobs that no goroutine is
// following, which is how failed polls get retried.
type Sweeper struct {
	cron       *cron.Cron
	expr       string
	reconciler Reconciler
	observer   Observer
	logger     *log.Logger

	group singleflight.Group

	mu      sync.Mutex
	entry   cron.EntryID
	lastRun time.Time
	lastN   int
}

type Option func(*Sweeper)

func WithObserver(o Observer) Option {
	return func(s *Sweeper) {
		s.observer = o
	}
}

func New(c *cron.Cron, expr string, reconciler Reconciler, opts ...Option) (*Sweeper, error) {
	if _, err := icron.Parse(expr); err != nil {
		return nil, err
	}
	s := &Sweeper{
		cron:       c,
		expr:       expr,
		reconciler: reconciler,
		logger:     log.GetLogger().Named("sweep"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule registers the sweep on the cron engine. Starting and stopping the
// engine is left to the caller.
func (s *Sweeper) Schedule(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.expr, func() {
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()
	return nil
}

// RunOnce sweeps now. Calls that overlap a running sweep share its result.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("sweep", func() (any, error) {
		n, err := s.reconciler.ReconcilePending(ctx)
		s.mu.Lock()
		s.lastRun = time.Now()
		s.lastN = n
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.ObserveSweep(err)
		}
		if err != nil {
			s.logger.Error("Reconciliation sweep failed: %v", err)
			return n, err
		}
		if n > 0 {
			s.logger.Info("Reconciliation sweep polled %d jobs", n)
		}
		return n, nil
	})
	n, _ := v.(int)
	return n, err
}

// NextRun reports the next scheduled sweep, falling back to the expression
// when the engine has not started yet.
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	if id != 0 {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			return next
		}
	}
	info, err := icron.GetTriggerInfo(s.expr, time.Now())
	if err != nil {
		return time.Time{}
	}
	return info.Next
}

// LastRun returns when the previous sweep finished and how many jobs it polled.
func (s *Sweeper) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastN
}

func (s *Sweeper) Expression() string { return s.expr }
