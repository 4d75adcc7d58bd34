package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/image-translator/pkg/icron"
)

type countingReconciler struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (r *countingReconciler) ReconcilePending(context.Context) (int, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	return 2, r.err
}

type recordingObserver struct {
	mu   sync.Mutex
	errs []error
}

func (o *recordingObserver) ObserveSweep(err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func TestNew_RejectsInvalidExpression(t *testing.T) {
	_, err := New(cron.New(), "not a cron", &countingReconciler{})
	require.Error(t, err)
}

func TestSweeper_RunOnceReportsResult(t *testing.T) {
	rec := &countingReconciler{err: errors.New("db locked")}
	obs := &recordingObserver{}
	s, err := New(cron.New(), "@every 1m", rec, WithObserver(obs))
	require.NoError(t, err)

	n, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, n)

	last, polled := s.LastRun()
	assert.False(t, last.IsZero())
	assert.Equal(t, 2, polled)
	require.Len(t, obs.errs, 1)
	assert.EqualError(t, obs.errs[0], "db locked")
}

func TestSweeper_OverlappingRunsCollapse(t *testing.T) {
	rec := &countingReconciler{release: make(chan struct{})}
	s, err := New(cron.New(), "@every 1m", rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RunOnce(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(rec.release)
	wg.Wait()

	assert.LessOrEqual(t, rec.calls.Load(), int32(5))
	assert.GreaterOrEqual(t, rec.calls.Load(), int32(1))
}

func TestSweeper_ScheduledRunsFire(t *testing.T) {
	rec := &countingReconciler{}
	c := cron.New(cron.WithParser(icron.Parser()))
	s, err := New(c, "@every 1s", rec)
	require.NoError(t, err)
	require.NoError(t, s.Schedule(context.Background()))

	before := s.NextRun()
	assert.False(t, before.IsZero())

	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool { return rec.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.True(t, s.NextRun().After(time.Now().Add(-time.Second)))
}
