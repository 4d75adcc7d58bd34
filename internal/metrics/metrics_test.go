package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/image-translator/internal/jobs"
)

func TestCollectors_CountLifecycleEvents(t *testing.T) {
	c := New(func() int { return 3 })

	c.ObserveTransition(jobs.StatusQueued)
	c.ObserveTransition(jobs.StatusTranslated)
	c.ObserveTransition(jobs.StatusTranslated)
	c.ObserveUploadFailure()
	c.ObserveSubmitRejected(" Timeout ")
	c.ObserveStreamFallback()
	c.ObservePollFailure()
	c.ObservePollFailure()
	c.ObserveSweep(nil)
	c.ObserveSweep(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("translated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uploadFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejections.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweeps.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.inFlight))
}

func TestCollectors_Handler(t *testing.T) {
	c := New(nil)
	c.ObserveTransition(jobs.StatusTranslationFailed)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `imgtrans_job_transitions_total{status="translation_failed"} 1`)
	assert.Contains(t, string(body), "imgtrans_in_flight_jobs 0")
}
