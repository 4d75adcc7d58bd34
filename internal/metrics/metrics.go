package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MimeLyc/image-translator/internal/jobs"
)

const namespace = "imgtrans"

// Collectors implements jobs.Metrics on its own registry.
type Collectors struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	uploadFailures prometheus.Counter
	rejections     *prometheus.CounterVec
	fallbacks      prometheus.Counter
	pollFailures   prometheus.Counter
	sweeps         *prometheus.CounterVec
	inFlight       prometheus.GaugeFunc
}

var _ jobs.Metrics = (*Collectors)(nil)

// New builds and registers the collectors. inFlight, when set, is sampled on
// every scrape for the registry size gauge.
func New(inFlight func() int) *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_transitions_total",
				Help:      "Job status transitions by target status.",
			},
			[]string{"status"},
		),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Images that could not be uploaded to the object store.",
		}),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submit_rejections_total",
				Help:      "Translation submissions rejected by the job service, by kind.",
			},
			[]string{"kind"},
		),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fallbacks_total",
			Help:      "Progress streams that ended without a terminal chunk.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Status polls that failed and were left for the next sweep.",
		}),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Reconciliation sweeps by result.",
			},
			[]string{"result"},
		),
	}
	if inFlight == nil {
		inFlight = func() int { return 0 }
	}
	c.inFlight = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight_jobs",
		Help:      "Jobs currently tracked by the in-flight registry.",
	}, func() float64 { return float64(inFlight()) })

	c.registry.MustRegister(
		c.transitions,
		c.uploadFailures,
		c.rejections,
		c.fallbacks,
		c.pollFailures,
		c.sweeps,
		c.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (c *Collectors) ObserveTransition(status jobs.Status) {
	c.transitions.WithLabelValues(status.String()).Inc()
}

func (c *Collectors) ObserveUploadFailure() { c.uploadFailures.Inc() }

func (c *Collectors) ObserveSubmitRejected(kind string) {
	c.rejections.WithLabelValues(norm(kind)).Inc()
}

func (c *Collectors) ObserveStreamFallback() { c.fallbacks.Inc() }

func (c *Collectors) ObservePollFailure() { c.pollFailures.Inc() }

// ObserveSweep counts one reconciliation sweep.
func (c *Collectors) ObserveSweep(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.sweeps.WithLabelValues(result).Inc()
}

func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the exposition format for this registry only.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
