package pipeline

import (
	"expvar"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carechain/internal/config"
	"carechain/pkg/domain"
)

// MetricsRecorder observes pipeline activity. Implementations must be safe
// for concurrent use and must not block the worker loop.
type MetricsRecorder interface {
	JobSubmitted()
	JobCompleted(elapsed time.Duration)
	JobFailed()
	JobRetried()
	JobDeadLettered()
	ChainWrite(kind domain.OperationKind)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) JobSubmitted()                   {}
func (NopMetrics) JobCompleted(time.Duration)      {}
func (NopMetrics) JobFailed()                      {}
func (NopMetrics) JobRetried()                     {}
func (NopMetrics) JobDeadLettered()                {}
func (NopMetrics) ChainWrite(domain.OperationKind) {}

var _ MetricsRecorder = NopMetrics{}

// ExpvarMetrics publishes counters under the process expvar namespace.
type ExpvarMetrics struct {
	submitted    *expvar.Int
	completed    *expvar.Int
	failed       *expvar.Int
	retried      *expvar.Int
	deadLettered *expvar.Int
	mints        *expvar.Int
	updates      *expvar.Int
	totalSeconds *expvar.Float
}

// NewExpvarMetrics registers the carechain expvar counters under ns. Each
// namespace may be registered once per process.
func NewExpvarMetrics(ns string) *ExpvarMetrics {
	return &ExpvarMetrics{
		submitted:    expvar.NewInt(ns + ".jobs.submitted"),
		completed:    expvar.NewInt(ns + ".jobs.completed"),
		failed:       expvar.NewInt(ns + ".jobs.failed"),
		retried:      expvar.NewInt(ns + ".jobs.retried"),
		deadLettered: expvar.NewInt(ns + ".jobs.dead_lettered"),
		mints:        expvar.NewInt(ns + ".chain.mints"),
		updates:      expvar.NewInt(ns + ".chain.updates"),
		totalSeconds: expvar.NewFloat(ns + ".jobs.completed_seconds_total"),
	}
}

func (m *ExpvarMetrics) JobSubmitted() { m.submitted.Add(1) }
func (m *ExpvarMetrics) JobCompleted(elapsed time.Duration) {
	m.completed.Add(1)
	m.totalSeconds.Add(elapsed.Seconds())
}
func (m *ExpvarMetrics) JobFailed()       { m.failed.Add(1) }
func (m *ExpvarMetrics) JobRetried()      { m.retried.Add(1) }
func (m *ExpvarMetrics) JobDeadLettered() { m.deadLettered.Add(1) }
func (m *ExpvarMetrics) ChainWrite(kind domain.OperationKind) {
	if kind == domain.OpMint {
		m.mints.Add(1)
		return
	}
	m.updates.Add(1)
}

var _ MetricsRecorder = (*ExpvarMetrics)(nil)

// PrometheusMetrics publishes pipeline metrics on a private registry served
// by Handler.
type PrometheusMetrics struct {
	registry     *prometheus.Registry
	submitted    prometheus.Counter
	failed       prometheus.Counter
	retried      prometheus.Counter
	deadLettered prometheus.Counter
	chainWrites  *prometheus.CounterVec
	duration     prometheus.Histogram
}

// NewPrometheusMetrics constructs a recorder with its own registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	m := &PrometheusMetrics{
		registry: reg,
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carechain_jobs_submitted_total",
			Help: "Analysis jobs accepted for processing.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carechain_jobs_failed_total",
			Help: "Analysis jobs that reached terminal failure.",
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carechain_jobs_retried_total",
			Help: "Job attempts returned to the queue for redelivery.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carechain_jobs_dead_lettered_total",
			Help: "Messages routed to the dead-letter holding queue.",
		}),
		chainWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carechain_chain_writes_total",
			Help: "Provenance chain writes by operation kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carechain_job_duration_seconds",
			Help:    "Wall time from pickup to completion for successful jobs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	reg.MustRegister(m.submitted, m.failed, m.retried, m.deadLettered, m.chainWrites, m.duration)
	return m
}

// Handler serves the scrape endpoint for this recorder's registry.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) JobSubmitted() { m.submitted.Inc() }
func (m *PrometheusMetrics) JobCompleted(elapsed time.Duration) {
	m.duration.Observe(elapsed.Seconds())
}
func (m *PrometheusMetrics) JobFailed()       { m.failed.Inc() }
func (m *PrometheusMetrics) JobRetried()      { m.retried.Inc() }
func (m *PrometheusMetrics) JobDeadLettered() { m.deadLettered.Inc() }
func (m *PrometheusMetrics) ChainWrite(kind domain.OperationKind) {
	m.chainWrites.WithLabelValues(string(kind)).Inc()
}

var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewRecorder selects a MetricsRecorder from configuration. The returned
// handler is non-nil only for recorders that serve a scrape endpoint.
func NewRecorder(cfg config.Metrics) (MetricsRecorder, http.Handler, error) {
	switch cfg.Recorder {
	case "expvar", "":
		return NewExpvarMetrics("carechain"), nil, nil
	case "prometheus":
		m := NewPrometheusMetrics()
		return m, m.Handler(), nil
	case "none":
		return NopMetrics{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics recorder %s", cfg.Recorder)
	}
}
