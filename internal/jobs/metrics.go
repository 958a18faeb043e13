package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	skips         *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	invoices      prometheus.Counter
	invoiceErrors prometheus.Counter
	notifications *prometheus.CounterVec
	leasesExpired prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Skip records a run that did not start because another instance held the job.
func (m *Metrics) Skip(job string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(job).Inc()
}

// AddInvoices counts materialised and failed invoices of one generation run.
func (m *Metrics) AddInvoices(created, failed int) {
	if m == nil {
		return
	}
	if created > 0 {
		m.invoices.Add(float64(created))
	}
	if failed > 0 {
		m.invoiceErrors.Add(float64(failed))
	}
}

// AddNotification counts one created notification of kind.
func (m *Metrics) AddNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// AddLeasesExpired counts leases flipped to EXPIRED.
func (m *Metrics) AddLeasesExpired(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.leasesExpired.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	skips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_skipped_total",
		Help: "Job runs skipped because another run held the lock.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	invoices := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_invoices_generated_total",
		Help: "Invoices materialised by monthly generation.",
	})
	invoiceErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_invoice_generation_errors_total",
		Help: "Leases whose invoice could not be generated.",
	})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_notifications_sent_total",
		Help: "Notifications created, grouped by kind.",
	}, []string{"kind"})
	leasesExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_leases_expired_total",
		Help: "Leases moved from ACTIVE to EXPIRED by the lifecycle sweep.",
	})
	registerer.MustRegister(runs, failures, skips, duration, invoices, invoiceErrors, notifications, leasesExpired)
	return &Metrics{
		runs:          runs,
		failures:      failures,
		skips:         skips,
		duration:      duration,
		invoices:      invoices,
		invoiceErrors: invoiceErrors,
		notifications: notifications,
		leasesExpired: leasesExpired,
	}
}
