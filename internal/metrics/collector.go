package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes live counters for scraping, mirroring the ledger's
// per-profile, per-request-type classification.
type Collector struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	objectsTotal  *prometheus.CounterVec
	bytesTotal    prometheus.Counter
	inflight      prometheus.Gauge
	duration      prometheus.Histogram
}

// NewCollector creates a collector with its own registry so multiple
// instances can coexist in one process.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketview_requests_total",
				Help: "API requests by profile and request type",
			},
			[]string{"profile", "type"},
		),
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketview_migrate_objects_total",
				Help: "Migrated objects by outcome",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bucketview_migrate_bytes_total",
				Help: "Total bytes copied by migration jobs",
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bucketview_migrate_inflight_workers",
				Help: "Workers currently copying an object",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bucketview_migrate_object_duration_seconds",
				Help:    "Time taken to copy one object",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(c.requestsTotal, c.objectsTotal, c.bytesTotal, c.inflight, c.duration)
	return c
}

// IncRequest counts one API call against a profile.
func (c *Collector) IncRequest(profileName string, rt RequestType) {
	c.requestsTotal.WithLabelValues(profileName, string(rt)).Inc()
}

// IncSuccess counts one completed object copy.
func (c *Collector) IncSuccess() {
	c.objectsTotal.WithLabelValues("success").Inc()
}

// IncFailed counts one permanently failed object.
func (c *Collector) IncFailed() {
	c.objectsTotal.WithLabelValues("failed").Inc()
}

// IncSkipped counts one object skipped as already present.
func (c *Collector) IncSkipped() {
	c.objectsTotal.WithLabelValues("skipped").Inc()
}

// AddBytes adds to the copied-bytes counter.
func (c *Collector) AddBytes(n int64) {
	c.bytesTotal.Add(float64(n))
}

// WorkerStarted marks one copy as in flight.
func (c *Collector) WorkerStarted() { c.inflight.Inc() }

// WorkerDone marks one in-flight copy as finished.
func (c *Collector) WorkerDone() { c.inflight.Dec() }

// ObserveDuration records how long one object copy took.
func (c *Collector) ObserveDuration(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

// Handler returns the scrape handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. Blocks until the listener fails.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(addr, mux)
}
