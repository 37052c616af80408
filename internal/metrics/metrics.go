// Package metrics exposes the Prometheus collectors for the HTTP surface,
// the extraction pipeline, the OCR chain and the job manager.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

const namespace = "textextract"

// Metrics holds every collector. All methods are safe on a nil receiver so
// callers that don't care about metrics can pass nil.
type Metrics struct {
	reg *prometheus.Registry

	// HTTP
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	rateLimitHitsTotal   prometheus.Counter

	// Extraction
	extractionsTotal   *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	pagesTotal         *prometheus.CounterVec
	estimatedCostTotal prometheus.Counter

	// OCR
	ocrAttemptsTotal   *prometheus.CounterVec
	ocrAttemptDuration *prometheus.HistogramVec

	// Jobs
	jobsTotal         *prometheus.CounterVec
	jobsQueued        prometheus.Gauge
	jobsExpiredTotal  prometheus.Counter
	webhookDeliveries *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		}),
		rateLimitHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the per-IP rate limiter",
		}),

		extractionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Completed extractions by document type, quality and outcome",
			},
			[]string{"pdf_type", "quality", "outcome"},
		),
		extractionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extraction_duration_seconds",
				Help:      "End-to-end extraction latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"quality"},
		),
		pagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_total",
				Help:      "Extracted pages by extraction method",
			},
			[]string{"method"},
		),
		estimatedCostTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_ocr_cost_eur_total",
			Help:      "Sum of routing cost estimates in EUR",
		}),

		ocrAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ocr_attempts_total",
				Help:      "OCR backend calls by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		ocrAttemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ocr_attempt_duration_seconds",
				Help:      "OCR backend call latency in seconds",
				Buckets:   []float64{.25, .5, 1, 2, 3, 5, 10, 20, 30, 60},
			},
			[]string{"backend"},
		),

		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Async jobs by lifecycle event",
			},
			[]string{"status"},
		),
		jobsQueued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Jobs waiting for a worker",
		}),
		jobsExpiredTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_expired_total",
			Help:      "Jobs evicted after the retention window",
		}),
		webhookDeliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Webhook notifications by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count, latency and in-flight requests.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := normalizePath(r.URL.Path)
		status := statusClass(rec.status)
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.rateLimitHitsTotal.Inc()
}

// RecordExtraction records one finished extraction and its pages.
func (m *Metrics) RecordExtraction(q types.Quality, res types.ExtractionResult, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	pdfType := string(res.PDFType)
	if pdfType == "" {
		pdfType = string(types.Unknown)
	}
	m.extractionsTotal.WithLabelValues(pdfType, string(q), outcome).Inc()
	m.extractionDuration.WithLabelValues(string(q)).Observe(d.Seconds())
	for _, p := range res.Pages {
		m.pagesTotal.WithLabelValues(p.ExtractionMethod).Inc()
	}
	if res.Routing != nil {
		m.estimatedCostTotal.Add(res.Routing.EstimatedCost)
	}
}

// ObserveOCRAttempt implements ocr.Observer.
func (m *Metrics) ObserveOCRAttempt(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ocrAttemptsTotal.WithLabelValues(backend, outcome).Inc()
	m.ocrAttemptDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) RecordJob(status types.JobStatus) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SetJobsQueued(n int) {
	if m == nil {
		return
	}
	m.jobsQueued.Set(float64(n))
}

func (m *Metrics) RecordJobsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobsExpiredTotal.Add(float64(n))
}

func (m *Metrics) RecordWebhook(err error) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
}

// normalizePath collapses job IDs so label cardinality stays bounded.
func normalizePath(path string) string {
	if rest, ok := strings.CutPrefix(path, "/jobs/"); ok {
		if strings.HasSuffix(rest, "/result") {
			return "/jobs/:id/result"
		}
		return "/jobs/:id"
	}
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
