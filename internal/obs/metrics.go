package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/admitd/admitd/internal/gateway"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	FailOpen        prometheus.Counter
	EvictedWindows  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitd_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"pattern", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admitd_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pattern", "method"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admitd_rate_limited_total",
				Help: "Total requests rejected by admission control",
			},
			[]string{"pattern"},
		),
		FailOpen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admitd_limiter_failopen_total",
				Help: "Total admission checks that failed open after a bookkeeping panic",
			},
		),
		EvictedWindows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admitd_window_entries_evicted_total",
				Help: "Total stale window counters removed by eviction sweeps",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RateLimited, m.FailOpen, m.EvictedWindows)
	return m
}

// ActiveWindowsGauge registers a gauge tracking live window counters.
func ActiveWindowsGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "admitd_active_windows",
			Help: "Live window counters in the admission store",
		},
		func() float64 { return float64(count()) },
	))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics, labeled by the rate-limit
// pattern the path resolves to (bounded cardinality, unlike raw paths).
func (m *Metrics) Middleware(patternOf func(path string) string) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			pattern := patternOf(r.URL.Path)
			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(pattern, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
