package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// EvalTotal counts flag evaluations by decision reason.
	EvalTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flag_evaluations_total",
		Help: "Flag evaluations by decision reason",
	}, []string{"reason"})

	// ApplyTotal counts coordinator writes by outcome.
	ApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flag_applies_total",
		Help: "Coordinator apply operations by outcome",
	}, []string{"outcome"})

	// CASConflicts counts storage-level compare-and-swap losses.
	CASConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flag_cas_conflicts_total",
		Help: "Optimistic concurrency conflicts at the storage boundary",
	})

	// ChangeFeedSeq tracks the newest locally applied change feed sequence.
	ChangeFeedSeq = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "change_feed_seq",
		Help: "Newest change feed sequence applied locally",
	})

	// StreamClients is the number of currently connected feed subscribers.
	StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_clients",
		Help: "Number of currently connected change feed stream clients",
	})

	// CachedFlags is the number of live flags in the in-memory store.
	CachedFlags = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cached_flags",
		Help: "Number of live flags currently in the in-memory store",
	})
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, EvalTotal, ApplyTotal, CASConflicts, ChangeFeedSeq, StreamClients, CachedFlags)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// get route pattern if available
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
