package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saaga0h/roomwatch/internal/roomstate"
)

const namespace = "roomwatch"

// Metrics holds the collectors for the state machine, the HTTP surface and
// the dispatcher. It satisfies roomstate.Listener and dispatcher.Observer.
// A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	accepted           *prometheus.CounterVec
	duplicates         prometheus.Counter
	validationFailures *prometheus.CounterVec
	demoted            prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	dispatched   *prometheus.CounterVec
	scanDuration prometheus.Histogram
}

// New registers all collectors on a fresh registry. trackedRooms, when
// non-nil, backs the tracked rooms gauge.
func New(trackedRooms func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_accepted_total",
			Help:      "Readings committed to room state, by resulting status.",
		}, []string{"status"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_duplicate_total",
			Help:      "Readings rejected as duplicate or out-of-order.",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_invalid_total",
			Help:      "Readings refused by validation, by offending field.",
		}, []string{"field"}),
		demoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_demoted_total",
			Help:      "Rooms moved to fallback by the sweeper.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatcher_records_total",
			Help:      "Records handled by the dispatcher, by collection and outcome.",
		}, []string{"collection", "outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatcher_scan_duration_seconds",
			Help:      "Duration of one full scan over all collections.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.accepted,
		m.duplicates,
		m.validationFailures,
		m.demoted,
		m.httpRequests,
		m.httpDuration,
		m.dispatched,
		m.scanDuration,
	)

	if trackedRooms != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_rooms",
			Help:      "Distinct rooms present in the state store.",
		}, func() float64 { return float64(trackedRooms()) }))
	}

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OnAccepted(ctx context.Context, r roomstate.AcceptedReading) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(r.Status.String()).Inc()
}

func (m *Metrics) OnDuplicate(ctx context.Context, r roomstate.RawReading) {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) OnDemoted(ctx context.Context, r roomstate.AcceptedReading) {
	if m == nil {
		return
	}
	m.demoted.Inc()
}

// ValidationFailed counts a refused reading. An empty field means the body
// itself could not be decoded.
func (m *Metrics) ValidationFailed(field string) {
	if m == nil {
		return
	}
	if field == "" {
		field = "body"
	}
	m.validationFailures.WithLabelValues(field).Inc()
}

func (m *Metrics) RecordDispatched(collection, outcome string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(collection, outcome).Inc()
}

func (m *Metrics) ScanCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations labelled by the matched
// route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
