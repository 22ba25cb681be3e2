package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hold attempt outcomes recorded on the holds counter.
const (
	HoldResultOK       = "ok"
	HoldResultConflict = "conflict"
	HoldResultTimeout  = "lock_timeout"
	HoldResultFailed   = "failed"
)

// Metrics aggregates the Prometheus instruments the booking engine emits.
type Metrics struct {
	registry *prometheus.Registry

	HoldAttempts   *prometheus.CounterVec
	SlotsReclaimed prometheus.Counter
	Compensations  prometheus.Counter
	SlotsGenerated prometheus.Counter
	HTTPDuration   *prometheus.HistogramVec
}

// NewMetrics builds a registry with the engine's collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HoldAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_holds_total",
			Help: "Slot hold attempts by outcome.",
		}, []string{"result"}),
		SlotsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "booking_slots_reclaimed_total",
			Help: "Expired held slots returned to the available pool.",
		}),
		Compensations: factory.NewCounter(prometheus.CounterOpts{
			Name: "booking_compensations_total",
			Help: "Bookings cancelled because part of the hold expired before confirmation.",
		}),
		SlotsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "booking_slots_generated_total",
			Help: "Slots materialised from availability blocks.",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
