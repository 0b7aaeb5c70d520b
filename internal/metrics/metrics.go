// Package metrics registers the Prometheus collectors for sync jobs:
//
//	quoteflow_adapter_calls_total{provider,operation,outcome}
//	quoteflow_adapter_call_seconds{provider}
//	quoteflow_failover_total{operation,outcome}
//	quoteflow_units_total{classification,status}
//	quoteflow_records_written_total{classification,backend}
//	quoteflow_saga_total{classification,outcome}
//	quoteflow_rate_limit_events_total{provider,kind}
//
// plus the go_* and process_* collectors. Recording before Init is a no-op.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	adapterCalls   *prometheus.CounterVec
	adapterLatency *prometheus.HistogramVec
	failovers      *prometheus.CounterVec
	units          *prometheus.CounterVec
	records        *prometheus.CounterVec
	sagas          *prometheus.CounterVec
	limitEvents    *prometheus.CounterVec
)

// Init creates and registers the collectors once per process.
func Init() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		adapterCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_adapter_calls_total",
			Help: "Upstream adapter invocations by outcome",
		}, []string{"provider", "operation", "outcome"})

		adapterLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quoteflow_adapter_call_seconds",
			Help:    "Latency of upstream adapter calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"})

		failovers = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_failover_total",
			Help: "Failover chain executions by outcome",
		}, []string{"operation", "outcome"})

		units = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_units_total",
			Help: "Finished sync units by status",
		}, []string{"classification", "status"})

		records = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_records_written_total",
			Help: "Rows persisted per classification and backend",
		}, []string{"classification", "backend"})

		sagas = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_saga_total",
			Help: "Saga write outcomes",
		}, []string{"classification", "outcome"})

		limitEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoteflow_rate_limit_events_total",
			Help: "Provider responses that signalled throttling or an IP ban",
		}, []string{"provider", "kind"})

		registry.MustRegister(
			adapterCalls, adapterLatency, failovers, units, records, sagas, limitEvents,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// Registry returns the registry built by Init, or nil before Init.
func Registry() *prometheus.Registry {
	return registry
}

func ObserveAdapterCall(provider, operation, outcome string, took time.Duration) {
	if adapterCalls == nil {
		return
	}
	adapterCalls.WithLabelValues(provider, operation, outcome).Inc()
	adapterLatency.WithLabelValues(provider).Observe(took.Seconds())
}

func IncFailover(operation, outcome string) {
	if failovers != nil {
		failovers.WithLabelValues(operation, outcome).Inc()
	}
}

func IncUnit(classification, status string) {
	if units != nil {
		units.WithLabelValues(classification, status).Inc()
	}
}

func AddRecords(classification, backend string, n int) {
	if records != nil && n > 0 {
		records.WithLabelValues(classification, backend).Add(float64(n))
	}
}

func IncSaga(classification, outcome string) {
	if sagas != nil {
		sagas.WithLabelValues(classification, outcome).Inc()
	}
}

func incLimitEvent(provider, kind string) {
	if limitEvents != nil {
		limitEvents.WithLabelValues(provider, kind).Inc()
	}
}
