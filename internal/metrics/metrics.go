// Package metrics owns the Prometheus registry and the collectors shared
// across the storage, attachment and journal packages.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attache"

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by reg in the text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Register registers c with reg and returns it. When an identical collector
// is already registered the existing one is returned instead, so several
// components can share one registry. A nil reg leaves c unregistered.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// StoreOperations counts BlobStore calls by driver, operation and result.
func StoreOperations(reg prometheus.Registerer) *prometheus.CounterVec {
	return Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Blob store operations by driver, operation and result.",
	}, []string{"driver", "op", "result"}))
}

// StoreDuration observes BlobStore call latency.
func StoreDuration(reg prometheus.Registerer) *prometheus.HistogramVec {
	return Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Blob store operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"driver", "op"}))
}

// JournalEntries counts entries written to and drained from the retry
// journal.
func JournalEntries(reg prometheus.Registerer) *prometheus.CounterVec {
	return Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "entries_total",
		Help:      "Retry journal entries by action and outcome.",
	}, []string{"action", "outcome"}))
}

// Result labels an outcome from an error.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
