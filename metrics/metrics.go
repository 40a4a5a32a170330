// Package metrics exposes Prometheus collectors for collection operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcome labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Collector holds the Prometheus metrics recorded by a database. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Operations   *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec
	Records      *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry under the given
// namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of collection operations",
		},
		[]string{"operation", "collection", "status"},
	)

	syncDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of collection syncs to the backing store in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	records := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Number of records held by a collection",
		},
		[]string{"collection"},
	)

	registry.MustRegister(operations, syncDuration, records)

	return &Collector{
		registry:     registry,
		Operations:   operations,
		SyncDuration: syncDuration,
		Records:      records,
	}
}

// ObserveOperation counts a finished verb call.
func (c *Collector) ObserveOperation(operation, collection string, err error) {
	if c == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	c.Operations.WithLabelValues(operation, collection, status).Inc()
}

// ObserveSync records how long a sync took.
func (c *Collector) ObserveSync(collection string, d time.Duration) {
	if c == nil {
		return
	}
	c.SyncDuration.WithLabelValues(collection).Observe(d.Seconds())
}

// SetRecords sets the record count of a collection.
func (c *Collector) SetRecords(collection string, n int) {
	if c == nil {
		return
	}
	c.Records.WithLabelValues(collection).Set(float64(n))
}

// Forget drops every series labelled with the collection.
func (c *Collector) Forget(collection string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"collection": collection}
	c.Operations.DeletePartialMatch(labels)
	c.SyncDuration.DeletePartialMatch(labels)
	c.Records.DeletePartialMatch(labels)
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
