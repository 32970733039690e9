// Package metrics exposes the adapter's Prometheus instrumentation:
// per-façade HTTP request counters and latency histograms, association
// pool gauges, and Store-SCP sub-operation counters. Everything registers
// against the default registry and is served by Handler on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts DICOMweb requests by façade and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicombridge_http_requests_total",
			Help: "Total DICOMweb requests by route pattern and status code",
		},
		[]string{"route", "status"},
	)

	// HTTPRequestDuration observes request latency by façade.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicombridge_http_request_duration_seconds",
			Help:    "DICOMweb request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// PoolLeasesInUse tracks checked-out associations per peer.
	PoolLeasesInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dicombridge_pool_leases_in_use",
			Help: "Associations currently checked out of the pool, per peer",
		},
		[]string{"peer"},
	)

	// PoolIdle tracks free-list depth per peer.
	PoolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dicombridge_pool_idle_associations",
			Help: "Associations sitting warm in the pool free list, per peer",
		},
		[]string{"peer"},
	)

	// AssociationsDialed counts fresh outbound association negotiations.
	AssociationsDialed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicombridge_associations_dialed_total",
			Help: "Fresh outbound associations negotiated, per peer",
		},
		[]string{"peer"},
	)

	// MoveSubOperations counts C-STORE sub-operations received by the
	// Store-SCP, labelled by how they were correlated.
	MoveSubOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicombridge_move_suboperations_total",
			Help: "C-STORE sub-operations received, by mediator delivery outcome",
		},
		[]string{"outcome"}, // delivered, missing_callback, channel_closed
	)
)

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
