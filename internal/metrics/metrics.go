// Package metrics holds the prometheus collectors of the service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "musicroom_active_connections",
			Help: "Number of registered device connections.",
		},
	)

	RoomsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "musicroom_rooms_created_total",
			Help: "Total number of rooms created.",
		},
		[]string{"kind"},
	)

	RoomsEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "musicroom_rooms_evicted_total",
			Help: "Total number of rooms torn down.",
		},
		[]string{"reason"},
	)

	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "musicroom_broadcast_dropped_total",
			Help: "Frames dropped because a connection could not keep up.",
		},
	)

	BridgeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "musicroom_workflow_calls_total",
			Help: "Total number of workflow bridge calls.",
		},
		[]string{"op", "result"},
	)

	BridgeCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "musicroom_workflow_call_duration_seconds",
			Help:    "Duration of workflow bridge calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	TerminateRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "musicroom_terminate_retries_total",
			Help: "Out-of-band workflow terminations by outcome.",
		},
		[]string{"result"},
	)
)

// MustRegister registers every collector with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		ActiveConnections,
		RoomsCreatedTotal,
		RoomsEvictedTotal,
		BroadcastDroppedTotal,
		BridgeCallsTotal,
		BridgeCallDurationSeconds,
		TerminateRetriesTotal,
	)
}
