package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ambulance_dispatch"

var (
	BookingsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_total", Help: "Trips created by booking mode"}, []string{"mode"})
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "trip_transitions_total", Help: "Trip status transitions written"}, []string{"to"})
	ClaimConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "claim_conflicts_total", Help: "Conditional trip updates lost to a concurrent writer"})

	LocationWrites      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_writes_total", Help: "Ambulance location records written"})
	LocationWriteErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_write_errors_total", Help: "Ambulance location writes that failed"})

	ActiveTrips         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_trips", Help: "Non-terminal trips on the dashboard"})
	AmbulancesAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ambulances_available", Help: "Ambulances reporting available"})

	RouteCacheHits = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "route_cache_hits_total", Help: "Routes served from cache"})
	RouteErrors    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "route_errors_total", Help: "Routing service failures"})

	GeocodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_requests_total", Help: "Geocoding lookups"}, []string{"kind", "result"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
