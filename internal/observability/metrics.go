package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SwapTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "battery_swap", Name: "booking_transitions_total", Help: "Booking transitions by target status and result"},
		[]string{"to", "result"},
	)
	SwapLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "battery_swap", Name: "booking_transition_seconds", Help: "Booking transition latency seconds"},
		[]string{"to"},
	)
	TransactionsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "battery_swap", Name: "transactions_total", Help: "Completed swap transactions"})

	StationBatteries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "battery_swap", Name: "station_batteries", Help: "Batteries per station by state"},
		[]string{"station", "state"},
	)
	StationSOHAvg = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "battery_swap", Name: "station_soh_avg", Help: "Average state of health per station"},
		[]string{"station"},
	)

	FavoriteTogglesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "battery_swap", Name: "favorite_toggles_total", Help: "Favorite toggles by result"},
		[]string{"result"},
	)
	SupportTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "battery_swap", Name: "support_transitions_total", Help: "Support ticket transitions by target status"},
		[]string{"to"},
	)
	StationCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "battery_swap", Name: "station_cache_requests_total", Help: "Station cache lookups by result"},
		[]string{"result"},
	)
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "battery_swap", Name: "events_published_total", Help: "Events handed to the broker by type and result"},
		[]string{"type", "result"},
	)
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "battery_swap", Name: "ws_connections", Help: "Open driver websocket connections"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "battery_swap", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "battery_swap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RecordStation publishes the gauges for one station record.
func RecordStation(id string, available, charging, inUse, faulty int, sohAvg float64) {
	StationBatteries.WithLabelValues(id, "available").Set(float64(available))
	StationBatteries.WithLabelValues(id, "charging").Set(float64(charging))
	StationBatteries.WithLabelValues(id, "in_use").Set(float64(inUse))
	StationBatteries.WithLabelValues(id, "faulty").Set(float64(faulty))
	StationSOHAvg.WithLabelValues(id).Set(sohAvg)
}
