package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the monitor.
type Metrics struct {
	ReadingsReceived prometheus.Counter
	ReadingsIgnored  *prometheus.CounterVec // labels: reason={missing_field,malformed}
	MonitorRunning   prometheus.Gauge

	// Current dashboard state.
	WaterLevel     prometheus.Gauge
	StatusTier     prometheus.Gauge         // 0 SAFE, 1 WARNING, 2 DANGER
	StatusChanges  *prometheus.CounterVec   // labels: from, to
	HistoryRecords prometheus.Gauge
	SeriesPoints   prometheus.Gauge
	EventDuration  *prometheus.HistogramVec // labels: event={feed,history,tick}

	// History logger.
	HistoryAppends      prometheus.Counter
	HistoryAppendErrors prometheus.Counter
	HistorySkipped      *prometheus.CounterVec // labels: reason={awaiting_first_reading,unchanged}

	// Status events.
	StatusEventsPublished prometheus.Counter
	StatusEventErrors     prometheus.Counter

	// Dashboard stream.
	StreamClients prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
}

// NewMetrics creates and registers all monitor metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ReadingsReceived,
		m.ReadingsIgnored,
		m.MonitorRunning,
		m.WaterLevel,
		m.StatusTier,
		m.StatusChanges,
		m.HistoryRecords,
		m.SeriesPoints,
		m.EventDuration,
		m.HistoryAppends,
		m.HistoryAppendErrors,
		m.HistorySkipped,
		m.StatusEventsPublished,
		m.StatusEventErrors,
		m.StreamClients,
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "readings_received_total",
			Help:      "Total feed deliveries handled by the monitor.",
		}),
		ReadingsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "readings_ignored_total",
			Help:      "Feed deliveries that did not produce a reading, by reason.",
		}, []string{"reason"}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_monitor",
			Name:      "monitor_running",
			Help:      "1 when the monitor event loop is active, 0 when shut down.",
		}),
		WaterLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_monitor",
			Name:      "water_level_cm",
			Help:      "Latest accepted water level in centimeters.",
		}),
		StatusTier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_monitor",
			Name:      "status_tier",
			Help:      "Current flood-risk tier: 0 SAFE, 1 WARNING, 2 DANGER.",
		}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "status_changes_total",
			Help:      "Flood-risk tier transitions.",
		}, []string{"from", "to"}),
		HistoryRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_monitor",
			Name:      "history_records",
			Help:      "Records in the last history snapshot, including ones without a level.",
		}),
		SeriesPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_monitor",
			Name:      "series_points",
			Help:      "Points in the projected trend series.",
		}),
		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flood_monitor",
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one event in the monitor loop.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"event"}),
		HistoryAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "history_appends_total",
			Help:      "Readings written to the history store.",
		}),
		HistoryAppendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "history_append_errors_total",
			Help:      "History writes that failed. Failed writes are not retried.",
		}),
		HistorySkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "history_skipped_total",
			Help:      "Accepted readings the history logger did not write, by reason.",
		}, []string{"reason"}),
		StatusEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "status_events_published_total",
			Help:      "Status transitions written to the status topic.",
		}),
		StatusEventErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "status_event_errors_total",
			Help:      "Status transitions that failed to publish.",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_monitor",
			Name:      "stream_clients",
			Help:      "Connected dashboard websocket clients.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_monitor",
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flood_monitor",
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
	}
}
