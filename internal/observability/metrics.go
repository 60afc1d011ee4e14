package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lightning"

// Metrics holds the Prometheus counters, histograms, and gauges for the tracker.
type Metrics struct {
	// Ingestion metrics.
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter
	StrikesAccepted  prometheus.Counter
	StrikesRejected  prometheus.Counter
	DecodeErrors     prometheus.Counter

	// Subscription metrics.
	SubscriptionOps   *prometheus.CounterVec // labels: op={subscribe,unsubscribe}, outcome={success,error}
	ActiveTiles       prometheus.Gauge
	CoveragePrecision prometheus.Gauge
	Relocations       *prometheus.CounterVec // labels: outcome={applied,ignored,coalesced,recorded,failed}
	LocationUpdates   *prometheus.CounterVec // labels: result={accepted,invalid,unavailable}
	MQTTConnected     prometheus.Gauge

	// Republishing metrics.
	StrikesPublished        *prometheus.CounterVec // labels: sink
	PublishErrors           *prometheus.CounterVec // labels: sink
	PublishDropped          prometheus.Counter
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Relay metrics.
	RelayFrames *prometheus.CounterVec // labels: outcome={published,decode_error,publish_error}
}

// NewMetrics creates and registers all tracker metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total MQTT messages delivered by the broker.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the inbound queue was full.",
		}),
		StrikesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_accepted_total",
			Help:      "Strikes inside the observer radius delivered to listeners.",
		}),
		StrikesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_rejected_total",
			Help:      "Strikes decoded but outside the observer radius.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Strike payloads that could not be decoded.",
		}),
		SubscriptionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_operations_total",
			Help:      "Tile subscribe and unsubscribe calls by outcome.",
		}, []string{"op", "outcome"}),
		ActiveTiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tiles",
			Help:      "Number of tile subscriptions currently held.",
		}),
		CoveragePrecision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coverage_precision",
			Help:      "Geohash precision of the current coverage, 0 for the whole world.",
		}),
		Relocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocations_total",
			Help:      "Observer location changes by outcome.",
		}, []string{"outcome"}),
		LocationUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Tracked location payloads by result.",
		}, []string{"result"}),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 when the MQTT connection is up, 0 otherwise.",
		}),
		StrikesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_published_total",
			Help:      "Strikes written to a sink.",
		}, []string{"sink"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed batch writes by sink.",
		}, []string{"sink"}),
		PublishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_dropped_total",
			Help:      "Accepted strikes dropped because the publish queue was full.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_batch_size",
			Help:      "Number of strikes per published batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_batch_duration_seconds",
			Help:      "Duration of a complete enrich-and-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Nominatim API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
		RelayFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Upstream websocket frames by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesDropped,
		m.StrikesAccepted,
		m.StrikesRejected,
		m.DecodeErrors,
		m.SubscriptionOps,
		m.ActiveTiles,
		m.CoveragePrecision,
		m.Relocations,
		m.LocationUpdates,
		m.MQTTConnected,
		m.StrikesPublished,
		m.PublishErrors,
		m.PublishDropped,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.RelayFrames,
	}
}
