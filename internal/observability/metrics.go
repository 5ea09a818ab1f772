package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hazard_watch"

// Metrics holds the Prometheus collectors for the sync engine.
type Metrics struct {
	// Synchronization.
	SyncFetches  *prometheus.CounterVec // labels: kind, outcome={fresh,cache,unavailable}
	SyncDuration prometheus.Histogram
	CacheEntries *prometheus.GaugeVec // labels: kind
	CachePruned  *prometheus.CounterVec // labels: kind, reason={age}

	// Remote source.
	RemoteRequests        *prometheus.CounterVec   // labels: endpoint, outcome={success,network,server,client,parse}
	RemoteRequestDuration *prometheus.HistogramVec // labels: endpoint

	// Realtime channel.
	RealtimeState      prometheus.Gauge
	RealtimeReconnects prometheus.Counter
	RealtimeMessages   *prometheus.CounterVec // labels: result={applied,dropped}

	// Geofence + state.
	BannerTransitions *prometheus.CounterVec // labels: state
	StateSubscribers  prometheus.Gauge

	// Reverse geocoding.
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: tier={lru,redis}, result={hit,miss}

	// Notifications.
	NotificationsPublished *prometheus.CounterVec // labels: sink, outcome={success,error}
}

func newMetrics() *Metrics {
	return &Metrics{
		SyncFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_fetches_total",
			Help:      "Snapshot slices settled by kind and source.",
		}, []string{"kind", "outcome"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a complete fetch-all cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entities held in the local cache by kind.",
		}, []string{"kind"}),
		CachePruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_pruned_total",
			Help:      "Cache entries removed by kind and reason.",
		}, []string{"kind", "reason"}),
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		RemoteRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		RealtimeState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_state",
			Help:      "Realtime channel state: 0 disconnected, 1 connecting, 2 connected, 3 permanently closed.",
		}),
		RealtimeReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Reconnect attempts scheduled after a retryable failure.",
		}),
		RealtimeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_messages_total",
			Help:      "Realtime frames by result.",
		}, []string{"result"}),
		BannerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "banner_transitions_total",
			Help:      "Banner state changes by new state.",
		}, []string{"state"}),
		StateSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_stream_subscribers",
			Help:      "Active gRPC state stream subscribers.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		NotificationsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Banner notifications by sink and outcome.",
		}, []string{"sink", "outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncFetches,
		m.SyncDuration,
		m.CacheEntries,
		m.CachePruned,
		m.RemoteRequests,
		m.RemoteRequestDuration,
		m.RealtimeState,
		m.RealtimeReconnects,
		m.RealtimeMessages,
		m.BannerTransitions,
		m.StateSubscribers,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.NotificationsPublished,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
