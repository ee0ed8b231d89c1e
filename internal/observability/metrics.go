package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_places"

// Metrics holds the Prometheus collectors for the place repository.
type Metrics struct {
	// Repository commands. labels: command={find_and_add,refresh,move,delete}, outcome={success,partial,error}
	Commands *prometheus.CounterVec
	Places   prometheus.Gauge

	RefreshAllDuration prometheus.Histogram
	EventsDropped      prometheus.Counter

	// Fetch pipeline. labels: stage={resolve,weather,air_quality}
	FetchDuration *prometheus.HistogramVec
	FetchErrors   *prometheus.CounterVec // labels: stage, status

	// Resolver cache lookups. labels: result={hit,miss}
	ResolverCache *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Commands,
		m.Places,
		m.RefreshAllDuration,
		m.EventsDropped,
		m.FetchDuration,
		m.FetchErrors,
		m.ResolverCache,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Repository commands by command and outcome.",
		}, []string{"command", "outcome"}),
		Places: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "places",
			Help:      "Number of places currently stored.",
		}),
		RefreshAllDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_all_duration_seconds",
			Help:      "Duration of a complete refresh-all fan-out.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Change events dropped because a subscriber queue was full.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Remote call duration by pipeline stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Pipeline failures by stage and status.",
		}, []string{"stage", "status"}),
		ResolverCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_cache_total",
			Help:      "Resolver cache lookups by result.",
		}, []string{"result"}),
	}
}
