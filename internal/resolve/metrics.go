package resolve

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/speech/pkg/types"
)

// Error kinds reported on speech_resolve_errors_total.
const (
	kindNotFound    = "not_found"
	kindUnsupported = "unsupported"
	kindIntegrity   = "integrity"
	kindTimeout     = "timeout"
	kindProvider    = "provider"
	kindOther       = "other"
)

// resolveMetrics holds Prometheus metrics for asset resolution.
type resolveMetrics struct {
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	fetches         prometheus.Counter
	inserts         prometheus.Counter
	insertConflicts prometheus.Counter
	sharedFetches   prometheus.Counter
	fetchDuration   prometheus.Histogram
	errors          *prometheus.CounterVec
}

// initResolveMetrics creates the metrics and registers them with reg. A nil
// reg leaves them unregistered.
func initResolveMetrics(reg prometheus.Registerer) *resolveMetrics {
	factory := promauto.With(reg)
	return &resolveMetrics{
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_resolve_cache_hits_total",
			Help: "resolutions served from the asset cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_resolve_cache_misses_total",
			Help: "resolutions that missed the asset cache",
		}),
		fetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_resolve_fetches_total",
			Help: "calls made to the content provider",
		}),
		inserts: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_resolve_inserts_total",
			Help: "asset records inserted into the cache",
		}),
		insertConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_resolve_insert_conflicts_total",
			Help: "inserts that lost the race to a concurrent resolution",
		}),
		sharedFetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_resolve_shared_fetches_total",
			Help: "cache misses that joined an in-flight resolution",
		}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_resolve_fetch_duration_seconds",
			Help:    "content provider call latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_resolve_errors_total",
			Help: "failed resolutions by kind",
		}, []string{"kind"}),
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidName):
		return kindNotFound
	case errors.Is(err, types.ErrUnsupported):
		return kindUnsupported
	case errors.Is(err, types.ErrIntegrity):
		return kindIntegrity
	case errors.Is(err, types.ErrTimeout):
		return kindTimeout
	case errors.Is(err, types.ErrProvider):
		return kindProvider
	default:
		return kindOther
	}
}
