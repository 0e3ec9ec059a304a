package monitoring

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	pagesTotal   *prometheus.CounterVec
	recordsTotal *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	// StoreLatency records record store operation latency.
	StoreLatency *prometheus.HistogramVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers. Until it is
// called the Record* helpers are no-ops.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	pagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_migrator_pages_total",
			Help: "Total number of converted pages by outcome",
		},
		[]string{"kind", "status"},
	)

	recordsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_migrator_records_total",
			Help: "Total number of source records by final stage",
		},
		[]string{"kind", "outcome"},
	)

	pageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_migrator_page_duration_seconds",
			Help:    "Time to convert one page",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_migrator_store_operation_seconds",
			Help:    "Record store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "content_migrator_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "content_migrator_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// RecordPage counts a finished page and its duration.
func RecordPage(kind, status string, elapsed time.Duration) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(kind, status).Inc()
	pageDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordRecords adds n records that ended in outcome.
func RecordRecords(kind, outcome string, n int) {
	if recordsTotal == nil || n == 0 {
		return
	}
	recordsTotal.WithLabelValues(kind, outcome).Add(float64(n))
}

// ObserveStore records the latency of a store operation started at start.
func ObserveStore(op string, start time.Time) {
	if StoreLatency == nil {
		return
	}
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway under job.
func Push(url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
