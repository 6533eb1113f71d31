// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the registry's Prometheus metric vectors, grouped by
// concern.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	federationSyncsTotal   *prometheus.CounterVec
	federationSyncDuration *prometheus.HistogramVec
	federationAgentsPulled *prometheus.CounterVec

	searchQueueDepth       *prometheus.GaugeVec
	searchReconcileLagSecs *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector builds a Collector and registers every metric under
// namespace via promauto.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.federationSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federation_syncs_total",
			Help:      "Total number of federation sync runs, by peer and outcome",
		},
		[]string{"peer_id", "outcome"},
	)

	c.federationSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "federation_sync_duration_seconds",
			Help:      "Federation sync run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"peer_id"},
	)

	c.federationAgentsPulled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "federation_agents_pulled_total",
			Help:      "Total number of agent entries pulled from a peer during sync",
		},
		[]string{"peer_id"},
	)

	c.searchQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_queue_depth",
			Help:      "Number of pending documents waiting to be indexed",
		},
		[]string{"index"},
	)

	c.searchReconcileLagSecs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_reconcile_lag_seconds",
			Help:      "Seconds since the search index was last reconciled against the store of record",
		},
		[]string{"index"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"endpoint"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"endpoint"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordFederationSync records one completed peer sync run.
func (c *Collector) RecordFederationSync(peerID, outcome string, duration time.Duration, agentsPulled int) {
	c.federationSyncsTotal.WithLabelValues(peerID, outcome).Inc()
	c.federationSyncDuration.WithLabelValues(peerID).Observe(duration.Seconds())
	c.federationAgentsPulled.WithLabelValues(peerID).Add(float64(agentsPulled))
}

// RecordSearchQueueDepth sets the current pending-document count for index.
func (c *Collector) RecordSearchQueueDepth(index string, depth int) {
	c.searchQueueDepth.WithLabelValues(index).Set(float64(depth))
}

// RecordSearchReconcileLag sets how long it has been since index was last
// reconciled against the store of record.
func (c *Collector) RecordSearchReconcileLag(index string, lag time.Duration) {
	c.searchReconcileLagSecs.WithLabelValues(index).Set(lag.Seconds())
}

// RecordCacheHit records one cache hit for endpoint.
func (c *Collector) RecordCacheHit(endpoint string) {
	c.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss records one cache miss for endpoint.
func (c *Collector) RecordCacheMiss(endpoint string) {
	c.cacheMisses.WithLabelValues(endpoint).Inc()
}

// RecordDBConnections sets the current open/idle connection gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records one query's duration.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusCode buckets an HTTP status into its class (2xx/3xx/4xx/5xx).
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
