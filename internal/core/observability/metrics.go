// Package observability holds the process-wide Prometheus collectors of the monitor.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"upstream"},
	)

	pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by final status.",
		},
		[]string{"status"},
	)

	pipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Wall time of a full pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	pipelineMatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_matches",
			Help: "Matched dossiers in the most recent run.",
		},
	)

	layerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_failures_total",
			Help: "Optional inputs skipped, by failure kind.",
		},
		[]string{"kind", "layer"},
	)

	wfsFieldFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_field_fallbacks_total",
			Help: "WFS queries re-issued with the alternate geometry field.",
		},
		[]string{"layer"},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_ops_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_cache_lookups_total",
			Help: "Layer body cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_invalidations_total",
			Help: "Dataset-update events applied to the layer cache, by op and result.",
		},
		[]string{"op", "result"},
	)

	consumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Invalidation consumer failures by kind.",
		},
		[]string{"kind"},
	)

	evictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layer_eviction_duration_seconds",
			Help:    "Time spent handling one dataset-update message, by result.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"result"},
	)

	consumerLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Messages behind the partition high-water mark after the last handled message.",
		},
		[]string{"topic", "partition"},
	)

	enrichLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrich_lookups_total",
			Help: "Match annotation lookups by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	notifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_failures_total",
			Help: "Match notifications that could not be published.",
		},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveRun(status string, durationSeconds float64, matches int) {
	pipelineRuns.WithLabelValues(status).Inc()
	pipelineRunDuration.Observe(durationSeconds)
	pipelineMatches.Set(float64(matches))
}

func IncLayerFailure(kind, layer string) {
	layerFailures.WithLabelValues(kind, layer).Inc()
}

func IncFieldFallback(layer string) {
	wfsFieldFallbacks.WithLabelValues(layer).Inc()
}

func IncNotifyFailure() {
	notifyFailures.Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpsTotal.WithLabelValues(op, result).Inc()
	cacheOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

// result is "applied", "stale" or "error"
func ObserveInvalidation(op, result string) {
	invalidations.WithLabelValues(op, result).Inc()
}

func IncConsumerError(kind string) {
	consumerErrors.WithLabelValues(kind).Inc()
}

// result is "ok" or "error"
func ObserveEviction(result string, durationSeconds float64) {
	evictionDuration.WithLabelValues(result).Observe(durationSeconds)
}

func SetConsumerLag(topic string, partition int32, lag int64) {
	if lag < 0 {
		lag = 0
	}
	consumerLag.WithLabelValues(topic, strconv.Itoa(int(partition))).Set(float64(lag))
}

// outcome is "found", "missing" or "error"
func IncEnrichLookup(source, outcome string) {
	enrichLookups.WithLabelValues(source, outcome).Inc()
}

// tier is "memory" or "redis"
func AddCacheHit(tier string)  { cacheLookups.WithLabelValues(tier, "hit").Inc() }
func AddCacheMiss(tier string) { cacheLookups.WithLabelValues(tier, "miss").Inc() }

// NotifyFailures exposes the counter for assertions.
func NotifyFailures() prometheus.Counter { return notifyFailures }

// CacheLookups exposes one tier/outcome counter for assertions.
func CacheLookups(tier, outcome string) prometheus.Counter {
	return cacheLookups.WithLabelValues(tier, outcome)
}

func ConsumerLag(topic string, partition int32) prometheus.Gauge {
	return consumerLag.WithLabelValues(topic, strconv.Itoa(int(partition)))
}

func EnrichLookups(source, outcome string) prometheus.Counter {
	return enrichLookups.WithLabelValues(source, outcome)
}

// EvictionLatency is the collector behind ObserveEviction.
func EvictionLatency() prometheus.Collector { return evictionDuration }

// Collectors returns the pipeline collectors so the serve registry can re-expose them.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		pipelineRuns, pipelineRunDuration, pipelineMatches, layerFailures, wfsFieldFallbacks, notifyFailures,
		cacheOpsTotal, cacheOpDuration, cacheLookups, invalidations, consumerErrors,
		evictionDuration, consumerLag, enrichLookups,
	}
}
