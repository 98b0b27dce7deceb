package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal 按策略与来源统计被拦截的请求。
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_requests_total",
			Help: "Total number of intercepted requests by strategy and source",
		},
		[]string{"strategy", "source"}, // source: network, cache, offline
	)

	// StrategyFailures 统计没有兜底可用、最终以错误结束的请求。
	StrategyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_strategy_failures_total",
			Help: "Total number of requests that failed without a fallback",
		},
		[]string{"strategy"},
	)

	// StoreErrors 统计缓存读写错误。
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "match", "put"
	)

	// CacheBypasses 统计因会话或私有标记而未写入共享分区的响应。
	CacheBypasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_cache_bypass_total",
			Help: "Total number of upstream responses not written to a shared store",
		},
		[]string{"reason"}, // "set_cookie", "private", "no_store", "vary_all", "credentials", "status"
	)

	// BackgroundRefreshes 统计后台刷新结果。
	BackgroundRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgecache_background_refresh_total",
			Help: "Total number of background refreshes by outcome",
		},
		[]string{"outcome"}, // "stored", "skipped", "failed"
	)

	// UpstreamDuration 记录回源耗时。
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgecache_upstream_duration_seconds",
			Help:    "Upstream fetch duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
)
