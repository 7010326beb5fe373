// Package metrics 汇总缓存命中、出站请求与代理池状态的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector 同时实现 cache.Metrics 与 upstream.Observer，可并发使用。
type Collector struct {
	cacheRequests      *prometheus.CounterVec
	cacheFetchFailures *prometheus.CounterVec
	upstreamRequests   *prometheus.CounterVec
	upstreamRetries    *prometheus.CounterVec

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// NewCollector 使用独立 Registry 创建收集器，避免与全局默认 Registry 冲突。
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.NewRegistry())
}

// NewCollectorWithRegistry 在给定 Registry 上注册全部指标。
func NewCollectorWithRegistry(registry *prometheus.Registry) *Collector {
	factory := promauto.With(registry)
	return &Collector{
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapn_cache_requests_total",
				Help: "Cache lookups partitioned by result (hit, miss, shared)",
			},
			[]string{"cache", "result"},
		),
		cacheFetchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapn_cache_fetch_failures_total",
				Help: "Failed upstream fetches triggered by a cache miss",
			},
			[]string{"cache"},
		),
		upstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapn_upstream_requests_total",
				Help: "Outbound requests partitioned by egress path and outcome",
			},
			[]string{"egress", "outcome", "status_code"},
		),
		upstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapn_upstream_retries_total",
				Help: "Outbound retries after a failed attempt",
			},
			[]string{"reason"},
		),
		registerer: registry,
		gatherer:   registry,
	}
}

func (c *Collector) CacheHit(cache string) {
	c.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (c *Collector) CacheMiss(cache string) {
	c.cacheRequests.WithLabelValues(cache, "miss").Inc()
}

func (c *Collector) CacheShared(cache string) {
	c.cacheRequests.WithLabelValues(cache, "shared").Inc()
}

func (c *Collector) CacheFetchFailed(cache string) {
	c.cacheFetchFailures.WithLabelValues(cache).Inc()
}

// UpstreamRequest 记录一次出站尝试；statusCode 为 0 表示网络错误。
func (c *Collector) UpstreamRequest(egress string, outcome string, statusCode int) {
	if egress == "" {
		egress = "direct"
	}
	c.upstreamRequests.WithLabelValues(egress, outcome, strconv.Itoa(statusCode)).Inc()
}

// UpstreamRetry 记录一次重试及其原因。
func (c *Collector) UpstreamRetry(reason string) {
	c.upstreamRetries.WithLabelValues(reason).Inc()
}

// PoolCounter 由代理池实现。
type PoolCounter interface {
	Counts() (available, total int)
}

// WatchPool 注册代理池的可用/总数 Gauge，抓取时实时读取。
func (c *Collector) WatchPool(pool PoolCounter) {
	promauto.With(c.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scrapn_egress_available",
		Help: "Egress proxies currently eligible for selection",
	}, func() float64 {
		available, _ := pool.Counts()
		return float64(available)
	})
	promauto.With(c.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scrapn_egress_total",
		Help: "Configured egress proxies",
	}, func() float64 {
		_, total := pool.Counts()
		return float64(total)
	})
}

// WatchCacheSize 注册缓存条目数 Gauge。
func (c *Collector) WatchCacheSize(cache string, size func() int) {
	promauto.With(c.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "scrapn_cache_entries",
		Help:        "Entries currently held by a cache",
		ConstLabels: prometheus.Labels{"cache": cache},
	}, func() float64 {
		return float64(size())
	})
}

// Handler 返回 Prometheus 文本格式的抓取端点。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
